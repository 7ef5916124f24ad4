package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Shape tells which storage format a decoded payload arrived in.
type Shape int

const (
	// ShapeCurrent is date -> per-facility flags.
	ShapeCurrent Shape = iota
	// ShapeLegacy is date -> single visit count without a facility breakdown.
	ShapeLegacy
)

func (s Shape) String() string {
	if s == ShapeLegacy {
		return "legacy"
	}
	return "current"
}

// LegacyRecord is the earlier storage format: one number per date.
type LegacyRecord map[Date]float64

// RecordPayload is a visit record as received from a client or a store, in
// either shape. The shape is decided once, when the payload is decoded.
type RecordPayload struct {
	Shape   Shape
	Current VisitRecord
	Legacy  LegacyRecord
}

// CurrentPayload wraps an already current-shape record.
func CurrentPayload(r VisitRecord) RecordPayload {
	return RecordPayload{Shape: ShapeCurrent, Current: r}
}

// LegacyPayload wraps a legacy-shape record.
func LegacyPayload(r LegacyRecord) RecordPayload {
	return RecordPayload{Shape: ShapeLegacy, Legacy: r}
}

// Len returns the number of dates carried by the payload.
func (p RecordPayload) Len() int {
	if p.Shape == ShapeLegacy {
		return len(p.Legacy)
	}
	return len(p.Current)
}

// Normalize returns the payload as a current-shape record. It never fails and
// is idempotent: normalizing the result again yields an equal record.
func (p RecordPayload) Normalize() VisitRecord {
	if p.Shape == ShapeLegacy {
		return NormalizeLegacy(p.Legacy)
	}
	out := make(VisitRecord, len(p.Current))
	for d, e := range p.Current {
		out[d] = e.Clamp()
	}
	return out
}

// NormalizeLegacy upgrades a legacy record. A positive count becomes a visit to
// the first facility; the legacy format cannot attribute visits to any other.
func NormalizeLegacy(l LegacyRecord) VisitRecord {
	out := make(VisitRecord, len(l))
	for d, v := range l {
		var e DailyEntry
		if v > 0 {
			e[FacilityARC] = 1
		}
		out[d] = e
	}
	return out
}

// MarshalJSON encodes the payload in its own shape.
func (p RecordPayload) MarshalJSON() ([]byte, error) {
	if p.Shape == ShapeLegacy {
		if p.Legacy == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(map[Date]float64(p.Legacy))
	}
	if p.Current == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Current)
}

// UnmarshalJSON decides the payload shape from the entry values: numbers mean
// legacy, objects mean current. Every entry must agree. null and {} decode to
// an empty current record.
func (p *RecordPayload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: visits must be an object keyed by date: %v", ErrInvalidInput, err)
	}
	shape, err := detectShape(raw)
	if err != nil {
		return err
	}
	switch shape {
	case ShapeLegacy:
		legacy := make(LegacyRecord, len(raw))
		for k, v := range raw {
			d, err := ParseDate(k)
			if err != nil {
				return err
			}
			var n float64
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("%w: legacy count for %s: %v", ErrInvalidInput, k, err)
			}
			legacy[d] = n
		}
		*p = LegacyPayload(legacy)
	default:
		var current VisitRecord
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current == nil {
			current = NewVisitRecord()
		}
		*p = CurrentPayload(current)
	}
	return nil
}

func detectShape(raw map[string]json.RawMessage) (Shape, error) {
	var seenLegacy, seenCurrent bool
	for k, v := range raw {
		switch kindOf(v) {
		case '{':
			seenCurrent = true
		case 'n':
			seenLegacy = true
		default:
			return ShapeCurrent, fmt.Errorf("%w: entry for %s is neither a count nor an object", ErrInvalidInput, k)
		}
	}
	if seenLegacy && seenCurrent {
		return ShapeCurrent, fmt.Errorf("%w: record mixes legacy and current entries", ErrInvalidInput)
	}
	if seenLegacy {
		return ShapeLegacy, nil
	}
	return ShapeCurrent, nil
}

// kindOf classifies a raw JSON value: '{' for objects, 'n' for numbers and 0
// for anything else, null included.
func kindOf(v json.RawMessage) byte {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return 0
	}
	switch c := v[0]; {
	case c == '{':
		return '{'
	case c == '-' || (c >= '0' && c <= '9'):
		return 'n'
	default:
		return 0
	}
}

// DecodeRecord decodes stored bytes in either shape and normalizes them. The
// returned shape lets callers notice rows still stored in the legacy format.
func DecodeRecord(data []byte) (VisitRecord, Shape, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewVisitRecord(), ShapeCurrent, nil
	}
	var p RecordPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ShapeCurrent, err
	}
	return p.Normalize(), p.Shape, nil
}

// EncodeRecord encodes r in the current shape, dropping dates without visits.
func EncodeRecord(r VisitRecord) ([]byte, error) {
	return json.Marshal(r.Compact())
}
