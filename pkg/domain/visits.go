package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// FacilityCount is the number of tracked facilities. DailyEntry is sized by it.
const FacilityCount = 2

// Facility identifies one tracked location by its index in Facilities.
type Facility int

const (
	// FacilityARC is the Activities & Recreation Center.
	FacilityARC Facility = iota
	// FacilityCRCE is the Campus Recreation Center East.
	FacilityCRCE
)

// FacilityInfo describes a tracked facility. Code is the JSON field name used
// for the facility in a wire-encoded DailyEntry.
type FacilityInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Facilities lists tracked facilities in index order.
var Facilities = [FacilityCount]FacilityInfo{
	FacilityARC:  {Code: "ARC", Name: "Activities & Recreation Center (ARC)"},
	FacilityCRCE: {Code: "CRCE", Name: "Campus Recreation Center East (CRCE)"},
}

// AllFacilities returns every tracked facility in index order.
func AllFacilities() []Facility {
	out := make([]Facility, FacilityCount)
	for i := range out {
		out[i] = Facility(i)
	}
	return out
}

// Valid reports whether f indexes a tracked facility.
func (f Facility) Valid() bool { return f >= 0 && int(f) < FacilityCount }

// Code returns the facility's wire code, or "" for an invalid facility.
func (f Facility) Code() string {
	if !f.Valid() {
		return ""
	}
	return Facilities[f].Code
}

// Name returns the facility's display name.
func (f Facility) Name() string {
	if !f.Valid() {
		return ""
	}
	return Facilities[f].Name
}

func (f Facility) String() string { return f.Code() }

// FacilityByCode resolves a wire code (case-sensitive) or a display name.
func FacilityByCode(code string) (Facility, bool) {
	for i, info := range Facilities {
		if info.Code == code || info.Name == code {
			return Facility(i), true
		}
	}
	return 0, false
}

// DailyEntry holds one visit flag per facility. Every flag is 0 or 1.
type DailyEntry [FacilityCount]int

// Visited reports whether facility f was visited.
func (e DailyEntry) Visited(f Facility) bool { return f.Valid() && e[f] > 0 }

// Any reports whether at least one facility was visited.
func (e DailyEntry) Any() bool {
	for _, v := range e {
		if v > 0 {
			return true
		}
	}
	return false
}

// Clamp forces every flag to 0 or 1.
func (e DailyEntry) Clamp() DailyEntry {
	for i, v := range e {
		e[i] = flag(v)
	}
	return e
}

// Union returns the per-facility sticky-true union of e and other.
func (e DailyEntry) Union(other DailyEntry) DailyEntry {
	var out DailyEntry
	for i := range out {
		if e[i] > 0 || other[i] > 0 {
			out[i] = 1
		}
	}
	return out
}

// MarshalJSON encodes the entry as an object keyed by facility code.
func (e DailyEntry) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, info := range Facilities {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:%d", info.Code, flag(e[i]))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keyed by facility code. Absent facilities
// default to 0, positive counts clamp to 1 and unknown keys are ignored.
func (e *DailyEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: daily entry: %v", ErrInvalidInput, err)
	}
	var out DailyEntry
	for code, v := range raw {
		if f, ok := FacilityByCode(code); ok && v > 0 {
			out[f] = 1
		}
	}
	*e = out
	return nil
}

func flag(v int) int {
	if v > 0 {
		return 1
	}
	return 0
}

// VisitRecord maps calendar dates to the facilities visited on that date.
type VisitRecord map[Date]DailyEntry

// NewVisitRecord returns an empty record.
func NewVisitRecord() VisitRecord { return make(VisitRecord) }

// Clone returns an independent copy of r. A nil record clones to an empty one.
func (r VisitRecord) Clone() VisitRecord {
	out := make(VisitRecord, len(r))
	for d, e := range r {
		out[d] = e
	}
	return out
}

// Mark flags facility f as visited on date d. Repeated marks collapse to one
// flag, matching how duplicate access-log rows are treated.
func (r VisitRecord) Mark(d Date, f Facility) {
	if !f.Valid() {
		return
	}
	e := r[d]
	e[f] = 1
	r[d] = e
}

// Dates returns the record's dates in ascending calendar order.
func (r VisitRecord) Dates() []Date {
	out := make([]Date, 0, len(r))
	for d := range r {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Compact returns a copy without entries that record no visit.
func (r VisitRecord) Compact() VisitRecord {
	out := make(VisitRecord, len(r))
	for d, e := range r {
		if e.Any() {
			out[d] = e.Clamp()
		}
	}
	return out
}

// Equal reports whether both records hold the same dates and flags.
func (r VisitRecord) Equal(other VisitRecord) bool {
	if len(r) != len(other) {
		return false
	}
	for d, e := range r {
		o, ok := other[d]
		if !ok || o != e {
			return false
		}
	}
	return true
}

// Validate checks every key is a canonical date and every flag is 0 or 1.
func (r VisitRecord) Validate() error {
	for d, e := range r {
		if _, err := ParseDate(string(d)); err != nil {
			return err
		}
		if e != e.Clamp() {
			return fmt.Errorf("%w: entry for %s has a flag outside 0..1", ErrInvalidInput, d)
		}
	}
	return nil
}

// UnmarshalJSON decodes a current-shape record, rejecting non-canonical dates.
// Use RecordPayload to accept the legacy shape as well.
func (r *VisitRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]DailyEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(VisitRecord, len(raw))
	for k, e := range raw {
		d, err := ParseDate(k)
		if err != nil {
			return err
		}
		out[d] = e
	}
	*r = out
	return nil
}
