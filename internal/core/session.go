package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"visitmap/pkg/domain"
)

// Session owns the in-memory record for one user. Uploads, remote loads and
// saves all fold into it with the per-facility union. A Session is not safe
// for concurrent use.
type Session struct {
	svc    *Service
	id     string
	record domain.VisitRecord
}

// NewSession starts an empty session for id.
func NewSession(svc *Service, id string) *Session {
	return &Session{svc: svc, id: id, record: domain.NewVisitRecord()}
}

// ID returns the identifier the session loads and saves under.
func (s *Session) ID() string { return s.id }

// Record returns a copy of the current in-memory record.
func (s *Session) Record() domain.VisitRecord { return s.record.Clone() }

// Ingest merges already-decoded payloads into the session record.
func (s *Session) Ingest(payloads ...domain.RecordPayload) {
	for _, p := range payloads {
		s.record = domain.Merge(s.record, p.Normalize())
	}
}

// IngestJSON decodes an uploaded document (legacy or current shape) and merges
// it. On error the record is unchanged.
func (s *Session) IngestJSON(data []byte) (domain.Shape, error) {
	var p domain.RecordPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, fmt.Errorf("parse upload: %w", err)
	}
	s.Ingest(p)
	return p.Shape, nil
}

// Load merges the stored record into the session. found is false when nothing
// is stored, which is not an error. On error the record is unchanged.
func (s *Session) Load(ctx context.Context) (found bool, err error) {
	remote, err := s.svc.Load(ctx, s.id)
	if domain.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.record = domain.Merge(s.record, remote)
	return true, nil
}

// Save persists the session record, merged with whatever is stored, and
// adopts the persisted result. On error the record is unchanged.
func (s *Session) Save(ctx context.Context) error {
	saved, err := s.svc.Save(ctx, s.id, domain.CurrentPayload(s.record))
	if err != nil {
		return err
	}
	s.record = saved
	return nil
}

// Summary computes per-facility statistics over the session record.
func (s *Session) Summary(asOf time.Time) []domain.FacilitySummary {
	return domain.Summarize(s.record, s.svc.resolve(asOf))
}

// Calendar builds the season heatmap containing asOf from the session record.
func (s *Session) Calendar(asOf time.Time) domain.Calendar {
	return domain.BuildCalendar(s.record, domain.SeasonFor(s.svc.resolve(asOf)))
}
