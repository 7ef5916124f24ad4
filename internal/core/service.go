package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"visitmap/internal/infra/persistence/memory"
	"visitmap/pkg/domain"
)

// Service exposes the load / merge-on-save / statistics operations over a
// VisitStore. It is safe for concurrent use when the store is.
type Service struct {
	store   domain.VisitStore
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.VisitStore, opts ...ServiceOption) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{
		store:   store,
		clock:   cfg.clock,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
	}
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.VisitStore {
	return s.store
}

// Today is the service clock's current calendar day.
func (s *Service) Today() domain.Date {
	return domain.DateOf(s.clock.Now())
}

// Summary is the per-facility statistics view of one stored record.
type Summary struct {
	NetID      string                   `json:"netId"`
	AsOf       domain.Date              `json:"asOf"`
	Facilities []domain.FacilitySummary `json:"facilities"`
}

// Load returns the stored record for id. A missing record is reported as
// domain.ErrNotFound; any other store failure as *domain.TransportError.
func (s *Service) Load(ctx context.Context, id string) (domain.VisitRecord, error) {
	var rec domain.VisitRecord
	err := s.run(ctx, "load_visits", id, func(ctx context.Context) error {
		var err error
		rec, err = s.load(ctx, id)
		return err
	})
	return rec, err
}

func (s *Service) load(ctx context.Context, id string) (domain.VisitRecord, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, classify("get", err)
	}
	return rec, nil
}

// Save merges payload into the stored record for id (creating it when absent)
// and returns the record as persisted.
func (s *Service) Save(ctx context.Context, id string, payload domain.RecordPayload) (domain.VisitRecord, error) {
	var saved domain.VisitRecord
	err := s.run(ctx, "save_visits", id, func(ctx context.Context) error {
		if err := validateID(id); err != nil {
			return err
		}
		incoming := payload.Normalize()
		if err := incoming.Validate(); err != nil {
			return err
		}
		rec, err := s.store.Update(ctx, id, func(current domain.VisitRecord, _ bool) (domain.VisitRecord, error) {
			return domain.Merge(current, incoming), nil
		})
		if err != nil {
			return classify("put", err)
		}
		saved = rec
		return nil
	})
	return saved, err
}

// Summary computes per-facility statistics for id as of asOf. A zero asOf
// means the service clock's now.
func (s *Service) Summary(ctx context.Context, id string, asOf time.Time) (Summary, error) {
	var out Summary
	err := s.run(ctx, "summarize_visits", id, func(ctx context.Context) error {
		rec, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		asOf = s.resolve(asOf)
		out = Summary{NetID: id, AsOf: domain.DateOf(asOf), Facilities: domain.Summarize(rec, asOf)}
		return nil
	})
	return out, err
}

// Calendar builds the season heatmap containing asOf for id.
func (s *Service) Calendar(ctx context.Context, id string, asOf time.Time) (domain.Calendar, error) {
	var cal domain.Calendar
	err := s.run(ctx, "calendar_visits", id, func(ctx context.Context) error {
		rec, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		cal = domain.BuildCalendar(rec, domain.SeasonFor(s.resolve(asOf)))
		return nil
	})
	return cal, err
}

// List returns every stored identifier. Backends that cannot enumerate their
// keys report errors.ErrUnsupported.
func (s *Service) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.run(ctx, "list_visits", "", func(ctx context.Context) error {
		lister, ok := s.store.(domain.VisitLister)
		if !ok {
			return fmt.Errorf("%w: %s store cannot list records", errors.ErrUnsupported, s.store.Driver())
		}
		var err error
		if ids, err = lister.List(ctx); err != nil {
			return classify("list", err)
		}
		return nil
	})
	return ids, err
}

// Delete removes the stored record for id. A missing record is reported as
// domain.ErrNotFound.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.run(ctx, "delete_visits", id, func(ctx context.Context) error {
		if err := validateID(id); err != nil {
			return err
		}
		deleter, ok := s.store.(domain.VisitDeleter)
		if !ok {
			return fmt.Errorf("%w: %s store cannot delete records", errors.ErrUnsupported, s.store.Driver())
		}
		if err := deleter.Delete(ctx, id); err != nil {
			return classify("delete", err)
		}
		return nil
	})
}

// Merge combines two payloads without touching the store.
func (s *Service) Merge(base, incoming domain.RecordPayload) domain.VisitRecord {
	return domain.MergePayloads(base, incoming)
}

func (s *Service) resolve(asOf time.Time) time.Time {
	if asOf.IsZero() {
		return s.clock.Now()
	}
	return asOf
}

// run wraps an operation with tracing, metrics and logging. NotFound is a
// distinguished outcome and counts as success.
func (s *Service) run(ctx context.Context, op, id string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	failure := err
	if domain.IsNotFound(err) {
		failure = nil
	}
	span.End(failure)
	s.metrics.Observe(ctx, op, failure == nil, time.Since(start))
	switch {
	case err == nil:
		s.logger.Debug("visits operation complete", "operation", op, "net_id", id)
	case domain.IsNotFound(err):
		s.logger.Info("no visits stored", "operation", op, "net_id", id)
	case errors.Is(err, domain.ErrInvalidInput):
		s.logger.Warn("rejected visits request", "operation", op, "net_id", id, "error", err)
	default:
		s.logger.Error("visits operation failed", "operation", op, "net_id", id, "driver", s.store.Driver(), "error", err)
	}
	return err
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: netId is required", domain.ErrInvalidInput)
	}
	return nil
}

// classify leaves domain outcomes untouched and wraps everything else as a
// transport failure of op.
func classify(op string, err error) error {
	if domain.IsNotFound(err) || errors.Is(err, domain.ErrInvalidInput) || domain.IsTransport(err) {
		return err
	}
	return &domain.TransportError{Op: op, Err: err}
}
