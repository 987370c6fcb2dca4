package repository

import (
	"context"

	"github.com/AJM432/racing/pkg/model"
)

// Repository persists racetracks and time entries so the in-memory store can be rebuilt on startup
type Repository interface {
	// SaveRacetrack inserts or replaces the record with the same ID
	SaveRacetrack(ctx context.Context, r model.Racetrack) error

	// SaveTimeEntry appends a time entry
	SaveTimeEntry(ctx context.Context, e model.TimeEntry) error

	// LoadRacetracks returns every stored racetrack ordered by creation sequence
	LoadRacetracks(ctx context.Context) ([]model.Racetrack, error)

	// LoadTimeEntries returns every stored time entry ordered by submission time
	LoadTimeEntries(ctx context.Context) ([]model.TimeEntry, error)

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error

	// Close releases the underlying connections
	Close() error
}

// Nop is a Repository that keeps nothing. Used by the memory storage backend.
type Nop struct{}

func (Nop) SaveRacetrack(ctx context.Context, r model.Racetrack) error { return nil }

func (Nop) SaveTimeEntry(ctx context.Context, e model.TimeEntry) error { return nil }

func (Nop) LoadRacetracks(ctx context.Context) ([]model.Racetrack, error) { return nil, nil }

func (Nop) LoadTimeEntries(ctx context.Context) ([]model.TimeEntry, error) { return nil, nil }

func (Nop) Ping(ctx context.Context) error { return nil }

func (Nop) Close() error { return nil }
