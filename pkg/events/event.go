package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/AJM432/racing/pkg/model"
)

// Type names a domain event
type Type string

const (
	RacetrackCreated Type = "racetrack.created"
	RacetrackUpdated Type = "racetrack.updated"
	TimeSubmitted    Type = "time.submitted"
)

// Event is published after a mutation has been committed
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	RacetrackID string    `json:"racetrack_id"`
	Username    string    `json:"username,omitempty"`
	Name        string    `json:"name,omitempty"`
	Time        *float64  `json:"time,omitempty"`
	NewRecord   *bool     `json:"new_record,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Key partitions events by racetrack so consumers see one track's events in order
func (e Event) Key() []byte {
	return []byte(e.RacetrackID)
}

func newEvent(t Type, racetrackID string, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, RacetrackID: racetrackID, OccurredAt: at}
}

// Created describes a new racetrack
func Created(r model.Racetrack) Event {
	e := newEvent(RacetrackCreated, r.ID, r.UploadedAt)
	e.Username = r.Username
	e.Name = r.Name
	return e
}

// Updated describes a replaced image or start position
func Updated(r model.Racetrack) Event {
	e := newEvent(RacetrackUpdated, r.ID, r.UpdatedAt)
	e.Username = r.Username
	e.Name = r.Name
	return e
}

// Submitted describes an accepted time entry
func Submitted(entry model.TimeEntry, newRecord bool) Event {
	e := newEvent(TimeSubmitted, entry.RacetrackID, entry.SubmittedAt)
	e.Username = entry.Username
	t := entry.Time
	e.Time = &t
	e.NewRecord = &newRecord
	return e
}
