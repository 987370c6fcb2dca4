package model

import (
	"time"

	"github.com/segmentio/ksuid"
)

// StartPos is a validated [x, y] start coordinate on a racetrack image
type StartPos [2]float64

// Racetrack is the stored record of a user-submitted track image
type Racetrack struct {
	ID         string    `json:"id" msgpack:"id" bson:"_id"`
	Name       string    `json:"name" msgpack:"name" bson:"name"`
	Username   string    `json:"username" msgpack:"username" bson:"username"`
	ImageRef   string    `json:"saved_file" msgpack:"image_ref" bson:"image_ref"`
	StartPos   *StartPos `json:"start_pos" msgpack:"start_pos" bson:"start_pos"`
	UploadedAt time.Time `json:"uploaded_at" msgpack:"uploaded_at" bson:"uploaded_at"`
	UpdatedAt  time.Time `json:"updated_at" msgpack:"updated_at" bson:"updated_at"`

	// Seq is the creation order, kept so listings survive a reload in the same order.
	Seq uint64 `json:"-" msgpack:"seq" bson:"seq"`
}

// TimeEntry is one submitted run against a racetrack
type TimeEntry struct {
	ID          string    `json:"id" msgpack:"id" bson:"_id"`
	RacetrackID string    `json:"racetrack_id" msgpack:"racetrack_id" bson:"racetrack_id"`
	Username    string    `json:"username" msgpack:"username" bson:"username"`
	Time        float64   `json:"time" msgpack:"time" bson:"time"`
	SubmittedAt time.Time `json:"submitted_at" msgpack:"submitted_at" bson:"submitted_at"`
}

// LeaderboardRow is one ranked line of a leaderboard
type LeaderboardRow struct {
	Rank     int     `json:"rank"`
	Username string  `json:"username"`
	Time     float64 `json:"time"`
}

// Leaderboard is the ranked, one-row-per-user view of a racetrack's best times
type Leaderboard struct {
	RacetrackID   string           `json:"racetrack_id"`
	RacetrackName string           `json:"racetrack_name"`
	Rows          []LeaderboardRow `json:"leaderboard"`
	TotalEntries  int              `json:"total_entries"`
}

// NewID returns a fresh, time-ordered unique identifier
func NewID() string {
	return ksuid.New().String()
}

// Clone returns a copy that shares no memory with r
func (r Racetrack) Clone() Racetrack {
	if r.StartPos != nil {
		pos := *r.StartPos
		r.StartPos = &pos
	}
	return r
}
