package leaderboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AJM432/racing/pkg/apperr"
	"github.com/AJM432/racing/pkg/keylock"
	"github.com/AJM432/racing/pkg/logger"
	"github.com/AJM432/racing/pkg/metrics"
	"github.com/AJM432/racing/pkg/model"
	"github.com/AJM432/racing/pkg/repository"
	"github.com/AJM432/racing/pkg/validation"
)

// Racetracks resolves racetrack ids. Satisfied by *racetrack.Store.
type Racetracks interface {
	Get(ctx context.Context, id string) (model.Racetrack, error)
}

// board holds the append-only entries of one racetrack plus each user's best time
type board struct {
	mu      sync.RWMutex
	entries []model.TimeEntry
	best    map[string]float64
}

func newBoard() *board {
	return &board{best: make(map[string]float64)}
}

func (b *board) add(e model.TimeEntry) {
	b.entries = append(b.entries, e)
	if best, ok := b.best[e.Username]; !ok || e.Time < best {
		b.best[e.Username] = e.Time
	}
}

// Engine accepts time submissions and ranks them per racetrack
type Engine struct {
	racetracks Racetracks
	locks      *keylock.Locker
	repo       repository.Repository
	logger     *logger.Logger

	mu     sync.RWMutex
	boards map[string]*board

	clock func() time.Time
	newID func() string
}

// NewEngine creates an Engine. locks must be the Locker used by the racetrack store so
// submissions and racetrack updates on the same id are serialized.
func NewEngine(racetracks Racetracks, repo repository.Repository, locks *keylock.Locker, l *logger.Logger) *Engine {
	return &Engine{
		racetracks: racetracks,
		locks:      locks,
		repo:       repo,
		logger:     l,
		boards:     make(map[string]*board),
		clock:      time.Now,
		newID:      model.NewID,
	}
}

// SetClock replaces the clock used for submittedAt
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// Load rebuilds every board from the repository. Entries of unknown racetracks are skipped.
func (e *Engine) Load(ctx context.Context) error {
	entries, err := e.repo.LoadTimeEntries(ctx)
	if err != nil {
		return apperr.Storage("failed to load time entries", err)
	}

	boards := make(map[string]*board)
	skipped := 0
	for _, entry := range entries {
		b, ok := boards[entry.RacetrackID]
		if !ok {
			if _, err := e.racetracks.Get(ctx, entry.RacetrackID); err != nil {
				skipped++
				continue
			}
			b = newBoard()
			boards[entry.RacetrackID] = b
		}
		b.add(entry)
	}

	e.mu.Lock()
	e.boards = boards
	e.mu.Unlock()

	if skipped > 0 {
		e.logger.Warn("skipped time entries of unknown racetracks", zap.Int("count", skipped))
	}
	e.logger.Info("time entries loaded", zap.Int("count", len(entries)-skipped), zap.Int("boards", len(boards)))
	return nil
}

func (e *Engine) board(id string, create bool) *board {
	e.mu.RLock()
	b, ok := e.boards[id]
	e.mu.RUnlock()
	if ok || !create {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.boards[id]; !ok {
		b = newBoard()
		e.boards[id] = b
	}
	return b
}

// SubmitTime records a run and reports whether it beats every earlier run of the same user
// on that racetrack. Unknown racetracks are reported before invalid times.
func (e *Engine) SubmitTime(ctx context.Context, racetrackID, username string, value interface{}) (model.TimeEntry, bool, error) {
	unlock := e.locks.Lock(racetrackID)
	defer unlock()

	if _, err := e.racetracks.Get(ctx, racetrackID); err != nil {
		return model.TimeEntry{}, false, err
	}
	t, err := validation.Time(value)
	if err != nil {
		return model.TimeEntry{}, false, err
	}

	b := e.board(racetrackID, true)

	b.mu.RLock()
	best, seen := b.best[username]
	b.mu.RUnlock()
	isNewRecord := !seen || t < best

	entry := model.TimeEntry{
		ID:          e.newID(),
		RacetrackID: racetrackID,
		Username:    username,
		Time:        t,
		SubmittedAt: e.clock(),
	}
	if err := e.repo.SaveTimeEntry(ctx, entry); err != nil {
		return model.TimeEntry{}, false, apperr.Storage("failed to persist time entry", err)
	}

	b.mu.Lock()
	b.add(entry)
	b.mu.Unlock()

	metrics.TimesSubmittedTotal.Inc()
	if isNewRecord {
		metrics.PersonalRecordsTotal.Inc()
	}
	e.logger.Debug("time submitted",
		zap.String("racetrack_id", racetrackID),
		zap.String("username", username),
		zap.Float64("time", t),
		zap.Bool("new_record", isNewRecord),
	)
	return entry, isNewRecord, nil
}

// Leaderboard ranks the best time of every user on a racetrack
func (e *Engine) Leaderboard(ctx context.Context, racetrackID string) (model.Leaderboard, error) {
	r, err := e.racetracks.Get(ctx, racetrackID)
	if err != nil {
		return model.Leaderboard{}, err
	}

	start := time.Now()
	var entries []model.TimeEntry
	if b := e.board(racetrackID, false); b != nil {
		b.mu.RLock()
		entries = make([]model.TimeEntry, len(b.entries))
		copy(entries, b.entries)
		b.mu.RUnlock()
	}

	rows := Rank(entries)
	metrics.LeaderboardBuildLatency.Observe(time.Since(start).Seconds())

	return model.Leaderboard{
		RacetrackID:   r.ID,
		RacetrackName: r.Name,
		Rows:          rows,
		TotalEntries:  len(rows),
	}, nil
}

// Entries returns a copy of every entry submitted for a racetrack, oldest first
func (e *Engine) Entries(ctx context.Context, racetrackID string) ([]model.TimeEntry, error) {
	if _, err := e.racetracks.Get(ctx, racetrackID); err != nil {
		return nil, err
	}
	b := e.board(racetrackID, false)
	if b == nil {
		return []model.TimeEntry{}, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.TimeEntry, len(b.entries))
	copy(out, b.entries)
	return out, nil
}

// Rank projects entries onto one row per username holding that user's best time.
// Rows are ordered by time, then by when the best time was first reached, then by username,
// and numbered densely from 1.
func Rank(entries []model.TimeEntry) []model.LeaderboardRow {
	type best struct {
		username string
		time     float64
		at       time.Time
	}

	byUser := make(map[string]*best)
	for _, e := range entries {
		b, ok := byUser[e.Username]
		switch {
		case !ok:
			byUser[e.Username] = &best{username: e.Username, time: e.Time, at: e.SubmittedAt}
		case e.Time < b.time:
			b.time, b.at = e.Time, e.SubmittedAt
		case e.Time == b.time && e.SubmittedAt.Before(b.at):
			b.at = e.SubmittedAt
		}
	}

	bests := make([]*best, 0, len(byUser))
	for _, b := range byUser {
		bests = append(bests, b)
	}
	sort.Slice(bests, func(i, j int) bool {
		a, b := bests[i], bests[j]
		if a.time != b.time {
			return a.time < b.time
		}
		if !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		return a.username < b.username
	})

	rows := make([]model.LeaderboardRow, len(bests))
	for i, b := range bests {
		rows[i] = model.LeaderboardRow{Rank: i + 1, Username: b.username, Time: b.time}
	}
	return rows
}
