package racing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AJM432/racing/pkg/apperr"
	"github.com/AJM432/racing/pkg/events"
	"github.com/AJM432/racing/pkg/imagestore"
	"github.com/AJM432/racing/pkg/leaderboard"
	"github.com/AJM432/racing/pkg/logger"
	"github.com/AJM432/racing/pkg/metrics"
	"github.com/AJM432/racing/pkg/model"
	"github.com/AJM432/racing/pkg/racetrack"
	"github.com/AJM432/racing/pkg/repository"
	"github.com/AJM432/racing/pkg/retry"
)

// Emitter queues domain events for publishing
type Emitter interface {
	Submit(ctx context.Context, e events.Event) error
}

// Detail is a racetrack together with its image re-encoded as a data URL
type Detail struct {
	model.Racetrack
	Image string `json:"image"`
}

// Service coordinates the racetrack store, the leaderboard engine and event publishing
type Service struct {
	logger  *logger.Logger
	store   *racetrack.Store
	engine  *leaderboard.Engine
	repo    repository.Repository
	emitter Emitter

	emitTimeout time.Duration
	retryOpts   retry.Options
}

// NewService creates a new racing service instance
func NewService(
	l *logger.Logger,
	store *racetrack.Store,
	engine *leaderboard.Engine,
	repo repository.Repository,
	emitter Emitter,
) *Service {
	return &Service{
		logger:      l,
		store:       store,
		engine:      engine,
		repo:        repo,
		emitter:     emitter,
		emitTimeout: 250 * time.Millisecond,
		retryOpts:   retry.DefaultOptions(),
	}
}

// Start rebuilds the in-memory state from the repository
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting racing service")

	err := retry.Do(ctx, func(ctx context.Context) error {
		return s.repo.Ping(ctx)
	}, s.retryOpts)
	if err != nil {
		return fmt.Errorf("repository unavailable: %w", err)
	}

	if err := s.store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load racetracks: %w", err)
	}
	if err := s.engine.Load(ctx); err != nil {
		return fmt.Errorf("failed to load leaderboards: %w", err)
	}
	return nil
}

// Ping reports whether the repository is reachable
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// emit never fails the caller; a committed mutation stays committed even if its event is lost
func (s *Service) emit(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.emitTimeout)
	defer cancel()

	if err := s.emitter.Submit(ctx, e); err != nil {
		metrics.EventsFailedTotal.Inc()
		s.logger.Warn("dropped event",
			zap.String("type", string(e.Type)),
			zap.String("racetrack_id", e.RacetrackID),
			zap.Error(err),
		)
	}
}

// reject counts a failed operation and logs unexpected ones
func (s *Service) reject(op string, err error) error {
	kind := apperr.KindOf(err)
	metrics.RejectedTotal.WithLabelValues(kind.String()).Inc()

	switch {
	case kind == apperr.KindStorage, kind == apperr.KindUnknown && !errors.Is(err, context.Canceled):
		s.logger.Error(op+" failed", err)
	default:
		s.logger.Debug(op+" rejected", zap.String("kind", kind.String()), zap.Error(err))
	}
	return err
}

func (s *Service) CreateRacetrack(ctx context.Context, p racetrack.CreateParams) (model.Racetrack, error) {
	r, err := s.store.Create(ctx, p)
	if err != nil {
		return model.Racetrack{}, s.reject("create racetrack", err)
	}
	s.emit(events.Created(r))
	return r, nil
}

func (s *Service) UpdateRacetrack(ctx context.Context, id string, p racetrack.UpdateParams) (model.Racetrack, error) {
	r, err := s.store.Update(ctx, id, p)
	if err != nil {
		return model.Racetrack{}, s.reject("update racetrack", err)
	}
	s.emit(events.Updated(r))
	return r, nil
}

// Racetrack returns one record with its image
func (s *Service) Racetrack(ctx context.Context, id string) (Detail, error) {
	r, image, err := s.store.WithImage(ctx, id)
	if err != nil {
		return Detail{}, s.reject("get racetrack", err)
	}
	return Detail{Racetrack: r, Image: image}, nil
}

func (s *Service) Racetracks(ctx context.Context) []model.Racetrack {
	return s.store.List(ctx)
}

func (s *Service) RacetracksByUsername(ctx context.Context, username string) ([]model.Racetrack, int) {
	return s.store.ListByUsername(ctx, username)
}

// Image returns the raw image bytes of a racetrack
func (s *Service) Image(ctx context.Context, id string) ([]byte, imagestore.Format, error) {
	data, format, err := s.store.Image(ctx, id)
	if err != nil {
		return nil, "", s.reject("get image", err)
	}
	return data, format, nil
}

// SubmitTime records a run and reports whether it is the user's new personal best
func (s *Service) SubmitTime(ctx context.Context, racetrackID, username string, value interface{}) (model.TimeEntry, bool, error) {
	entry, isNewRecord, err := s.engine.SubmitTime(ctx, racetrackID, username, value)
	if err != nil {
		return model.TimeEntry{}, false, s.reject("submit time", err)
	}
	if isNewRecord {
		s.logger.Info("new personal record",
			zap.String("racetrack_id", racetrackID),
			zap.String("username", username),
			zap.Float64("time", entry.Time),
		)
	}
	s.emit(events.Submitted(entry, isNewRecord))
	return entry, isNewRecord, nil
}

func (s *Service) Leaderboard(ctx context.Context, racetrackID string) (model.Leaderboard, error) {
	lb, err := s.engine.Leaderboard(ctx, racetrackID)
	if err != nil {
		return model.Leaderboard{}, s.reject("get leaderboard", err)
	}
	return lb, nil
}
