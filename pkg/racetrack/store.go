package racetrack

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/AJM432/racing/pkg/apperr"
	"github.com/AJM432/racing/pkg/imagestore"
	"github.com/AJM432/racing/pkg/keylock"
	"github.com/AJM432/racing/pkg/logger"
	"github.com/AJM432/racing/pkg/metrics"
	"github.com/AJM432/racing/pkg/model"
	"github.com/AJM432/racing/pkg/repository"
	"github.com/AJM432/racing/pkg/validation"
)

// CreateParams are the caller-supplied fields of a new racetrack.
// StartPos is the raw decoded value; nil means unspecified.
type CreateParams struct {
	Name     string
	Username string
	Image    string
	StartPos interface{}
}

// UpdateParams carry a replacement image and an optional start position change.
// A nil StartPos leaves the current value unless ClearStartPos is set.
type UpdateParams struct {
	Image         string
	StartPos      interface{}
	ClearStartPos bool
}

// Store owns the racetrack records. Reads are served from memory; every mutation is
// written through to the repository before it becomes visible.
type Store struct {
	mu      sync.RWMutex
	records map[string]model.Racetrack
	order   []string // ids sorted by Seq

	seq    uint64
	locks  *keylock.Locker
	images *imagestore.Images
	repo   repository.Repository
	logger *logger.Logger

	clock func() time.Time
	newID func() string
}

// Option customises a Store
type Option func(*Store)

// WithClock replaces the wall clock used for timestamps
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithIDGenerator replaces the id generator
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// NewStore creates an empty Store. locks must be shared with anything else that mutates
// state keyed by racetrack id.
func NewStore(images *imagestore.Images, repo repository.Repository, locks *keylock.Locker, l *logger.Logger, opts ...Option) *Store {
	s := &Store{
		records: make(map[string]model.Racetrack),
		locks:   locks,
		images:  images,
		repo:    repo,
		logger:  l,
		clock:   time.Now,
		newID:   model.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory records with the repository contents
func (s *Store) Load(ctx context.Context) error {
	list, err := s.repo.LoadRacetracks(ctx)
	if err != nil {
		return apperr.Storage("failed to load racetracks", err)
	}

	records := make(map[string]model.Racetrack, len(list))
	order := make([]string, 0, len(list))
	var maxSeq uint64
	sort.SliceStable(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	for _, r := range list {
		if _, dup := records[r.ID]; dup {
			continue
		}
		records[r.ID] = r
		order = append(order, r.ID)
		if r.Seq > maxSeq {
			maxSeq = r.Seq
		}
	}

	s.mu.Lock()
	s.records = records
	s.order = order
	s.mu.Unlock()
	atomic.StoreUint64(&s.seq, maxSeq)

	s.logger.Info("racetracks loaded", zap.Int("count", len(order)))
	return nil
}

// Create validates the params, stores the image and commits a new record
func (s *Store) Create(ctx context.Context, p CreateParams) (model.Racetrack, error) {
	name, err := validation.Name(p.Name)
	if err != nil {
		return model.Racetrack{}, err
	}

	var startPos *model.StartPos
	if p.StartPos != nil {
		pos, err := validation.StartPos(p.StartPos)
		if err != nil {
			return model.Racetrack{}, err
		}
		startPos = &pos
	}

	locator, err := s.images.Store(ctx, p.Image)
	if err != nil {
		return model.Racetrack{}, err
	}

	now := s.clock()
	r := model.Racetrack{
		ID:         s.newID(),
		Name:       name,
		Username:   p.Username,
		ImageRef:   locator,
		StartPos:   startPos,
		UploadedAt: now,
		UpdatedAt:  now,
		Seq:        atomic.AddUint64(&s.seq, 1),
	}

	if err := s.repo.SaveRacetrack(ctx, r); err != nil {
		s.discard(locator)
		return model.Racetrack{}, apperr.Storage("failed to persist racetrack", err)
	}

	s.mu.Lock()
	s.records[r.ID] = r
	s.insertOrdered(r)
	s.mu.Unlock()

	metrics.RacetracksCreatedTotal.Inc()
	s.logger.Info("racetrack created",
		zap.String("racetrack_id", r.ID),
		zap.String("username", r.Username),
		zap.String("image_ref", locator),
	)
	return r.Clone(), nil
}

// insertOrdered keeps order sorted by Seq. Creates usually finish in Seq order, so this is an append.
// Caller holds s.mu.
func (s *Store) insertOrdered(r model.Racetrack) {
	i := sort.Search(len(s.order), func(i int) bool {
		return s.records[s.order[i]].Seq > r.Seq
	})
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = r.ID
}

// Update replaces the image (and optionally the start position) of an existing record.
// Name and username never change.
func (s *Store) Update(ctx context.Context, id string, p UpdateParams) (model.Racetrack, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, ok := s.lookup(id)
	if !ok {
		return model.Racetrack{}, apperr.NotFound("racetrack", id)
	}

	next := current.Clone()
	switch {
	case p.ClearStartPos:
		next.StartPos = nil
	case p.StartPos != nil:
		pos, err := validation.StartPos(p.StartPos)
		if err != nil {
			return model.Racetrack{}, err
		}
		next.StartPos = &pos
	}

	replacement, err := s.images.Replace(ctx, current.ImageRef, p.Image)
	if err != nil {
		return model.Racetrack{}, err
	}

	next.ImageRef = replacement.New
	next.UpdatedAt = s.clock()
	if next.UpdatedAt.Before(next.UploadedAt) {
		next.UpdatedAt = next.UploadedAt
	}

	if err := s.repo.SaveRacetrack(ctx, next); err != nil {
		if rbErr := replacement.Rollback(context.Background()); rbErr != nil {
			metrics.ImageCleanupErrorsTotal.Inc()
			s.logger.Warn("failed to remove image of rejected update", zap.String("locator", replacement.New), zap.Error(rbErr))
		}
		return model.Racetrack{}, apperr.Storage("failed to persist racetrack", err)
	}

	s.mu.Lock()
	s.records[id] = next
	s.mu.Unlock()

	if err := replacement.Commit(context.Background()); err != nil {
		metrics.ImageCleanupErrorsTotal.Inc()
		s.logger.Warn("failed to remove replaced image", zap.String("racetrack_id", id), zap.String("locator", replacement.Old), zap.Error(err))
	}

	metrics.RacetracksUpdatedTotal.Inc()
	s.logger.Info("racetrack updated", zap.String("racetrack_id", id), zap.String("image_ref", next.ImageRef))
	return next.Clone(), nil
}

func (s *Store) discard(locator string) {
	if err := s.images.Discard(context.Background(), locator); err != nil {
		metrics.ImageCleanupErrorsTotal.Inc()
		s.logger.Warn("failed to remove image of rejected create", zap.String("locator", locator), zap.Error(err))
	}
}

func (s *Store) lookup(id string) (model.Racetrack, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// Get returns the record with the given id
func (s *Store) Get(ctx context.Context, id string) (model.Racetrack, error) {
	r, ok := s.lookup(id)
	if !ok {
		return model.Racetrack{}, apperr.NotFound("racetrack", id)
	}
	return r.Clone(), nil
}

// List returns every racetrack in creation order
func (s *Store) List(ctx context.Context) []model.Racetrack {
	return s.filter(func(model.Racetrack) bool { return true })
}

// ListByUsername returns the racetracks created by username, in creation order, and their count
func (s *Store) ListByUsername(ctx context.Context, username string) ([]model.Racetrack, int) {
	list := s.filter(func(r model.Racetrack) bool { return r.Username == username })
	return list, len(list)
}

func (s *Store) filter(keep func(model.Racetrack) bool) []model.Racetrack {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]model.Racetrack, 0, len(s.order))
	for _, id := range s.order {
		if r := s.records[id]; keep(r) {
			list = append(list, r.Clone())
		}
	}
	return list
}

// Image returns the stored image bytes of a racetrack
func (s *Store) Image(ctx context.Context, id string) ([]byte, imagestore.Format, error) {
	_, data, format, err := s.snapshot(ctx, id)
	return data, format, err
}

// WithImage returns a record together with its image re-encoded as a data URL.
// Both come from the same committed version of the record.
func (s *Store) WithImage(ctx context.Context, id string) (model.Racetrack, string, error) {
	r, data, format, err := s.snapshot(ctx, id)
	if err != nil {
		return model.Racetrack{}, "", err
	}
	return r, imagestore.Encode(format, data), nil
}

// snapshot reads a record and the image it points at. An update may commit and delete
// the old image between the two reads; the read is then repeated against the newer record.
func (s *Store) snapshot(ctx context.Context, id string) (model.Racetrack, []byte, imagestore.Format, error) {
	r, ok := s.lookup(id)
	if !ok {
		return model.Racetrack{}, nil, "", apperr.NotFound("racetrack", id)
	}
	for {
		data, format, err := s.images.Load(ctx, r.ImageRef)
		if err == nil {
			return r.Clone(), data, format, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return model.Racetrack{}, nil, "", err
		}

		latest, ok := s.lookup(id)
		if !ok || latest.ImageRef == r.ImageRef {
			// the record still points at the missing image
			return model.Racetrack{}, nil, "", err
		}
		if err := ctx.Err(); err != nil {
			return model.Racetrack{}, nil, "", err
		}
		r = latest
	}
}

// Count returns the number of racetracks
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
