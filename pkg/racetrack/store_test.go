package racetrack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AJM432/racing/pkg/apperr"
	"github.com/AJM432/racing/pkg/imagestore"
	"github.com/AJM432/racing/pkg/keylock"
	"github.com/AJM432/racing/pkg/logger"
	"github.com/AJM432/racing/pkg/model"
	"github.com/AJM432/racing/pkg/repository"
)

var (
	pngImage = imagestore.Encode(imagestore.PNG, []byte("png-bytes"))
	gifImage = imagestore.Encode(imagestore.GIF, []byte("gif-bytes"))
)

// stepClock returns a clock that advances one second per call
func stepClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestStore(t *testing.T, repo repository.Repository) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := imagestore.NewFileStore(dir)
	require.NoError(t, err)
	return NewStore(imagestore.New(fs), repo, keylock.New(), logger.NewNop(), WithClock(stepClock())), dir
}

func imageCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

type MockRepository struct {
	mock.Mock
	repository.Nop
}

func (m *MockRepository) SaveRacetrack(ctx context.Context, r model.Racetrack) error {
	return m.Called(ctx, r).Error(0)
}

func TestCreateWithoutStartPos(t *testing.T) {
	s, _ := newTestStore(t, repository.Nop{})

	r, err := s.Create(context.Background(), CreateParams{Name: "Monaco", Username: "alice", Image: pngImage})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "Monaco", r.Name)
	assert.Equal(t, "alice", r.Username)
	assert.Nil(t, r.StartPos)
	assert.Equal(t, r.UploadedAt, r.UpdatedAt)
}

func TestGetEqualsCreate(t *testing.T) {
	s, _ := newTestStore(t, repository.Nop{})

	created, err := s.Create(context.Background(), CreateParams{
		Name: "  Spa  ", Username: "bob", Image: pngImage, StartPos: []interface{}{12.5, -3.0},
	})
	require.NoError(t, err)
	assert.Equal(t, "Spa", created.Name)

	got, err := s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	// returned records share no memory with the store
	created.StartPos[0] = 99
	got, err = s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 12.5, got.StartPos[0])
}

func TestCreateValidationOrder(t *testing.T) {
	s, dir := newTestStore(t, repository.Nop{})

	tests := []struct {
		name   string
		params CreateParams
		want   error
	}{
		{"blank name wins over everything", CreateParams{Name: " ", StartPos: "invalid", Image: "junk"}, apperr.ErrInvalidName},
		{"start pos before image", CreateParams{Name: "x", StartPos: []interface{}{1.0}, Image: "junk"}, apperr.ErrInvalidStartPos},
		{"bad image", CreateParams{Name: "x", Image: "data:image/tiff;base64,AAAA"}, apperr.ErrDecodeFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(context.Background(), tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, s.List(context.Background()))
	assert.Equal(t, 0, imageCount(t, dir))
}

func TestCreateStorageFailureLeavesNothing(t *testing.T) {
	repo := new(MockRepository)
	repo.On("SaveRacetrack", mock.Anything, mock.Anything).Return(errors.New("connection reset"))
	s, dir := newTestStore(t, repo)

	_, err := s.Create(context.Background(), CreateParams{Name: "x", Image: pngImage})
	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, 0, imageCount(t, dir))
	repo.AssertExpectations(t)
}

func TestListIsCreationOrdered(t *testing.T) {
	s, _ := newTestStore(t, repository.Nop{})
	ctx := context.Background()

	var ids []string
	for i, user := range []string{"alice", "bob", "alice", "carol"} {
		r, err := s.Create(ctx, CreateParams{Name: fmt.Sprintf("track-%d", i), Username: user, Image: pngImage})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	list := s.List(ctx)
	require.Len(t, list, 4)
	for i, r := range list {
		assert.Equal(t, ids[i], r.ID)
	}
	assert.Equal(t, list, s.List(ctx))

	mine, count := s.ListByUsername(ctx, "alice")
	assert.Equal(t, 2, count)
	assert.Equal(t, ids[0], mine[0].ID)
	assert.Equal(t, ids[2], mine[1].ID)

	none, count := s.ListByUsername(ctx, "Alice")
	assert.Empty(t, none)
	assert.Equal(t, 0, count)
}

func TestUpdate(t *testing.T) {
	s, dir := newTestStore(t, repository.Nop{})
	ctx := context.Background()

	created, err := s.Create(ctx, CreateParams{Name: "Monza", Username: "alice", Image: pngImage, StartPos: []interface{}{1.0, 2.0}})
	require.NoError(t, err)

	t.Run("omitted start pos is kept", func(t *testing.T) {
		updated, err := s.Update(ctx, created.ID, UpdateParams{Image: gifImage})
		require.NoError(t, err)
		assert.Equal(t, &model.StartPos{1, 2}, updated.StartPos)
		assert.NotEqual(t, created.ImageRef, updated.ImageRef)
		assert.True(t, updated.UpdatedAt.After(updated.UploadedAt))
		assert.Equal(t, created.UploadedAt, updated.UploadedAt)
		assert.Equal(t, "Monza", updated.Name)
		assert.Equal(t, 1, imageCount(t, dir))

		data, format, err := s.Image(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, imagestore.GIF, format)
		assert.Equal(t, []byte("gif-bytes"), data)
	})

	t.Run("new start pos replaces", func(t *testing.T) {
		updated, err := s.Update(ctx, created.ID, UpdateParams{Image: pngImage, StartPos: []interface{}{5, 6}})
		require.NoError(t, err)
		assert.Equal(t, &model.StartPos{5, 6}, updated.StartPos)
	})

	t.Run("clear start pos", func(t *testing.T) {
		updated, err := s.Update(ctx, created.ID, UpdateParams{Image: pngImage, ClearStartPos: true})
		require.NoError(t, err)
		assert.Nil(t, updated.StartPos)
	})

	t.Run("invalid start pos leaves record untouched", func(t *testing.T) {
		before, err := s.Get(ctx, created.ID)
		require.NoError(t, err)

		_, err = s.Update(ctx, created.ID, UpdateParams{Image: gifImage, StartPos: []interface{}{1, 2, 3}})
		assert.ErrorIs(t, err, apperr.ErrInvalidStartPos)

		_, err = s.Update(ctx, created.ID, UpdateParams{Image: "not an image", StartPos: []interface{}{1, 2}})
		assert.ErrorIs(t, err, apperr.ErrDecodeFailure)

		after, err := s.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.Equal(t, 1, imageCount(t, dir))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.Update(ctx, "missing", UpdateParams{Image: "not an image", StartPos: "bad"})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestUpdateStorageFailureKeepsOldImage(t *testing.T) {
	repo := new(MockRepository)
	repo.On("SaveRacetrack", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("SaveRacetrack", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	s, dir := newTestStore(t, repo)
	ctx := context.Background()

	created, err := s.Create(ctx, CreateParams{Name: "x", Image: pngImage})
	require.NoError(t, err)

	_, err = s.Update(ctx, created.ID, UpdateParams{Image: gifImage})
	assert.ErrorIs(t, err, apperr.ErrStorage)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Equal(t, 1, imageCount(t, dir))

	data, _, err := s.Image(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestGetUnknown(t *testing.T) {
	s, _ := newTestStore(t, repository.Nop{})

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, _, err = s.Image(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConcurrentUpdatesNeverTear(t *testing.T) {
	s, dir := newTestStore(t, repository.Nop{})
	ctx := context.Background()

	created, err := s.Create(ctx, CreateParams{Name: "x", Image: pngImage, StartPos: []interface{}{0, 0}})
	require.NoError(t, err)

	// even positions carry the png, odd ones the gif
	imageFor := func(i int) string {
		if i%2 == 0 {
			return pngImage
		}
		return gifImage
	}

	const updates = 2000
	done := make(chan struct{})
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reads    int
		failures []error
	)
	fail := func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				r, dataURL, err := s.WithImage(ctx, created.ID)
				if err != nil {
					fail(err)
					continue
				}
				format, _, err := imagestore.Decode(dataURL)
				if err != nil {
					fail(err)
					continue
				}
				refFormat, _ := imagestore.FormatFromLocator(r.ImageRef)
				if refFormat != format || dataURL != imageFor(int(r.StartPos[0])) {
					fail(fmt.Errorf("record %s at %v paired with %s image", r.ImageRef, *r.StartPos, format))
				}

				if _, _, err := s.Image(ctx, created.ID); err != nil {
					fail(err)
				}

				mu.Lock()
				reads++
				mu.Unlock()
			}
		}()
	}

	for i := 1; i <= updates; i++ {
		_, err := s.Update(ctx, created.ID, UpdateParams{Image: imageFor(i), StartPos: []interface{}{i, i}})
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()

	assert.Empty(t, failures)
	assert.Positive(t, reads)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StartPos{updates, updates}, *got.StartPos)
	assert.Equal(t, 1, imageCount(t, dir))
}

func TestWithImageUnknown(t *testing.T) {
	s, _ := newTestStore(t, repository.Nop{})
	_, _, err := s.WithImage(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestWithImageReportsMissingFile(t *testing.T) {
	s, dir := newTestStore(t, repository.Nop{})
	ctx := context.Background()

	created, err := s.Create(ctx, CreateParams{Name: "x", Image: pngImage})
	require.NoError(t, err)
	require.NoError(t, os.Remove(created.ImageRef))
	require.Equal(t, 0, imageCount(t, dir))

	_, _, err = s.WithImage(ctx, created.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLoadRestoresOrder(t *testing.T) {
	repo, err := repository.OpenBadger("", logger.NewNop())
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()

	first, _ := newTestStore(t, repo)
	var ids []string
	for i := 0; i < 3; i++ {
		r, err := first.Create(ctx, CreateParams{Name: fmt.Sprintf("t%d", i), Username: "u", Image: pngImage})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	second, _ := newTestStore(t, repo)
	require.NoError(t, second.Load(ctx))
	list := second.List(ctx)
	require.Len(t, list, 3)
	for i, r := range list {
		assert.Equal(t, ids[i], r.ID)
	}

	// new records continue after the loaded sequence
	r, err := second.Create(ctx, CreateParams{Name: "t3", Image: pngImage})
	require.NoError(t, err)
	assert.Equal(t, r.ID, second.List(ctx)[3].ID)
}
