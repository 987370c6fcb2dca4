package api

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AJM432/racing/internal/racing"
	"github.com/AJM432/racing/pkg/apperr"
	"github.com/AJM432/racing/pkg/events"
	"github.com/AJM432/racing/pkg/imagestore"
	"github.com/AJM432/racing/pkg/keylock"
	"github.com/AJM432/racing/pkg/leaderboard"
	"github.com/AJM432/racing/pkg/logger"
	"github.com/AJM432/racing/pkg/model"
	"github.com/AJM432/racing/pkg/racetrack"
	"github.com/AJM432/racing/pkg/repository"
)

type discardEmitter struct{}

func (discardEmitter) Submit(ctx context.Context, e events.Event) error { return nil }

var (
	pngImage  = imagestore.Encode(imagestore.PNG, []byte("png-bytes"))
	jpegImage = imagestore.Encode(imagestore.JPEG, []byte("jpeg-bytes"))
)

func newTestRouter(t *testing.T, limiter *RateLimiter) http.Handler {
	t.Helper()
	fs, err := imagestore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	l := logger.NewNop()
	repo := repository.Nop{}
	locks := keylock.New()
	store := racetrack.NewStore(imagestore.New(fs), repo, locks, l)
	engine := leaderboard.NewEngine(store, repo, locks, l)
	svc := racing.NewService(l, store, engine, repo, discardEmitter{})
	require.NoError(t, svc.Start(context.Background()))

	return NewHandler(svc, l).Router(limiter)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func create(t *testing.T, h http.Handler, body map[string]interface{}) racing.Detail {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/racetracks", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[racetrackResponse](t, rec).Racetrack
}

func TestWelcome(t *testing.T) {
	h := newTestRouter(t, nil)
	rec := do(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to the Racetrack API!", rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateRacetrack(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/api/racetracks", map[string]interface{}{
		"name":      "Monaco",
		"username":  "alice",
		"image":     pngImage,
		"start_pos": []float64{12, 34.5},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[racetrackResponse](t, rec)
	assert.Equal(t, "Racetrack saved successfully", resp.Message)
	assert.NotEmpty(t, resp.Racetrack.ID)
	assert.Equal(t, "Monaco", resp.Racetrack.Name)
	assert.Equal(t, "alice", resp.Racetrack.Username)
	assert.Equal(t, pngImage, resp.Racetrack.Image)
	assert.Equal(t, ".png", resp.Racetrack.ImageRef[len(resp.Racetrack.ImageRef)-4:])
	require.NotNil(t, resp.Racetrack.StartPos)
	assert.Equal(t, model.StartPos{12, 34.5}, *resp.Racetrack.StartPos)
}

func TestCreateDefaultsUsername(t *testing.T) {
	h := newTestRouter(t, nil)
	rt := create(t, h, map[string]interface{}{"name": "Spa", "image": pngImage})
	assert.Equal(t, defaultUsername, rt.Username)
	assert.Nil(t, rt.StartPos)
}

func TestCreateRejections(t *testing.T) {
	h := newTestRouter(t, nil)

	tests := []struct {
		name   string
		body   interface{}
		status int
		kind   string
	}{
		{"malformed json", `{"name":`, http.StatusBadRequest, kindBadRequest},
		{"empty body", "", http.StatusBadRequest, kindBadRequest},
		{"empty name", map[string]interface{}{"name": "", "image": pngImage}, http.StatusBadRequest, apperr.KindInvalidName.String()},
		{"blank name", map[string]interface{}{"name": "   ", "image": pngImage}, http.StatusBadRequest, apperr.KindInvalidName.String()},
		{"short start_pos", map[string]interface{}{"name": "Spa", "image": pngImage, "start_pos": []float64{1}}, http.StatusBadRequest, apperr.KindInvalidStartPos.String()},
		{"text start_pos", map[string]interface{}{"name": "Spa", "image": pngImage, "start_pos": []string{"a", "b"}}, http.StatusBadRequest, apperr.KindInvalidStartPos.String()},
		{"bad image", map[string]interface{}{"name": "Spa", "image": "not a data url"}, http.StatusBadRequest, apperr.KindDecodeFailure.String()},
		{"unsupported format", map[string]interface{}{"name": "Spa", "image": "data:image/tiff;base64,AAAA"}, http.StatusBadRequest, apperr.KindDecodeFailure.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/racetracks", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.kind, decode[errorBody](t, rec).Kind)
		})
	}

	list := decode[listResponse](t, do(t, h, http.MethodGet, "/api/racetracks", nil))
	assert.Zero(t, list.Count)
}

func TestListAndGet(t *testing.T) {
	h := newTestRouter(t, nil)
	a := create(t, h, map[string]interface{}{"name": "A", "username": "alice", "image": pngImage})
	b := create(t, h, map[string]interface{}{"name": "B", "username": "bob", "image": jpegImage})
	c := create(t, h, map[string]interface{}{"name": "C", "username": "alice", "image": pngImage})

	list := decode[listResponse](t, do(t, h, http.MethodGet, "/api/racetracks", nil))
	require.Equal(t, 3, list.Count)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{list.Racetracks[0].ID, list.Racetracks[1].ID, list.Racetracks[2].ID})

	mine := decode[listResponse](t, do(t, h, http.MethodGet, "/api/users/alice/racetracks", nil))
	assert.Equal(t, 2, mine.Count)

	nobody := decode[listResponse](t, do(t, h, http.MethodGet, "/api/users/nobody/racetracks", nil))
	assert.Zero(t, nobody.Count)

	rec := do(t, h, http.MethodGet, "/api/racetracks/"+b.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[racetrackResponse](t, rec).Racetrack
	assert.Equal(t, jpegImage, got.Image)
	assert.Equal(t, b.ImageRef, got.ImageRef)

	rec = do(t, h, http.MethodGet, "/api/racetracks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.KindNotFound.String(), decode[errorBody](t, rec).Kind)
}

func TestGetImage(t *testing.T) {
	h := newTestRouter(t, nil)
	rt := create(t, h, map[string]interface{}{"name": "Spa", "image": jpegImage})

	rec := do(t, h, http.MethodGet, "/api/racetracks/"+rt.ID+"/image", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "jpeg-bytes", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/racetracks/missing/image", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateRacetrack(t *testing.T) {
	h := newTestRouter(t, nil)
	rt := create(t, h, map[string]interface{}{"name": "Spa", "username": "alice", "image": pngImage, "start_pos": []float64{1, 2}})
	path := "/api/racetracks/" + rt.ID

	t.Run("omitted start_pos is kept", func(t *testing.T) {
		rec := do(t, h, http.MethodPut, path, map[string]interface{}{"image": jpegImage})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[racetrackResponse](t, rec)
		assert.Equal(t, "Racetrack updated successfully", resp.Message)
		require.NotNil(t, resp.Racetrack.StartPos)
		assert.Equal(t, model.StartPos{1, 2}, *resp.Racetrack.StartPos)
		assert.Equal(t, jpegImage, resp.Racetrack.Image)
	})

	t.Run("name and username are ignored", func(t *testing.T) {
		rec := do(t, h, http.MethodPut, path, map[string]interface{}{"image": pngImage, "name": "Other", "username": "mallory"})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[racetrackResponse](t, rec)
		assert.Equal(t, "Spa", resp.Racetrack.Name)
		assert.Equal(t, "alice", resp.Racetrack.Username)
	})

	t.Run("null start_pos clears", func(t *testing.T) {
		rec := do(t, h, http.MethodPut, path, `{"image":"`+pngImage+`","start_pos":null}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, decode[racetrackResponse](t, rec).Racetrack.StartPos)
	})

	t.Run("invalid start_pos leaves record untouched", func(t *testing.T) {
		before := decode[racetrackResponse](t, do(t, h, http.MethodGet, path, nil)).Racetrack

		rec := do(t, h, http.MethodPut, path, map[string]interface{}{"image": jpegImage, "start_pos": []interface{}{1, "x"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		after := decode[racetrackResponse](t, do(t, h, http.MethodGet, path, nil)).Racetrack
		assert.Equal(t, before, after)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := do(t, h, http.MethodPut, "/api/racetracks/missing", map[string]interface{}{"image": pngImage})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTimesAndLeaderboard(t *testing.T) {
	h := newTestRouter(t, nil)
	rt := create(t, h, map[string]interface{}{"name": "Suzuka", "image": pngImage})
	times := "/api/racetracks/" + rt.ID + "/times"

	submit := func(username string, tm interface{}) timeResponse {
		rec := do(t, h, http.MethodPost, times, map[string]interface{}{"username": username, "time": tm})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[timeResponse](t, rec)
	}

	assert.True(t, submit("alice", 10.0).IsNewRecord)
	assert.True(t, submit("alice", 9.5).IsNewRecord)
	assert.False(t, submit("alice", 9.8).IsNewRecord)
	assert.True(t, submit("bob", 9.5).IsNewRecord)
	assert.True(t, submit("carol", 12).IsNewRecord)

	rec := do(t, h, http.MethodGet, "/api/racetracks/"+rt.ID+"/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lb := decode[model.Leaderboard](t, rec)
	assert.Equal(t, "Suzuka", lb.RacetrackName)
	assert.Equal(t, 3, lb.TotalEntries)
	assert.Equal(t, []model.LeaderboardRow{
		{Rank: 1, Username: "alice", Time: 9.5},
		{Rank: 2, Username: "bob", Time: 9.5},
		{Rank: 3, Username: "carol", Time: 12},
	}, lb.Rows)

	again := do(t, h, http.MethodGet, "/api/racetracks/"+rt.ID+"/leaderboard", nil)
	assert.Equal(t, rec.Body.String(), again.Body.String())
}

func TestSubmitTimeRejections(t *testing.T) {
	h := newTestRouter(t, nil)
	rt := create(t, h, map[string]interface{}{"name": "Suzuka", "image": pngImage})
	times := "/api/racetracks/" + rt.ID + "/times"

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"negative", times, map[string]interface{}{"username": "alice", "time": -1}, http.StatusBadRequest},
		{"zero", times, map[string]interface{}{"username": "alice", "time": 0}, http.StatusBadRequest},
		{"text", times, map[string]interface{}{"username": "alice", "time": "fast"}, http.StatusBadRequest},
		{"missing", times, map[string]interface{}{"username": "alice"}, http.StatusBadRequest},
		{"malformed", times, `{"time":`, http.StatusBadRequest},
		{"unknown racetrack beats bad time", "/api/racetracks/missing/times", map[string]interface{}{"time": -1}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	lb := decode[model.Leaderboard](t, do(t, h, http.MethodGet, "/api/racetracks/"+rt.ID+"/leaderboard", nil))
	assert.Zero(t, lb.TotalEntries)
	assert.Empty(t, lb.Rows)
}

func TestSubmitTimeDefaultsUsername(t *testing.T) {
	h := newTestRouter(t, nil)
	rt := create(t, h, map[string]interface{}{"name": "Suzuka", "image": pngImage})

	rec := do(t, h, http.MethodPost, "/api/racetracks/"+rt.ID+"/times", map[string]interface{}{"time": 42.0})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, defaultUsername, decode[timeResponse](t, rec).Entry.Username)
}

func TestRateLimiter(t *testing.T) {
	rl, err := NewRateLimiter(1, 2, 16)
	require.NoError(t, err)
	h := newTestRouter(t, rl)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, h, http.MethodGet, "/api/racetracks", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// the welcome route is outside the limited group
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/", nil).Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	rl, err := NewRateLimiter(0, 0, 16)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.allow("10.0.0.1"))
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl, err := NewRateLimiter(1, 1, 16)
	require.NoError(t, err)
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"))
}

func TestPreflight(t *testing.T) {
	h := newTestRouter(t, nil)
	rec := do(t, h, http.MethodOptions, "/api/racetracks", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestWriteErrorHidesStorageDetails(t *testing.T) {
	h := NewHandler(nil, logger.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rec := httptest.NewRecorder()
	h.writeError(rec, req, apperr.Storage("failed to save racetrack", errors.New("pq: password authentication failed")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "storage unavailable", body.Error)
	assert.Equal(t, apperr.KindStorage.String(), body.Kind)

	rec = httptest.NewRecorder()
	h.writeError(rec, req, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, kindInternal, decode[errorBody](t, rec).Kind)
}

func TestRawValue(t *testing.T) {
	tests := []struct {
		raw     string
		value   interface{}
		present bool
	}{
		{"", nil, false},
		{"null", nil, true},
		{" null ", nil, true},
		{"1.5", 1.5, true},
		{`[1,2]`, []interface{}{1.0, 2.0}, true},
		{"1e999", math.Inf(1), true},
		{"-1e999", math.Inf(-1), true},
		{`[1e999, 2]`, []interface{}{math.Inf(1), 2.0}, true},
	}
	for _, tt := range tests {
		value, present, err := rawValue(json.RawMessage(tt.raw))
		require.NoError(t, err)
		assert.Equal(t, tt.value, value, tt.raw)
		assert.Equal(t, tt.present, present, tt.raw)
	}
}

func TestOverflowingNumbersAreFieldErrors(t *testing.T) {
	h := newTestRouter(t, nil)
	rt := create(t, h, map[string]interface{}{"name": "Suzuka", "image": pngImage})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		kind   apperr.Kind
		field  string
	}{
		{"create start_pos", http.MethodPost, "/api/racetracks",
			`{"name":"Spa","image":"` + pngImage + `","start_pos":[1e999,2]}`,
			http.StatusBadRequest, apperr.KindInvalidStartPos, "start_pos"},
		{"update start_pos", http.MethodPut, "/api/racetracks/" + rt.ID,
			`{"image":"` + pngImage + `","start_pos":[1,-1e999]}`,
			http.StatusBadRequest, apperr.KindInvalidStartPos, "start_pos"},
		{"time", http.MethodPost, "/api/racetracks/" + rt.ID + "/times",
			`{"username":"alice","time":1e999}`,
			http.StatusBadRequest, apperr.KindInvalidTime, "time"},
		{"time on unknown racetrack", http.MethodPost, "/api/racetracks/missing/times",
			`{"username":"alice","time":1e999}`,
			http.StatusNotFound, apperr.KindNotFound, "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.Equal(t, tt.kind.String(), body.Kind)
			assert.Equal(t, tt.field, body.Field)
		})
	}

	lb := decode[model.Leaderboard](t, do(t, h, http.MethodGet, "/api/racetracks/"+rt.ID+"/leaderboard", nil))
	assert.Zero(t, lb.TotalEntries)
}
