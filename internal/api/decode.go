package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/AJM432/racing/pkg/apperr"
	"github.com/AJM432/racing/pkg/racetrack"
)

// maxBodyBytes bounds request bodies; images arrive inline as data URLs
const maxBodyBytes = 16 << 20

// defaultUsername is used when a client sends no username
const defaultUsername = "anon goose"

var jsonNull = []byte("null")

type createRequest struct {
	Name     string          `json:"name"`
	Username string          `json:"username"`
	Image    string          `json:"image"`
	StartPos json.RawMessage `json:"start_pos"`
}

type updateRequest struct {
	Image    string          `json:"image"`
	StartPos json.RawMessage `json:"start_pos"`
}

type timeRequest struct {
	Username string          `json:"username"`
	Time     json.RawMessage `json:"time"`
}

func decodeBody(r *http.Request, w http.ResponseWriter, v interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// rawValue decodes an optional raw field into a generic value. It reports whether the
// field was present at all; a JSON null is present with a nil value.
// Numbers beyond the float64 range decode to ±Inf so validation rejects them as non-finite.
func rawValue(raw json.RawMessage) (value interface{}, present bool, err error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return nil, true, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return nil, true, err
	}
	value, err = toFloats(value)
	if err != nil {
		return nil, true, err
	}
	return value, true, nil
}

// toFloats replaces every json.Number in v with its float64 value
func toFloats(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return nil, err
		}
		return f, nil
	case []interface{}:
		for i, e := range t {
			f, err := toFloats(e)
			if err != nil {
				return nil, err
			}
			t[i] = f
		}
	case map[string]interface{}:
		for k, e := range t {
			f, err := toFloats(e)
			if err != nil {
				return nil, err
			}
			t[k] = f
		}
	}
	return v, nil
}

func (req createRequest) params() (racetrack.CreateParams, error) {
	startPos, _, err := rawValue(req.StartPos)
	if err != nil {
		return racetrack.CreateParams{}, apperr.InvalidStartPos("start position is not a valid value: " + err.Error())
	}
	username := req.Username
	if username == "" {
		username = defaultUsername
	}
	return racetrack.CreateParams{
		Name:     req.Name,
		Username: username,
		Image:    req.Image,
		StartPos: startPos,
	}, nil
}

// params maps an omitted start_pos to "unchanged" and an explicit null to "clear"
func (req updateRequest) params() (racetrack.UpdateParams, error) {
	startPos, present, err := rawValue(req.StartPos)
	if err != nil {
		return racetrack.UpdateParams{}, apperr.InvalidStartPos("start position is not a valid value: " + err.Error())
	}
	return racetrack.UpdateParams{
		Image:         req.Image,
		StartPos:      startPos,
		ClearStartPos: present && startPos == nil,
	}, nil
}
