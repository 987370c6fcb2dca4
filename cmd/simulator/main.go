package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/AJM432/racing/pkg/imagestore"
	"github.com/AJM432/racing/pkg/logger"
)

type racetrackRequest struct {
	Name     string     `json:"name"`
	Username string     `json:"username"`
	Image    string     `json:"image"`
	StartPos [2]float64 `json:"start_pos"`
}

type timeRequest struct {
	Username string  `json:"username"`
	Time     float64 `json:"time"`
}

type created struct {
	Racetrack struct {
		ID string `json:"id"`
	} `json:"racetrack"`
}

type timeResult struct {
	IsNewRecord bool `json:"is_new_record"`
}

// placeholderImage is a 1x1 transparent PNG
var placeholderImage = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

type simulator struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

func main() {
	baseURL := flag.String("url", "http://localhost:5000", "racing API base URL")
	tracks := flag.Int("tracks", 5, "number of racetracks to create")
	drivers := flag.Int("drivers", 10, "number of concurrent drivers")
	laps := flag.Int("laps", 20, "times submitted per driver per racetrack")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	l, err := logger.New(logger.Config{Level: *logLevel, ServiceName: "simulator"})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := &simulator{
		baseURL: *baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  l,
	}

	ids := make([]string, 0, *tracks)
	for i := 0; i < *tracks; i++ {
		id, err := sim.createRacetrack(ctx, i)
		if err != nil {
			l.Error("failed to create racetrack", err)
			os.Exit(1)
		}
		ids = append(ids, id)
	}
	l.Info("racetracks created", zap.Int("count", len(ids)))

	start := time.Now()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		sent    int
		records int
		failed  int
	)
	for d := 0; d < *drivers; d++ {
		wg.Add(1)
		go func(driver int) {
			defer wg.Done()
			username := fmt.Sprintf("driver_%d", driver)
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(driver)))

			for lap := 0; lap < *laps; lap++ {
				for _, id := range ids {
					if ctx.Err() != nil {
						return
					}
					isNew, err := sim.submitTime(ctx, id, username, 30+rng.Float64()*60)
					mu.Lock()
					sent++
					switch {
					case err != nil:
						failed++
					case isNew:
						records++
					}
					mu.Unlock()
					if err != nil {
						l.Warn("submit failed", zap.String("racetrack_id", id), zap.Error(err))
					}
				}
			}
		}(d)
	}
	wg.Wait()

	l.Info("simulation finished",
		zap.Int("submitted", sent),
		zap.Int("personal_records", records),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (s *simulator) createRacetrack(ctx context.Context, i int) (string, error) {
	req := racetrackRequest{
		Name:     fmt.Sprintf("Circuit %d", i+1),
		Username: fmt.Sprintf("builder_%d", rand.Intn(100)),
		Image:    imagestore.Encode(imagestore.PNG, placeholderImage),
		StartPos: [2]float64{float64(rand.Intn(800)), float64(rand.Intn(600))},
	}
	var resp created
	if err := s.post(ctx, "/api/racetracks", req, &resp); err != nil {
		return "", err
	}
	return resp.Racetrack.ID, nil
}

func (s *simulator) submitTime(ctx context.Context, id, username string, t float64) (bool, error) {
	var resp timeResult
	if err := s.post(ctx, "/api/racetracks/"+id+"/times", timeRequest{Username: username, Time: t}, &resp); err != nil {
		return false, err
	}
	return resp.IsNewRecord, nil
}

func (s *simulator) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: status %d: %s", http.MethodPost, path, resp.StatusCode, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
