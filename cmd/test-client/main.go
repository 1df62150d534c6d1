package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/services"
)

// scenario is a short walk of one tracked worker: a critical violation, a
// repeat inside the interval, a partial fix, compliance and a relapse.
var scenario = []struct {
	offset time.Duration
	labels []string
	want   models.Reason
}{
	{0, nil, models.ReasonFirstDetection},
	{1 * time.Second, nil, models.ReasonNone},
	{2 * time.Second, []string{"helmet"}, models.ReasonSeverityChange},
	{10 * time.Second, []string{"helmet", "hi-vis vest"}, models.ReasonSessionEnd},
	{11 * time.Second, []string{"vest"}, models.ReasonStatusChange},
}

func main() {
	backendURL := pflag.String("url", "http://localhost:8080", "HTTP base url of the engine")
	grpcURL := pflag.String("grpc", "", "gRPC address; when set the scenario is sent over gRPC")
	source := pflag.String("source", "test-client", "source id of the replayed frames")
	track := pflag.Int64("track", 42, "track id of the replayed worker")
	pflag.Parse()

	fmt.Println("PPE compliance engine test client")
	fmt.Printf("Backend: %s\n", *backendURL)

	if err := testHealth(*backendURL); err != nil {
		fmt.Printf("✗ %v\n", err)
		os.Exit(1)
	}

	send := func(req models.FrameRequest) (models.FrameResult, error) {
		return postFrame(*backendURL, req)
	}
	if *grpcURL != "" {
		client, err := services.NewGRPCClient(*grpcURL)
		if err != nil {
			fmt.Printf("✗ %v\n", err)
			os.Exit(1)
		}
		defer client.Close()
		if !client.HealthCheck() {
			fmt.Println("✗ gRPC health check failed")
			os.Exit(1)
		}
		fmt.Println("✓ gRPC health check: SERVING")
		send = func(req models.FrameRequest) (models.FrameResult, error) {
			return client.Observe(context.Background(), req)
		}
	}

	failed := testScenario(send, *source, *track)
	if err := testStats(*backendURL); err != nil {
		fmt.Printf("✗ %v\n", err)
		failed++
	}

	if failed > 0 {
		fmt.Printf("\n%d check(s) failed\n", failed)
		os.Exit(1)
	}
	fmt.Println("\nAll checks passed")
}

func testHealth(baseURL string) error {
	fmt.Println("\n[TEST] Testing /api/health...")
	resp, err := http.Get(baseURL + "/api/health")
	if err != nil {
		return fmt.Errorf("health check failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("✓ Health check: %s\n", bytes.TrimSpace(body))
	return nil
}

func testScenario(send func(models.FrameRequest) (models.FrameResult, error), source string, track int64) int {
	fmt.Println("\n[TEST] Replaying violation scenario...")
	start := time.Now().UTC().Truncate(time.Second)
	failed := 0

	for i, step := range scenario {
		items := make([]models.DetectedItem, 0, len(step.labels))
		for _, l := range step.labels {
			items = append(items, models.DetectedItem{Label: l, Confidence: 0.9})
		}
		id := track
		req := models.FrameRequest{
			SourceID:       source,
			Timestamp:      start.Add(step.offset),
			SequenceNumber: int64(i + 1),
			Persons: []models.PersonDetection{{
				TrackID:    &id,
				Box:        models.Box{X: 100 + i*4, Y: 60, Width: 80, Height: 200},
				Confidence: 0.95,
				Items:      items,
			}},
		}

		res, err := send(req)
		if err != nil {
			fmt.Printf("✗ frame %d: %v\n", i+1, err)
			failed++
			continue
		}
		if len(res.Outcomes) == 0 {
			fmt.Printf("✗ frame %d: no outcomes\n", i+1)
			failed++
			continue
		}
		out := res.Outcomes[0]
		if out.Error != "" {
			fmt.Printf("✗ frame %d rejected: %s\n", i+1, out.Error)
			failed++
			continue
		}
		mark := "✓"
		if out.Decision.Reason != step.want {
			mark = "✗"
			failed++
		}
		fmt.Printf("%s t+%-4s missing=%v record=%v reason=%q (want %q) session=%s\n",
			mark, step.offset, out.Compliance.MissingTypes,
			out.Decision.ShouldRecord, out.Decision.Reason, step.want, out.Decision.SessionID)
	}
	return failed
}

func postFrame(baseURL string, req models.FrameRequest) (models.FrameResult, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return models.FrameResult{}, err
	}
	resp, err := http.Post(baseURL+"/api/frames", "application/json", bytes.NewReader(data))
	if err != nil {
		return models.FrameResult{}, fmt.Errorf("submit frame: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return models.FrameResult{}, fmt.Errorf("submit frame: status %d, body: %s", resp.StatusCode, body)
	}
	var res models.FrameResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return models.FrameResult{}, fmt.Errorf("decode frame result: %v", err)
	}
	if len(res.Outcomes) == 0 {
		return models.FrameResult{}, fmt.Errorf("frame result has no outcomes")
	}
	return res, nil
}

func testStats(baseURL string) error {
	fmt.Println("\n[TEST] Testing /api/stats...")
	resp, err := http.Get(baseURL + "/api/stats")
	if err != nil {
		return fmt.Errorf("stats failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Engine models.Stats `json:"engine"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode stats: %v", err)
	}
	s := body.Engine
	fmt.Printf("✓ frames=%d observations=%d records=%d rate=%.2f active=%d expired=%d\n",
		s.Frames, s.Observations, s.Records, s.RecordingRate, s.ActiveSessions, s.SessionsExpired)
	for _, r := range models.Reasons {
		fmt.Printf("    %-17s %d\n", r, s.RecordsByReason[r])
	}
	return nil
}
