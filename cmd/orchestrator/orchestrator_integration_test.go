//go:build integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mquinn/callboard/internal/config"
	"github.com/mquinn/callboard/internal/orchestrator"
	"github.com/mquinn/callboard/pkg/blackboard"
)

// setupRedis starts a Redis container for testing.
func setupRedis(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisURL := fmt.Sprintf("redis://%s:%s", host, port.Port())

	cleanup := func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}

	return redisURL, cleanup
}

func newTestClient(t *testing.T, redisURL, instanceName string) *blackboard.Client {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("Failed to parse Redis URL: %v", err)
	}

	client, err := blackboard.NewClient(opts, instanceName)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func testEngineConfig(t *testing.T) *config.CallboardConfig {
	tick := 1
	cfg := &config.CallboardConfig{
		Version: "1.0",
		Orchestrator: &config.OrchestratorConfig{
			SchedulerTickSeconds: &tick,
		},
		Budget: &config.BudgetConfig{
			DefaultTotal: 100,
			Currency:     "USD",
		},
		Workers: map[string]config.Worker{
			"script-agent": {
				TaskTypes: []string{"script.draft"},
				Image:     "callboard/script-agent:latest",
			},
		},
		Mappings: []config.TaskMapping{
			{
				Event:      "project.created",
				TaskType:   "script.draft",
				AssignedTo: "script-agent",
				Priority:   10,
			},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid test config: %v", err)
	}
	return cfg
}

// waitForEvent polls a project's log until an event of the wanted type appears.
func waitForEvent(t *testing.T, client *blackboard.Client, projectID string, wanted blackboard.EventType, timeout time.Duration) *blackboard.Event {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		events, err := client.ReplayEvents(context.Background(), projectID)
		if err != nil {
			t.Fatalf("Failed to replay events: %v", err)
		}
		for _, event := range events {
			if event.Type == wanted {
				return event
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Fatalf("Event %s did not appear within %v", wanted, timeout)
	return nil
}

// TestOrchestrator_DispatchesMappedTask covers the happy path: a trigger event
// becomes a queued task, and the next scheduler tick dispatches it.
func TestOrchestrator_DispatchesMappedTask(t *testing.T) {
	redisURL, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newTestClient(t, redisURL, "test-instance")
	defer client.Close()

	engine := orchestrator.NewEngine(client, "test-instance", testEngineConfig(t))
	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(ctx)
	}()

	// Give the orchestrator time to subscribe
	time.Sleep(500 * time.Millisecond)

	_, err := client.PublishEvent(ctx, &blackboard.Event{
		ProjectID: "proj-1",
		Type:      blackboard.EventProjectCreated,
		Actor:     "user",
	})
	if err != nil {
		t.Fatalf("Failed to publish event: %v", err)
	}

	dispatched := waitForEvent(t, client, "proj-1", blackboard.EventTaskDispatched, 10*time.Second)

	var payload struct {
		TaskID   string `json:"task_id"`
		TaskType string `json:"task_type"`
	}
	if err := json.Unmarshal(dispatched.Payload, &payload); err != nil {
		t.Fatalf("Malformed dispatch payload: %v", err)
	}
	if payload.TaskType != "script.draft" {
		t.Errorf("Expected task type script.draft, got %s", payload.TaskType)
	}

	task, err := client.GetTask(ctx, payload.TaskID)
	if err != nil {
		t.Fatalf("Failed to load dispatched task: %v", err)
	}
	if task.Status != blackboard.TaskStatusRunning {
		t.Errorf("Expected task RUNNING after dispatch, got %s", task.Status)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Engine returned error: %v", err)
	}
}

// TestOrchestrator_CompletionArchivesTask verifies the full round trip:
// dispatch, worker completion event, archive, and budget spend.
func TestOrchestrator_CompletionArchivesTask(t *testing.T) {
	redisURL, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newTestClient(t, redisURL, "test-instance")
	defer client.Close()

	engine := orchestrator.NewEngine(client, "test-instance", testEngineConfig(t))
	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(ctx)
	}()

	time.Sleep(500 * time.Millisecond)

	if _, err := client.PublishEvent(ctx, &blackboard.Event{
		ProjectID: "proj-1",
		Type:      blackboard.EventProjectCreated,
		Actor:     "user",
	}); err != nil {
		t.Fatalf("Failed to publish event: %v", err)
	}

	dispatched := waitForEvent(t, client, "proj-1", blackboard.EventTaskDispatched, 10*time.Second)

	var payload struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(dispatched.Payload, &payload); err != nil {
		t.Fatalf("Malformed dispatch payload: %v", err)
	}

	result, err := json.Marshal(map[string]interface{}{
		"task_id":     payload.TaskID,
		"actual_cost": 1.5,
	})
	if err != nil {
		t.Fatalf("Failed to marshal result: %v", err)
	}

	if _, err := client.PublishEvent(ctx, &blackboard.Event{
		ProjectID: "proj-1",
		Type:      blackboard.EventTaskCompleted,
		Actor:     "script-agent",
		Payload:   result,
	}); err != nil {
		t.Fatalf("Failed to publish completion: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		task, err := client.GetTask(ctx, payload.TaskID)
		if err != nil {
			t.Fatalf("Failed to load task: %v", err)
		}
		if task.Status == blackboard.TaskStatusCompleted {
			if task.ActualCost != 1.5 {
				t.Errorf("Expected actual cost 1.5, got %v", task.ActualCost)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Task never completed; status %s", task.Status)
		}
		time.Sleep(100 * time.Millisecond)
	}

	cancel()
	<-errCh
}

// TestOrchestrator_PausedProjectDropsEvents verifies the pause gate: events
// for a paused project produce no tasks.
func TestOrchestrator_PausedProjectDropsEvents(t *testing.T) {
	redisURL, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newTestClient(t, redisURL, "test-instance")
	defer client.Close()

	if err := client.SetPaused(ctx, "proj-paused", "operator", true); err != nil {
		t.Fatalf("Failed to pause project: %v", err)
	}

	engine := orchestrator.NewEngine(client, "test-instance", testEngineConfig(t))
	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(ctx)
	}()

	time.Sleep(500 * time.Millisecond)

	if _, err := client.PublishEvent(ctx, &blackboard.Event{
		ProjectID: "proj-paused",
		Type:      blackboard.EventProjectCreated,
		Actor:     "user",
	}); err != nil {
		t.Fatalf("Failed to publish event: %v", err)
	}

	time.Sleep(2 * time.Second)

	tasks, err := client.QueuedTasksByProject(ctx, "proj-paused")
	if err != nil {
		t.Fatalf("Failed to read queue: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("Expected no queued tasks for paused project, got %d", len(tasks))
	}

	cancel()
	<-errCh
}

// TestOrchestrator_HealthCheckEndpoint verifies /healthz and /metrics respond.
func TestOrchestrator_HealthCheckEndpoint(t *testing.T) {
	redisURL, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newTestClient(t, redisURL, "test-instance")
	defer client.Close()

	engine := orchestrator.NewEngine(client, "test-instance", testEngineConfig(t))
	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(ctx)
	}()

	time.Sleep(500 * time.Millisecond)

	resp, err := http.Get("http://localhost:8080/healthz")
	if err != nil {
		t.Fatalf("Health check request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /healthz, got %d", resp.StatusCode)
	}

	resp, err = http.Get("http://localhost:8080/metrics")
	if err != nil {
		t.Fatalf("Metrics request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /metrics, got %d", resp.StatusCode)
	}

	cancel()
	<-errCh
}

// TestOrchestrator_GracefulShutdown verifies the engine exits cleanly on
// context cancellation.
func TestOrchestrator_GracefulShutdown(t *testing.T) {
	redisURL, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())

	client := newTestClient(t, redisURL, "test-instance")
	defer client.Close()

	engine := orchestrator.NewEngine(client, "test-instance", testEngineConfig(t))
	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(ctx)
	}()

	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Expected clean shutdown, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Engine did not shut down within 5s")
	}
}
