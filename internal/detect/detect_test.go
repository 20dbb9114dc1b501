package detect

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/BenedictKing/model-radar/internal/config"
	"github.com/BenedictKing/model-radar/internal/coord"
	"github.com/BenedictKing/model-radar/internal/store"
)

// testEnv bundles the stores a detection test needs.
type testEnv struct {
	rdb   *redis.Client
	st    *store.Store
	queue *coord.Queue
	sem   *coord.Semaphore
	flag  *coord.Flag
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return &testEnv{
		rdb:   rdb,
		st:    st,
		queue: coord.NewQueue(rdb),
		sem:   coord.NewSemaphore(rdb),
		flag:  coord.NewFlag(rdb),
	}
}

func (e *testEnv) seedChannelWithModel(t *testing.T, baseURL, modelName string) (*store.Channel, *store.Model) {
	t.Helper()
	ch := &store.Channel{
		ID:      uuid.NewString(),
		Name:    "test-channel",
		BaseURL: baseURL,
		APIKey:  "sk-main",
		Enabled: true,
	}
	if err := e.st.CreateChannel(ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if _, err := e.st.ReconcileModels(ch.ID, []store.ModelTarget{{ModelName: modelName}}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	models, err := e.st.ListModelsByChannel(ch.ID, nil)
	if err != nil || len(models) != 1 {
		t.Fatalf("list models: %v (%d)", err, len(models))
	}
	return ch, &models[0]
}

func testEnvConfig() *config.EnvConfig {
	return &config.EnvConfig{
		ChannelConcurrency:   1,
		MaxGlobalConcurrency: 5,
		DetectionMinDelayMs:  0,
		DetectionMaxDelayMs:  0,
	}
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestSnapshotProgress(t *testing.T) {
	env := newTestEnv(t)
	bus := NewProgressBus(env.rdb, env.queue)
	ctx := context.Background()

	t.Run("idle queue reports zero progress", func(t *testing.T) {
		snap, err := bus.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap.IsRunning || snap.Progress != 0 {
			t.Fatalf("snap = %+v", snap)
		}
		if snap.TestingModelIDs == nil {
			t.Fatal("testingModelIds must be an empty array, not null")
		}
	})

	jobs := []coord.Job{
		{ChannelID: "ch1", ModelID: "m1", EndpointType: "CHAT"},
		{ChannelID: "ch1", ModelID: "m2", EndpointType: "CHAT"},
		{ChannelID: "ch1", ModelID: "m3", EndpointType: "CHAT"},
		{ChannelID: "ch1", ModelID: "m4", EndpointType: "CHAT"},
	}
	if _, err := env.queue.EnqueueBulk(ctx, jobs); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Complete two of the four jobs
	for i := 0; i < 2; i++ {
		job, err := env.queue.Pop(ctx, time.Second)
		if err != nil || job == nil {
			t.Fatalf("pop: %v", err)
		}
		if err := env.queue.Ack(ctx, job.ID, i == 0); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}

	snap, err := bus.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.IsRunning {
		t.Fatal("isRunning should be true with waiting jobs")
	}
	// done=2, remaining=2, progress = round(100*2/4) = 50
	if snap.Progress != 50 {
		t.Fatalf("progress = %d, want 50", snap.Progress)
	}
	if snap.Completed != 1 || snap.Failed != 1 {
		t.Fatalf("snap = %+v", snap)
	}
	if len(snap.TestingModelIDs) != 2 {
		t.Fatalf("testingModelIds = %v, want the 2 waiting models", snap.TestingModelIDs)
	}
}

func TestProgressPublishSubscribe(t *testing.T) {
	env := newTestEnv(t)
	bus := NewProgressBus(env.rdb, env.queue)
	ctx := context.Background()

	sub := bus.Subscribe(ctx)
	defer sub.Close()
	// Wait for the subscription to be established
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Publish(ctx, &ProgressEvent{
		ChannelID:       "ch1",
		ModelID:         "m1",
		ModelName:       "gpt-4o",
		EndpointType:    "CHAT",
		Status:          "SUCCESS",
		Latency:         42,
		IsModelComplete: true,
	})

	select {
	case msg := <-sub.Channel():
		payload := msg.Payload
		for _, want := range []string{`"modelId":"m1"`, `"status":"SUCCESS"`, `"isModelComplete":true`} {
			if !strings.Contains(payload, want) {
				t.Fatalf("payload %q missing %q", payload, want)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no progress event received")
	}
}

func TestConfigCache(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing config falls back to env defaults", func(t *testing.T) {
		cache := NewConfigCache(env.st, &config.EnvConfig{
			ChannelConcurrency:   2,
			MaxGlobalConcurrency: 7,
			DetectionMinDelayMs:  100,
			DetectionMaxDelayMs:  200,
		})
		cfg := cache.Get()
		if cfg.ChannelConcurrency != 2 || cfg.MaxGlobalConcurrency != 7 {
			t.Fatalf("cfg = %+v", cfg)
		}
	})

	t.Run("saved config wins after invalidate", func(t *testing.T) {
		cache := NewConfigCache(env.st, testEnvConfig())
		_ = cache.Get()

		if err := env.st.SaveSchedulerConfig(&store.SchedulerConfig{
			ChannelConcurrency:   3,
			MaxGlobalConcurrency: 9,
			MinDelayMs:           10,
			MaxDelayMs:           20,
		}); err != nil {
			t.Fatalf("save: %v", err)
		}
		cache.Invalidate()

		cfg := cache.Get()
		if cfg.ChannelConcurrency != 3 || cfg.MaxGlobalConcurrency != 9 || cfg.MaxDelayMs != 20 {
			t.Fatalf("cfg = %+v", cfg)
		}
	})

	t.Run("values normalized on load", func(t *testing.T) {
		cache := NewConfigCache(env.st, &config.EnvConfig{})
		cfg := cache.Get()
		if cfg.ChannelConcurrency < 1 || cfg.MaxGlobalConcurrency < 1 {
			t.Fatalf("cfg not clamped: %+v", cfg)
		}
		if cfg.MaxDelayMs < cfg.MinDelayMs {
			t.Fatalf("maxDelay < minDelay: %+v", cfg)
		}
	})
}
