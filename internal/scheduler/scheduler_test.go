package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/BenedictKing/model-radar/internal/config"
	"github.com/BenedictKing/model-radar/internal/store"
)

func newTestScheduler(t *testing.T, env *config.EnvConfig) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if env == nil {
		env = &config.EnvConfig{CronTimezone: "UTC"}
	}
	sched := New(st, nil, env)
	t.Cleanup(sched.Stop)
	return sched, st
}

func TestLegacyInterval(t *testing.T) {
	cases := []struct {
		expr  string
		unit  string
		value int
		ok    bool
	}{
		{"*/30 * * * *", "minute", 30, true},
		{"0 */6 * * *", "hour", 6, true},
		{"0 0 */2 * *", "day", 2, true},
		{" 0 */6 * * * ", "hour", 6, true},
		{"0 8 * * *", "", 0, false},
		{"interval:hour:6:2024-01-01T00:00:00Z", "", 0, false},
		{"", "", 0, false},
	}
	for _, tc := range cases {
		unit, value, ok := LegacyInterval(tc.expr)
		if unit != tc.unit || value != tc.value || ok != tc.ok {
			t.Errorf("LegacyInterval(%q) = (%q, %d, %v), want (%q, %d, %v)",
				tc.expr, unit, value, ok, tc.unit, tc.value, tc.ok)
		}
	}
}

func TestStartCreatesDefaultConfig(t *testing.T) {
	sched, st := newTestScheduler(t, &config.EnvConfig{
		AutoDetectEnabled:    true,
		CronSchedule:         "0 */6 * * *",
		CronTimezone:         "UTC",
		ChannelConcurrency:   2,
		MaxGlobalConcurrency: 10,
	})

	sched.Start(context.Background())

	cfg, err := st.GetSchedulerConfig()
	if err != nil {
		t.Fatalf("config not persisted: %v", err)
	}
	if !cfg.Enabled || cfg.CronSchedule != "0 */6 * * *" {
		t.Fatalf("cfg = %+v", cfg)
	}

	status := sched.Status()
	if !status.Enabled || status.NextRun == nil {
		t.Fatalf("status = %+v", status)
	}
}

func TestReloadDisabled(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)

	sched.Reload(&store.SchedulerConfig{Enabled: false, CronSchedule: "0 */6 * * *"})
	if status := sched.Status(); status.Enabled || status.NextRun != nil {
		t.Fatalf("status = %+v, want disabled with no next run", status)
	}
}

func TestReloadCronList(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)

	sched.Reload(&store.SchedulerConfig{
		Enabled:      true,
		CronSchedule: "0 8 * * * || 0 20 * * *",
		Timezone:     "UTC",
	})

	next := sched.NextRun()
	if next == nil {
		t.Fatal("NextRun = nil, want the earliest cron branch")
	}
	if hour := next.UTC().Hour(); hour != 8 && hour != 20 {
		t.Fatalf("next run at hour %d, want 8 or 20", hour)
	}
}

func TestReloadInvalidCronDisables(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)

	sched.Reload(&store.SchedulerConfig{Enabled: true, CronSchedule: "not a cron"})
	if status := sched.Status(); status.Enabled {
		t.Fatalf("status = %+v, want disabled on unparseable schedule", status)
	}
}

func TestReloadIntervalSchedule(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)

	sched.Reload(&store.SchedulerConfig{
		Enabled:      true,
		CronSchedule: "interval:hour:6:2024-01-01T00:00:00Z",
	})

	next := sched.NextRun()
	if next == nil {
		t.Fatal("NextRun = nil")
	}
	if !next.After(time.Now()) {
		t.Fatalf("next run %v is not in the future", next)
	}
	if next.Sub(time.Now()) > 6*time.Hour {
		t.Fatalf("next run %v is more than one interval away", next)
	}

	// Switching back to a disabled config tears the interval loop down
	sched.Reload(&store.SchedulerConfig{Enabled: false})
	if status := sched.Status(); status.Enabled || status.NextRun != nil {
		t.Fatalf("status = %+v", status)
	}
}
