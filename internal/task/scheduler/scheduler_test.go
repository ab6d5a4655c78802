package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postrelay/internal/task/engine"
	logx "postrelay/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in    string
		kind  SpecKind
		cron  string
		every time.Duration
		err   bool
	}{
		{in: "*/30 * * * *", kind: SpecCron, cron: "*/30 * * * *"},
		{in: "@daily", kind: SpecCron, cron: "@daily"},
		{in: "cron: 0 0 * * *", kind: SpecCron, cron: "0 0 * * *"},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute},
		{in: "02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute},
		{in: "every: 00:50", kind: SpecInterval, every: 50 * time.Minute},
		{in: "interval:1h", kind: SpecInterval, every: time.Hour},
		{in: "", err: true},
		{in: "00:00", err: true},
		{in: "cron:", err: true},
		{in: "soon", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			ps, err := ParseSchedule(tc.in)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, ps.Kind)
			assert.Equal(t, tc.cron, ps.Cron)
			assert.Equal(t, tc.every, ps.Every)
		})
	}
}

func TestValidateSpec(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateSpec("*/30 * * * *"))
	assert.NoError(t, ValidateSpec("0 */5 * * * *"))
	assert.NoError(t, ValidateSpec("15m"))
	assert.Error(t, ValidateSpec("61 * * * *"))
	assert.Error(t, ValidateSpec("* * *"))
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []engine.Task
	err   error
}

func (r *recordingEnqueuer) Enqueue(t engine.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return r.err
}

func (r *recordingEnqueuer) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Name)
	}
	return out
}

func TestScheduleTriggersEngine(t *testing.T) {
	t.Parallel()
	enq := &recordingEnqueuer{}
	s := New(Config{Enabled: true, Timezone: "UTC"}, enq, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	job := func(context.Context) error { return nil }
	require.NoError(t, s.AddSchedule("batch:x", "* * * * * *", time.Second, job))

	require.Eventually(t, func() bool { return len(enq.names()) > 0 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "batch:x", enq.names()[0])
	enq.mu.Lock()
	first := enq.tasks[0]
	enq.mu.Unlock()
	assert.Equal(t, time.Second, first.Timeout)
	assert.Equal(t, OverlapSkipIfRunning, first.Opt.Overlap)
	assert.NotNil(t, first.State)

	infos := s.Schedules()
	require.Len(t, infos, 1)
	assert.Equal(t, "* * * * * *", infos[0].Spec)
	assert.False(t, infos[0].Next.IsZero())
}

func TestAddScheduleReplacesAndRemoves(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &recordingEnqueuer{}, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	job := func(context.Context) error { return nil }
	require.NoError(t, s.AddSchedule("b", "*/30 * * * *", 0, job))
	require.NoError(t, s.AddSchedule("a", "15m", 0, job))
	require.NoError(t, s.AddSchedule("b", "0 * * * *", 0, job))
	assert.Equal(t, []string{"a", "b"}, s.Names())

	for _, it := range s.Schedules() {
		if it.Name == "b" {
			assert.Equal(t, "0 * * * *", it.Spec)
		}
		if it.Name == "a" {
			assert.Equal(t, "@every 15m0s", it.Spec)
		}
	}

	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	assert.Equal(t, []string{"a"}, s.Names())
}

func TestAddScheduleRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop())
	job := func(context.Context) error { return nil }
	assert.Error(t, s.AddSchedule("", "* * * * *", 0, job))
	assert.Error(t, s.AddSchedule("x", "* * * * *", 0, nil))
	assert.Error(t, s.AddSchedule("x", "99 * * * *", 0, job))
	assert.Empty(t, s.Names())
}

func TestStartupSpreadDelaysFirstRunOnly(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, spread := makeIntervalScheduleWithSpread(time.Minute, now, "batch:x")
	assert.GreaterOrEqual(t, spread, time.Duration(0))
	assert.Less(t, spread, 30*time.Second)
	assert.Zero(t, spread%time.Second, "spread is whole seconds")

	first := sched.Next(now)
	assert.Equal(t, now.Add(time.Minute+spread), first)
	assert.Equal(t, first.Add(time.Minute), sched.Next(first))
}
