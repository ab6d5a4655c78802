package aggregate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postrelay/internal/card"
	"postrelay/internal/config"
	"postrelay/internal/post"
	"postrelay/internal/processor"
	"postrelay/internal/storage"
	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

var testNow = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

// recordingQueue wraps the sqlite queue and remembers status transitions.
type recordingQueue struct {
	*storage.SQLite
	mu     sync.Mutex
	status map[int64][]storage.TaskStatus
}

func (q *recordingQueue) SetTaskStatus(ctx context.Context, id int64, s storage.TaskStatus) error {
	q.mu.Lock()
	q.status[id] = append(q.status[id], s)
	q.mu.Unlock()
	return q.SQLite.SetTaskStatus(ctx, id, s)
}

type captureTarget struct {
	mu    sync.Mutex
	texts []string
	files [][]transport.File
	// exists records whether each attached file was on disk at send time.
	exists []bool
	err    error
}

func (c *captureTarget) ID() string                               { return "report" }
func (c *captureTarget) Platform() string                         { return "fake" }
func (c *captureTarget) CheckBlocked(transport.BlockContext) bool { return false }
func (c *captureTarget) Send(_ context.Context, text string, props transport.SendProps) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	c.files = append(c.files, props.Files)
	for _, f := range props.Files {
		_, err := os.Stat(f.Path)
		c.exists = append(c.exists, err == nil)
	}
	return c.err
}

type procFunc func(ctx context.Context, text string) (string, error)

func (f procFunc) Process(ctx context.Context, text string) (string, error) { return f(ctx, text) }

type cardFunc func(ctx context.Context, p *post.Post) ([]byte, error)

func (f cardFunc) RenderCard(ctx context.Context, p *post.Post) ([]byte, error) { return f(ctx, p) }

type fixture struct {
	agg    *Aggregator
	db     *storage.SQLite
	queue  *recordingQueue
	target *captureTarget
	cards  string
}

func newFixture(t *testing.T, proc processor.Processor, cards card.Renderer) *fixture {
	t.Helper()
	db, err := storage.OpenSQLite(storage.Config{Path: filepath.Join(t.TempDir(), "relay.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	procs := processor.NewRegistry()
	if proc != nil {
		procs.Add("sum", proc)
	}
	fx := &fixture{
		db:     db,
		queue:  &recordingQueue{SQLite: db, status: map[int64][]storage.TaskStatus{}},
		target: &captureTarget{},
		cards:  t.TempDir(),
	}
	fx.agg = New(Deps{
		Queue:      fx.queue,
		Posts:      db,
		Targets:    transport.NewRegistry(fx.target),
		Processors: procs,
		Cards:      cards,
		CardDir:    fx.cards,
		Now:        func() time.Time { return testNow },
	})
	return fx
}

func (fx *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i, c := range []string{"morning", "", "evening"} {
		_, err := fx.db.SavePost(ctx, &post.Post{
			Platform:  post.PlatformX,
			AID:       string(rune('a' + i)),
			UID:       "alice",
			Content:   c,
			CreatedAt: testNow.Add(-time.Duration(10-i) * time.Hour).Unix(),
		})
		require.NoError(t, err)
	}
}

func payload() Payload {
	return Payload{
		Platform:  post.PlatformX,
		UID:       "alice",
		Start:     testNow.Add(-24 * time.Hour).Unix(),
		End:       testNow.Unix(),
		TargetID:  "report",
		Processor: "sum",
	}
}

func TestDigestFormat(t *testing.T) {
	t.Parallel()
	posts := []*post.Post{
		{CreatedAt: testNow.Unix(), Content: "one"},
		{CreatedAt: testNow.Add(90 * time.Second).Unix()},
	}
	assert.Equal(t, "[2026-03-04 00:00:00] one\n\n[2026-03-04 00:01:30] (No Text)\n", Digest(posts, nil))
}

func TestPollSendsSummaryWithCard(t *testing.T) {
	t.Parallel()
	var gotText string
	proc := procFunc(func(_ context.Context, text string) (string, error) {
		gotText = text
		return "a calm day", nil
	})
	var carded *post.Post
	fx := newFixture(t, proc, cardFunc(func(_ context.Context, p *post.Post) ([]byte, error) {
		carded = p
		return []byte("\x89PNG\r\n\x1a\n"), nil
	}))
	fx.seed(t)
	ctx := context.Background()

	id, err := fx.agg.Enqueue(ctx, payload(), testNow.Unix())
	require.NoError(t, err)
	require.NoError(t, fx.agg.Poll(ctx))

	require.Len(t, fx.target.texts, 1)
	assert.Equal(t, "Daily Report for alice:\n\na calm day", fx.target.texts[0])
	assert.Contains(t, gotText, "] morning\n\n[")
	assert.Contains(t, gotText, "(No Text)")

	require.NotNil(t, carded)
	assert.Equal(t, "a calm day", carded.Content)
	assert.Equal(t, "https://x.com", carded.URL)
	require.Len(t, fx.target.files[0], 1)
	assert.Equal(t, post.MediaPhoto, fx.target.files[0][0].Type)
	assert.Equal(t, []bool{true}, fx.target.exists)
	assert.NoFileExists(t, fx.target.files[0][0].Path, "card removed after send")

	assert.Equal(t, []storage.TaskStatus{storage.TaskProcessing, storage.TaskCompleted}, fx.queue.status[id])

	require.NoError(t, fx.agg.Poll(ctx))
	assert.Len(t, fx.target.texts, 1, "completed task is not picked up again")
}

func TestProcessorFailureUsesFallback(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, procFunc(func(context.Context, string) (string, error) {
		return "", errors.New("quota exceeded")
	}), nil)
	fx.seed(t)

	require.NoError(t, fx.agg.Daily(context.Background(), payload()))
	require.Len(t, fx.target.texts, 1)
	assert.Equal(t, "Daily Report for alice:\n\n"+Fallback(3), fx.target.texts[0])
	assert.Empty(t, fx.target.files[0], "disabled card renderer attaches nothing")
}

func TestMissingProcessorUsesFallback(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil, nil)
	fx.seed(t)

	require.NoError(t, fx.agg.Daily(context.Background(), payload()))
	assert.Equal(t, "Daily Report for alice:\n\nSummarization failed. Raw content count: 3", fx.target.texts[0])
}

func TestCardFailureStillSends(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, procFunc(func(context.Context, string) (string, error) { return "ok", nil }),
		cardFunc(func(context.Context, *post.Post) ([]byte, error) { return nil, errors.New("render service down") }))
	fx.seed(t)

	require.NoError(t, fx.agg.Daily(context.Background(), payload()))
	require.Len(t, fx.target.texts, 1)
	assert.Empty(t, fx.target.files[0])
}

func TestEmptyWindowSendsNothing(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil, nil)
	require.NoError(t, fx.agg.Daily(context.Background(), payload()))
	assert.Empty(t, fx.target.texts)
}

func TestFailedTasksAreMarkedFailed(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil, nil)
	fx.seed(t)
	fx.target.err = errors.New("502")
	ctx := context.Background()

	sendFail, err := fx.agg.Enqueue(ctx, payload(), testNow.Unix())
	require.NoError(t, err)
	p := payload()
	p.TargetID = "missing"
	noTarget, err := fx.agg.Enqueue(ctx, p, testNow.Unix())
	require.NoError(t, err)
	notDue, err := fx.agg.Enqueue(ctx, payload(), testNow.Add(time.Hour).Unix())
	require.NoError(t, err)

	require.NoError(t, fx.agg.Poll(ctx))

	failed := []storage.TaskStatus{storage.TaskProcessing, storage.TaskFailed}
	assert.Equal(t, failed, fx.queue.status[sendFail])
	assert.Equal(t, failed, fx.queue.status[noTarget])
	assert.Empty(t, fx.queue.status[notDue])
}

type fakeScheduler struct {
	jobs  map[string]func(ctx context.Context) error
	specs map[string]string
}

func (s *fakeScheduler) AddSchedule(name, schedule string, _ time.Duration, job func(ctx context.Context) error) error {
	s.jobs[name] = job
	s.specs[name] = schedule
	return nil
}

func TestRegisterQueuesPreviousWindow(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil, nil)
	scheds, err := SchedulesFromConfig([]config.AggregationConfig{
		{ID: "daily-alice", Platform: "X", UID: "alice", Target: "report", Window: "12h", Processor: "sum"},
	})
	require.NoError(t, err)
	require.Len(t, scheds, 1)
	assert.Equal(t, config.DefaultAggregationCron, scheds[0].Cron)

	s := &fakeScheduler{jobs: map[string]func(context.Context) error{}, specs: map[string]string{}}
	require.NoError(t, fx.agg.Register(s, scheds))
	assert.Equal(t, PollSchedule, s.specs["aggregate.poll"])
	require.Contains(t, s.jobs, "aggregate.daily-alice")

	ctx := context.Background()
	require.NoError(t, s.jobs["aggregate.daily-alice"](ctx))
	tasks, err := fx.db.PendingTasks(ctx, testNow.Unix())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskDaily, tasks[0].Type)
	assert.JSONEq(t, `{"platform":"x","u_id":"alice","start":1772539200,"end":1772582400,"bot_id":"report","processor":"sum"}`, string(tasks[0].Payload))
}

func TestSchedulesFromConfigRejectsBadEntries(t *testing.T) {
	t.Parallel()
	_, err := SchedulesFromConfig([]config.AggregationConfig{
		{Platform: "myspace", UID: "a"},
		{Platform: "x", UID: "b", Window: "soon"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregations[0].platform")
	assert.Contains(t, err.Error(), "aggregations[1].window")
}
