package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/tatty/internal/agent"
)

// overlapMeter tracks the highest concurrency a run function observed.
type overlapMeter struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (m *overlapMeter) enter() {
	cur := m.active.Add(1)
	for {
		old := m.peak.Load()
		if cur <= old || m.peak.CompareAndSwap(old, cur) {
			return
		}
	}
}

func (m *overlapMeter) leave() { m.active.Add(-1) }

// sleepingRun returns a RunFunc that holds its slot for d.
func sleepingRun(m *overlapMeter, d time.Duration) RunFunc {
	return func(_ context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		m.enter()
		defer m.leave()
		time.Sleep(d)
		return &agent.RunResult{Content: "ok", RunID: req.RunID}, nil
	}
}

func immediateQueue() QueueConfig {
	cfg := DefaultQueueConfig()
	cfg.DebounceMs = 0
	return cfg
}

func mustOutcome(t *testing.T, ch <-chan RunOutcome) RunOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run timed out")
		return RunOutcome{}
	}
}

func TestLane_ConcurrencyLimit(t *testing.T) {
	lane := NewLane("test", 2)
	defer lane.Stop()

	var meter overlapMeter
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		err := lane.Submit(context.Background(), func() {
			defer wg.Done()
			meter.enter()
			time.Sleep(50 * time.Millisecond)
			meter.leave()
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	wg.Wait()

	if p := meter.peak.Load(); p != 2 {
		t.Errorf("peak concurrency = %d, want exactly the lane width 2", p)
	}
}

func TestLane_Stats(t *testing.T) {
	lane := NewLane("test", 3)
	defer lane.Stop()

	stats := lane.Stats()
	if stats.Name != "test" || stats.Concurrency != 3 {
		t.Errorf("stats = %+v, want name test width 3", stats)
	}
	if stats.Active != 0 || stats.Queued != 0 {
		t.Errorf("idle lane reports active=%d queued=%d", stats.Active, stats.Queued)
	}
}

func TestLaneManager_UnknownLaneFallsBackToMain(t *testing.T) {
	lm := NewLaneManager([]LaneConfig{
		{Name: "main", Concurrency: 2},
		{Name: "subagent", Concurrency: 4},
	})
	defer lm.StopAll()

	if lm.Get("subagent") == nil {
		t.Error("known lane lookup returned nil")
	}
	l := lm.Get("no-such-lane")
	if l == nil || l.name != "main" {
		t.Errorf("unknown lane should fall back to main, got %v", l)
	}
}

func TestLaneManager_GetOrCreate(t *testing.T) {
	lm := NewLaneManager([]LaneConfig{{Name: "main", Concurrency: 2}})
	defer lm.StopAll()

	l := lm.GetOrCreate("custom", 8)
	if l == nil || l.concurrency != 8 {
		t.Fatalf("GetOrCreate = %v, want width 8", l)
	}
	if again := lm.GetOrCreate("custom", 16); again.concurrency != 8 {
		t.Errorf("second GetOrCreate must return the existing lane, got width %d", again.concurrency)
	}
}

func TestScheduler_SameSessionRunsSerially(t *testing.T) {
	var meter overlapMeter
	sched := NewScheduler(DefaultLanes(), immediateQueue(), sleepingRun(&meter, 30*time.Millisecond))
	defer sched.Stop()

	ctx := context.Background()
	var waiters []<-chan RunOutcome
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		waiters = append(waiters, sched.Schedule(ctx, "main", agent.RunRequest{
			SessionKey: "agent:default:one-session",
			Message:    "hello",
			RunID:      id,
		}))
	}
	for i, ch := range waiters {
		if out := mustOutcome(t, ch); out.Err != nil {
			t.Errorf("run %d: %v", i, out.Err)
		}
	}

	if p := meter.peak.Load(); p > 1 {
		t.Errorf("one session reached concurrency %d, want 1", p)
	}
}

func TestScheduler_DistinctSessionsRunInParallel(t *testing.T) {
	var meter overlapMeter
	// A two-wide lane so cross-session parallelism is visible; the stock
	// main lane is single-width.
	sched := NewScheduler([]LaneConfig{{Name: "main", Concurrency: 2}},
		immediateQueue(), sleepingRun(&meter, 80*time.Millisecond))
	defer sched.Stop()

	ctx := context.Background()
	ch1 := sched.Schedule(ctx, "main", agent.RunRequest{
		SessionKey: "agent:default:session-1", Message: "hello 1", RunID: "run-1",
	})
	ch2 := sched.Schedule(ctx, "main", agent.RunRequest{
		SessionKey: "agent:default:session-2", Message: "hello 2", RunID: "run-2",
	})
	for _, ch := range []<-chan RunOutcome{ch1, ch2} {
		if out := mustOutcome(t, ch); out.Err != nil {
			t.Errorf("run failed: %v", out.Err)
		}
	}

	if p := meter.peak.Load(); p < 2 {
		t.Errorf("distinct sessions peaked at %d, want 2 (should overlap)", p)
	}
}

func TestScheduler_DropOldEvictsOldestWaiter(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	runFn := func(_ context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return &agent.RunResult{Content: "ok", RunID: req.RunID}, nil
	}

	cfg := immediateQueue()
	cfg.Cap = 2
	sched := NewScheduler(DefaultLanes(), cfg, runFn)
	defer sched.Stop()

	ctx := context.Background()
	key := "agent:default:drop-test"
	submit := func(id string) <-chan RunOutcome {
		return sched.Schedule(ctx, "main", agent.RunRequest{SessionKey: key, RunID: id, Message: id})
	}

	_ = submit("run-1")
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never started")
	}

	// Fill the queue, then push one more to force an eviction.
	ch2 := submit("run-2")
	ch3 := submit("run-3")
	_ = submit("run-4")

	if out := mustOutcome(t, ch2); out.Err != ErrQueueDropped {
		t.Errorf("oldest waiter err = %v, want ErrQueueDropped", out.Err)
	}
	select {
	case <-ch3:
		t.Error("run-3 should still be waiting, not resolved")
	default:
	}

	close(release)
}

func TestScheduler_InterruptCancelsActiveRun(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	runFn := func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		started <- struct{}{}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return &agent.RunResult{Content: "ok", RunID: req.RunID}, nil
		}
	}

	cfg := immediateQueue()
	cfg.Mode = QueueModeInterrupt
	sched := NewScheduler(DefaultLanes(), cfg, runFn)
	defer sched.Stop()

	ctx := context.Background()
	key := "agent:default:interrupt-test"
	ch1 := sched.Schedule(ctx, "main", agent.RunRequest{SessionKey: key, RunID: "run-1", Message: "msg1"})
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never started")
	}

	ch2 := sched.Schedule(ctx, "main", agent.RunRequest{SessionKey: key, RunID: "run-2", Message: "msg2"})

	if out := mustOutcome(t, ch1); out.Err == nil {
		t.Error("interrupted run should report an error")
	}
	close(release)
	if out := mustOutcome(t, ch2); out.Err != nil {
		t.Errorf("interrupting run failed: %v", out.Err)
	}
}

func TestDefaultLanes_MainIsSingleWidth(t *testing.T) {
	for _, lane := range DefaultLanes() {
		if lane.Name == "main" {
			if lane.Concurrency != 1 {
				t.Errorf("main concurrency = %d, want 1: the agent loop runs one turn at a time, so extra width only hides queueing", lane.Concurrency)
			}
			return
		}
	}
	t.Fatal("no main lane in default layout")
}
