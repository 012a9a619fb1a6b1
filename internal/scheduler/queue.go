package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/tatty/internal/agent"
)

// QueueMode says what happens when a message arrives while the session
// is mid-run.
type QueueMode string

const (
	// QueueModeQueue waits its turn (FIFO).
	QueueModeQueue QueueMode = "queue"
	// QueueModeFollowup also waits; surfaces may merge it into the
	// conversation as a follow-up.
	QueueModeFollowup QueueMode = "followup"
	// QueueModeInterrupt cancels the active run and takes its place.
	QueueModeInterrupt QueueMode = "interrupt"
)

// DropPolicy picks the victim when the queue is at capacity.
type DropPolicy string

const (
	DropOld DropPolicy = "old" // evict the oldest waiter
	DropNew DropPolicy = "new" // reject the arrival
)

// QueueConfig tunes per-session queuing.
type QueueConfig struct {
	Mode       QueueMode  `json:"mode"`
	Cap        int        `json:"cap"`
	Drop       DropPolicy `json:"drop"`
	DebounceMs int        `json:"debounce_ms"`
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Mode:       QueueModeQueue,
		Cap:        10,
		Drop:       DropOld,
		DebounceMs: 800,
	}
}

// RunFunc executes one agent run when its turn comes.
type RunFunc func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)

// RunOutcome is delivered on the channel returned by Schedule.
type RunOutcome struct {
	Result *agent.RunResult
	Err    error
}

// pendingRun couples a queued request with its waiter.
type pendingRun struct {
	req  agent.RunRequest
	done chan RunOutcome
}

func (p *pendingRun) deliver(out RunOutcome) {
	p.done <- out
	close(p.done)
}

// SessionQueue serializes runs for one session key. At most one run is
// in flight; the rest wait in arrival order.
type SessionQueue struct {
	key   string
	cfg   QueueConfig
	runFn RunFunc
	lanes *LaneManager
	lane  string

	mu       sync.Mutex
	waiting  []*pendingRun
	running  bool
	cancel   context.CancelFunc // cancels the in-flight run (interrupt mode)
	debounce *time.Timer
	baseCtx  context.Context // context of the first Enqueue, reused for chained runs
}

func NewSessionQueue(key, lane string, cfg QueueConfig, lanes *LaneManager, runFn RunFunc) *SessionQueue {
	return &SessionQueue{key: key, cfg: cfg, runFn: runFn, lanes: lanes, lane: lane}
}

// Enqueue admits a request and returns the channel its outcome will
// arrive on. The run starts once the session is idle (and the debounce
// window, if any, has passed).
func (sq *SessionQueue) Enqueue(ctx context.Context, req agent.RunRequest) <-chan RunOutcome {
	p := &pendingRun{req: req, done: make(chan RunOutcome, 1)}

	sq.mu.Lock()
	defer sq.mu.Unlock()

	if sq.baseCtx == nil {
		sq.baseCtx = ctx
	}

	if sq.cfg.Mode == QueueModeInterrupt {
		if sq.running && sq.cancel != nil {
			sq.cancel()
		}
		// Everything already waiting loses to the interrupt.
		sq.failWaitingLocked(RunOutcome{Err: context.Canceled})
		sq.waiting = append(sq.waiting, p)
	} else {
		sq.admitLocked(p)
	}

	if !sq.running {
		sq.kickLocked(ctx)
	}
	return p.done
}

// admitLocked appends p, evicting per the drop policy when full.
func (sq *SessionQueue) admitLocked(p *pendingRun) {
	if len(sq.waiting) < sq.cfg.Cap {
		sq.waiting = append(sq.waiting, p)
		return
	}
	if sq.cfg.Drop == DropNew {
		p.deliver(RunOutcome{Err: ErrQueueFull})
		return
	}
	// DropOld (and the unset default): oldest waiter makes room.
	if len(sq.waiting) > 0 {
		sq.waiting[0].deliver(RunOutcome{Err: ErrQueueDropped})
		sq.waiting = sq.waiting[1:]
	}
	sq.waiting = append(sq.waiting, p)
}

// kickLocked arranges for the head of the queue to start, after the
// debounce window when one is configured. Rapid arrivals keep resetting
// the timer so bursts coalesce into fewer runs.
func (sq *SessionQueue) kickLocked(ctx context.Context) {
	if len(sq.waiting) == 0 {
		return
	}
	window := time.Duration(sq.cfg.DebounceMs) * time.Millisecond
	if window <= 0 {
		sq.startHeadLocked(ctx)
		return
	}
	if sq.debounce != nil {
		sq.debounce.Stop()
	}
	sq.debounce = time.AfterFunc(window, func() {
		sq.mu.Lock()
		defer sq.mu.Unlock()
		if !sq.running && len(sq.waiting) > 0 {
			sq.startHeadLocked(ctx)
		}
	})
}

// startHeadLocked pops the head and submits it to the session's lane.
func (sq *SessionQueue) startHeadLocked(ctx context.Context) {
	p := sq.waiting[0]
	sq.waiting = sq.waiting[1:]
	sq.running = true

	runCtx, cancel := context.WithCancel(ctx)
	sq.cancel = cancel

	lane := sq.lanes.Get(sq.lane)
	if lane == nil {
		lane = sq.lanes.Get("main")
	}
	if lane == nil {
		go sq.run(runCtx, p)
		return
	}
	if err := lane.Submit(ctx, func() { sq.run(runCtx, p) }); err != nil {
		p.deliver(RunOutcome{Err: err})
		sq.running = false
		sq.cancel = nil
	}
}

// run executes one agent turn and then chains to the next waiter.
func (sq *SessionQueue) run(ctx context.Context, p *pendingRun) {
	result, err := sq.runFn(ctx, p.req)
	p.deliver(RunOutcome{Result: result, Err: err})

	sq.mu.Lock()
	sq.running = false
	sq.cancel = nil
	if len(sq.waiting) > 0 {
		// The per-run context may be cancelled (interrupt mode); chained
		// runs use the queue's base context instead.
		sq.kickLocked(sq.baseCtx)
	}
	sq.mu.Unlock()
}

// failWaitingLocked flushes every waiter with the same outcome.
func (sq *SessionQueue) failWaitingLocked(out RunOutcome) {
	for _, p := range sq.waiting {
		p.deliver(out)
	}
	sq.waiting = nil
}

// IsActive reports whether a run is in flight.
func (sq *SessionQueue) IsActive() bool {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.running
}

// QueueLen reports how many requests are waiting.
func (sq *SessionQueue) QueueLen() int {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return len(sq.waiting)
}

// Scheduler fans session keys out to SessionQueues and shares the lane
// pool between them.
type Scheduler struct {
	lanes    *LaneManager
	config   QueueConfig
	runFn    RunFunc
	mu       sync.RWMutex
	sessions map[string]*SessionQueue
}

func NewScheduler(laneConfigs []LaneConfig, queueCfg QueueConfig, runFn RunFunc) *Scheduler {
	if laneConfigs == nil {
		laneConfigs = DefaultLanes()
	}
	return &Scheduler{
		lanes:    NewLaneManager(laneConfigs),
		config:   queueCfg,
		runFn:    runFn,
		sessions: make(map[string]*SessionQueue),
	}
}

// Schedule routes req to its session queue, creating the queue on first
// sight of the key. The returned channel yields exactly one outcome.
func (s *Scheduler) Schedule(ctx context.Context, lane string, req agent.RunRequest) <-chan RunOutcome {
	return s.sessionQueue(req.SessionKey, lane).Enqueue(ctx, req)
}

func (s *Scheduler) sessionQueue(key, lane string) *SessionQueue {
	s.mu.RLock()
	sq, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok {
		return sq
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sq, ok := s.sessions[key]; ok {
		return sq
	}
	sq = NewSessionQueue(key, lane, s.config, s.lanes, s.runFn)
	s.sessions[key] = sq
	slog.Debug("session queue created", "session", key, "lane", lane)
	return sq
}

// Stop shuts the lane pool down; queued work is abandoned.
func (s *Scheduler) Stop() {
	s.lanes.StopAll()
}

// LaneStats snapshots lane utilization for the status surfaces.
func (s *Scheduler) LaneStats() []LaneStats {
	return s.lanes.AllStats()
}

// Lanes exposes the lane manager.
func (s *Scheduler) Lanes() *LaneManager {
	return s.lanes
}
