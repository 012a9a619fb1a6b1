package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
)

// Lane is a named worker pool with a fixed concurrency limit. Tool
// batches and sub-agent runs execute on lanes so one busy session
// cannot starve the rest of the process.
type Lane struct {
	name        string
	concurrency int

	taskCh  chan func()
	stopCh  chan struct{}
	wg      sync.WaitGroup
	active  atomic.Int32
	done    atomic.Int64
	stopped atomic.Bool
}

// LaneConfig describes one lane to create at startup.
type LaneConfig struct {
	Name        string `json:"name"`
	Concurrency int    `json:"concurrency"`
}

// DefaultLanes returns the stock lane layout: interactive runs, sub-agent
// fanout, and background work (cron, heartbeat).
func DefaultLanes() []LaneConfig {
	return []LaneConfig{
		// The agent loop holds one run lock, so a wider main lane would
		// only queue goroutines inside the loop instead of here.
		{Name: "main", Concurrency: 1},
		{Name: "subagent", Concurrency: 8},
		{Name: "background", Concurrency: 2},
	}
}

// LaneStats is a utilization snapshot.
type LaneStats struct {
	Name        string `json:"name"`
	Concurrency int    `json:"concurrency"`
	Active      int    `json:"active"`
	Queued      int    `json:"queued"`
	Completed   int64  `json:"completed"`
}

// NewLane creates a lane and starts its workers.
func NewLane(name string, concurrency int) *Lane {
	if concurrency < 1 {
		concurrency = 1
	}
	l := &Lane{
		name:        name,
		concurrency: concurrency,
		taskCh:      make(chan func(), 64),
		stopCh:      make(chan struct{}),
	}
	for i := 0; i < concurrency; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

func (l *Lane) worker() {
	defer l.wg.Done()
	for {
		select {
		case <-l.stopCh:
			// Drain whatever is already queued, then exit.
			for {
				select {
				case fn := <-l.taskCh:
					l.run(fn)
				default:
					return
				}
			}
		case fn := <-l.taskCh:
			l.run(fn)
		}
	}
}

func (l *Lane) run(fn func()) {
	l.active.Add(1)
	defer func() {
		l.active.Add(-1)
		l.done.Add(1)
	}()
	fn()
}

// Submit queues fn for execution on the lane. It blocks when the task
// buffer is full, returning early if ctx is cancelled or the lane stopped.
func (l *Lane) Submit(ctx context.Context, fn func()) error {
	if l.stopped.Load() {
		return ErrLaneStopped
	}
	select {
	case l.taskCh <- fn:
		return nil
	case <-l.stopCh:
		return ErrLaneStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the lane down after in-flight and queued tasks finish.
func (l *Lane) Stop() {
	if l.stopped.CompareAndSwap(false, true) {
		close(l.stopCh)
	}
	l.wg.Wait()
}

// Stats returns a utilization snapshot.
func (l *Lane) Stats() LaneStats {
	return LaneStats{
		Name:        l.name,
		Concurrency: l.concurrency,
		Active:      int(l.active.Load()),
		Queued:      len(l.taskCh),
		Completed:   l.done.Load(),
	}
}

// Name returns the lane name.
func (l *Lane) Name() string { return l.name }

// Concurrency returns the worker count.
func (l *Lane) Concurrency() int { return l.concurrency }

// LaneManager owns the set of lanes.
type LaneManager struct {
	mu    sync.RWMutex
	lanes map[string]*Lane
}

// NewLaneManager creates the configured lanes.
func NewLaneManager(configs []LaneConfig) *LaneManager {
	lm := &LaneManager{lanes: make(map[string]*Lane, len(configs))}
	for _, c := range configs {
		lm.lanes[c.Name] = NewLane(c.Name, c.Concurrency)
	}
	return lm
}

// Get returns the named lane, falling back to "main" for unknown names.
// Returns nil only when no main lane exists either.
func (lm *LaneManager) Get(name string) *Lane {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if l, ok := lm.lanes[name]; ok {
		return l
	}
	return lm.lanes["main"]
}

// GetOrCreate returns the named lane, creating it with the given
// concurrency when absent. An existing lane keeps its concurrency.
func (lm *LaneManager) GetOrCreate(name string, concurrency int) *Lane {
	lm.mu.RLock()
	l, ok := lm.lanes[name]
	lm.mu.RUnlock()
	if ok {
		return l
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if l, ok := lm.lanes[name]; ok {
		return l
	}
	l = NewLane(name, concurrency)
	lm.lanes[name] = l
	return l
}

// StopAll shuts down every lane.
func (lm *LaneManager) StopAll() {
	lm.mu.Lock()
	lanes := make([]*Lane, 0, len(lm.lanes))
	for _, l := range lm.lanes {
		lanes = append(lanes, l)
	}
	lm.mu.Unlock()

	for _, l := range lanes {
		l.Stop()
	}
}

// AllStats returns snapshots for every lane.
func (lm *LaneManager) AllStats() []LaneStats {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	stats := make([]LaneStats, 0, len(lm.lanes))
	for _, l := range lm.lanes {
		stats = append(stats, l.Stats())
	}
	return stats
}
