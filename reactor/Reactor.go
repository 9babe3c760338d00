package reactor

import (
	"sync"

	"go.uber.org/zap"
)

// Reactor - The single-threaded cooperative scheduler the engine lives on.
// One goroutine owns every engine-internal data structure; socket read
// loops and API callers hand work over with Post, and timer expirations
// are delivered through the embedded TimeoutManager.
type Reactor struct {
	tasks    chan func()
	timeouts *TimeoutManager
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	log      *zap.Logger
}

func New(log *zap.Logger) *Reactor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reactor{
		tasks:    make(chan func(), 128),
		timeouts: NewTimeoutManager(),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		log:      log,
	}
}

// Start - Launches the reactor goroutine.
func (r *Reactor) Start() {
	go r.loop()
}

// Stop - Shuts the loop down and waits for its goroutine to exit. Tasks
// posted but not yet executed are discarded.
func (r *Reactor) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
	<-r.done
}

// Post - Queues a task for execution on the reactor goroutine. Safe to call
// from any goroutine. Posts after Stop are dropped, reported by the return
// value.
func (r *Reactor) Post(task func()) bool {
	select {
	case <-r.quit:
		// a closed quit channel wins even while the task queue has room
		return false
	default:
	}
	select {
	case r.tasks <- task:
		return true
	case <-r.quit:
		return false
	}
}

// Timeouts - The timeout manager bound to this reactor. Must only be used
// from tasks already running on the reactor goroutine.
func (r *Reactor) Timeouts() *TimeoutManager {
	return r.timeouts
}

func (r *Reactor) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		case task := <-r.tasks:
			r.invoke(task)
		case <-r.timeouts.C():
			r.invoke(r.timeouts.Fire)
		}
	}
}

// invoke keeps a panicking task from taking the whole loop down.
func (r *Reactor) invoke(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("recovered from panic in reactor task", zap.Any("panic", rec))
		}
	}()
	task()
}
