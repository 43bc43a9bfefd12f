package aio

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/kestrelio/aio/internal/driver"
	"github.com/kestrelio/aio/internal/interfaces"
	"github.com/kestrelio/aio/internal/logging"
)

// Instance is implemented by anything a Loop can multiplex: a concrete
// stream driver registers itself once via Loop.Attach and thereafter
// receives OnEvent callbacks on the loop's single worker goroutine.
// Implementations normally live in package streams, so the hooks are
// exported even though application code never calls them directly.
type Instance interface {
	// Handle returns the native descriptor to watch.
	Handle() uintptr
	// Mode returns the current read/write interest.
	Mode() driver.Mode
	// OnOrder is called on the loop thread, once per RequestOrder, during
	// the order phase of the loop iteration following the request. This
	// is where an instance attempts the actual read/write/connect syscall
	// against its descriptor.
	OnOrder()
	// OnEvent is called on the loop thread when the driver reports
	// readiness or completion for this instance.
	OnEvent(ev driver.Event)
	// OnClose is called once when the loop removes this instance,
	// either because Close was requested or the loop itself stopped.
	OnClose()
}

// Loop is a single-threaded event loop multiplexing some number of
// Instances over one OS Driver (epoll/kqueue/IOCP). Exactly one
// goroutine ("the loop thread") runs Driver.WaitOnce and an Instance's
// OnOrder/OnEvent hooks; Wake, Attach, Modify and Detach may reach the
// Driver from other goroutines, and Detach runs the instance's OnClose
// hook on the goroutine that calls it. Application code queues work onto
// the loop via AddTask/Dispatch instead of touching instances directly
// from other goroutines.
type Loop struct {
	drv driver.Driver
	log *logging.Logger

	obsMu    sync.Mutex
	observer interfaces.Observer

	mu         sync.Mutex
	instances  map[uintptr]Instance
	instKeys   map[Instance]uintptr
	tasks      []func()
	timers     []*timerEntry
	orderQueue []Instance
	ordering   map[Instance]bool
	nextKey    uintptr
	running    bool
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type timerEntry struct {
	at       time.Time
	fn       func()
	cancelled bool
}

var (
	defaultLoop     *Loop
	defaultLoopOnce sync.Once
	defaultLoopErr  error
)

// Default returns the process-wide lazily-initialized Loop, starting it
// on first use.
func Default() (*Loop, error) {
	defaultLoopOnce.Do(func() {
		defaultLoop, defaultLoopErr = NewLoop(true)
	})
	return defaultLoop, defaultLoopErr
}

// NewLoop constructs a Loop and, if autoStart is true, starts its worker
// goroutine immediately.
func NewLoop(autoStart bool) (*Loop, error) {
	drv := driver.New()
	if err := drv.Init(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		drv:       drv,
		log:       logging.Default(),
		instances: make(map[uintptr]Instance),
		instKeys:  make(map[Instance]uintptr),
		ordering:  make(map[Instance]bool),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if autoStart {
		l.Start()
	}
	return l, nil
}

// Start launches the loop's worker goroutine. Calls after the first, or
// after Release, are no-ops.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.running || l.closed {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	go l.run(l.ctx)
}

// Release stops the loop, closing every attached instance and releasing
// the underlying driver. Idempotent.
func (l *Loop) Release() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	wasRunning := l.running
	l.mu.Unlock()

	l.cancel()
	if wasRunning {
		l.drv.Wake()
		<-l.done
	} else {
		l.teardown()
	}
}

// AddTask schedules fn to run on the loop thread at the start of its next
// iteration. Safe to call from any goroutine.
func (l *Loop) AddTask(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.drv.Wake()
}

// Dispatch schedules fn to run on the loop thread after delay. The
// returned cancel function prevents fn from running if called before the
// delay elapses; it is a no-op afterward.
func (l *Loop) Dispatch(fn func(), delay time.Duration) (cancelFn func()) {
	entry := &timerEntry{at: time.Now().Add(delay), fn: fn}
	l.mu.Lock()
	l.timers = append(l.timers, entry)
	l.mu.Unlock()
	l.drv.Wake()
	return func() {
		l.mu.Lock()
		entry.cancelled = true
		l.mu.Unlock()
	}
}

// Wake interrupts a blocked WaitOnce, forcing the loop to re-run its task
// and timer phases immediately.
func (l *Loop) Wake() error {
	return l.drv.Wake()
}

// RequestOrder enqueues inst for the order phase of the loop's next
// iteration, where its OnOrder hook is invoked on the loop thread. Safe to
// call from any goroutine. Calling it more than once before the order
// phase runs is a no-op past the first call: an instance appears in the
// order queue at most once per iteration.
func (l *Loop) RequestOrder(inst Instance) {
	l.mu.Lock()
	if l.ordering[inst] {
		l.mu.Unlock()
		return
	}
	l.ordering[inst] = true
	l.orderQueue = append(l.orderQueue, inst)
	l.mu.Unlock()
	l.drv.Wake()
}

// runOrders drains the order queue and invokes OnOrder for each instance
// on the loop thread. The ordering flag is cleared before OnOrder runs, so
// a RequestOrder call made from within OnOrder re-enqueues the instance
// for the following iteration instead of being lost or deduped away.
func (l *Loop) runOrders() {
	l.mu.Lock()
	orders := l.orderQueue
	l.orderQueue = nil
	for _, inst := range orders {
		delete(l.ordering, inst)
	}
	l.mu.Unlock()
	for _, inst := range orders {
		inst.OnOrder()
	}
}

// SetObserver installs the Observer every Stream created against this
// Loop is attached to by default. Concrete stream constructors in
// package streams call Observer to pick this up when they wrap a new
// RawStream.
func (l *Loop) SetObserver(o interfaces.Observer) {
	l.obsMu.Lock()
	l.observer = o
	l.obsMu.Unlock()
}

// Observer returns the Loop's default Observer, or NoOpObserver if none
// has been set.
func (l *Loop) Observer() interfaces.Observer {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	if l.observer == nil {
		return NoOpObserver{}
	}
	return l.observer
}

// Attach registers an Instance with the driver and assigns it an opaque
// key used to look it up again when events arrive. Concrete stream
// implementations in package streams call this when they construct a
// socket/listener/UDP endpoint.
func (l *Loop) Attach(inst Instance) (uintptr, error) {
	l.mu.Lock()
	l.nextKey++
	key := l.nextKey
	l.instances[key] = inst
	l.instKeys[inst] = key
	l.mu.Unlock()

	if err := l.drv.Attach(inst.Handle(), key, inst.Mode()); err != nil {
		l.mu.Lock()
		delete(l.instances, key)
		delete(l.instKeys, inst)
		l.mu.Unlock()
		return 0, err
	}
	return key, nil
}

// Modify updates the registered interest for an already-attached instance
// to the given mode. It is a no-op for an instance that is not attached.
func (l *Loop) Modify(inst Instance, mode driver.Mode) error {
	l.mu.Lock()
	key, ok := l.instKeys[inst]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return l.drv.Modify(inst.Handle(), key, mode)
}

// Detach removes an instance from the driver and invokes its OnClose hook.
func (l *Loop) Detach(inst Instance) error {
	l.mu.Lock()
	key, ok := l.instKeys[inst]
	if ok {
		delete(l.instances, key)
		delete(l.instKeys, inst)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}
	err := l.drv.Detach(inst.Handle(), key)
	inst.OnClose()
	return err
}

// run is the loop's worker goroutine body: task phase, order phase, timer
// phase, wait phase, dispatch phase, repeated until ctx is cancelled.
func (l *Loop) run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)
	defer l.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.runTasks()
		l.runOrders()
		timeout := l.runTimers()

		events, err := l.drv.WaitOnce(timeout)
		if err != nil {
			l.log.Errorf("loop: wait error: %v", err)
			continue
		}

		l.mu.Lock()
		select {
		case <-ctx.Done():
			l.mu.Unlock()
			return
		default:
		}
		for _, ev := range events {
			inst, ok := l.instances[ev.Key]
			if !ok {
				continue
			}
			l.mu.Unlock()
			inst.OnEvent(ev)
			l.mu.Lock()
		}
		l.mu.Unlock()
	}
}

// runTasks drains the task queue, running each on the loop thread.
func (l *Loop) runTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()
	for _, fn := range tasks {
		fn()
	}
}

// runTimers fires any expired Dispatch callbacks and returns the number
// of milliseconds until the next one is due, or -1 if none are pending
// (the driver then waits indefinitely for I/O or a Wake).
func (l *Loop) runTimers() int {
	l.mu.Lock()
	now := time.Now()
	var due []func()
	remaining := l.timers[:0]
	nextDelay := -1
	for _, t := range l.timers {
		if t.cancelled {
			continue
		}
		if !t.at.After(now) {
			due = append(due, t.fn)
			continue
		}
		remaining = append(remaining, t)
		d := int(t.at.Sub(now) / time.Millisecond)
		if nextDelay == -1 || d < nextDelay {
			nextDelay = d
		}
	}
	l.timers = remaining
	l.mu.Unlock()

	for _, fn := range due {
		fn()
	}
	if len(due) > 0 {
		return 0
	}
	return nextDelay
}

// teardown closes every remaining instance and releases the driver. It
// runs once: as the loop thread exits, or from Release for a loop that
// was never started.
func (l *Loop) teardown() {
	l.mu.Lock()
	remaining := make(map[uintptr]Instance, len(l.instances))
	for k, v := range l.instances {
		remaining[k] = v
	}
	l.instances = make(map[uintptr]Instance)
	l.mu.Unlock()

	for key, inst := range remaining {
		l.drv.Detach(inst.Handle(), key)
		inst.OnClose()
	}
	l.drv.Close()
}
