package aio

import (
	"sync"
	"testing"
	"time"

	"github.com/kestrelio/aio/internal/driver"
)

// orderProbe is a minimal Instance used only to exercise the order-queue
// mechanics directly, without a real driver-backed descriptor.
type orderProbe struct {
	loop *Loop
	done chan struct{}

	mu      sync.Mutex
	calls   int
	reorder bool
}

func (p *orderProbe) Handle() uintptr      { return 0 }
func (p *orderProbe) Mode() driver.Mode    { return 0 }
func (p *orderProbe) OnEvent(driver.Event) {}
func (p *orderProbe) OnClose()             {}

func (p *orderProbe) OnOrder() {
	p.mu.Lock()
	p.calls++
	n := p.calls
	reorder := p.reorder
	p.reorder = false
	p.mu.Unlock()

	if reorder {
		// Requesting again from within OnOrder must land on the
		// following iteration, not be dropped or re-run immediately:
		// the dedup flag is cleared before OnOrder runs.
		p.loop.RequestOrder(p)
	}
	if n == 2 {
		close(p.done)
	}
}

func TestLoopOrderPhaseDedupsAndReenqueues(t *testing.T) {
	loop, err := NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	done := make(chan struct{})
	p := &orderProbe{loop: loop, done: done, reorder: true}

	// Two RequestOrder calls before the order phase runs must still
	// result in exactly one OnOrder call for that iteration.
	loop.RequestOrder(p)
	loop.RequestOrder(p)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnOrder never reached the expected call count")
	}

	p.mu.Lock()
	calls := p.calls
	p.mu.Unlock()
	if calls != 2 {
		t.Fatalf("OnOrder called %d times, want 2 (one deduped batch, one re-request)", calls)
	}
}

func TestLoopAddTask(t *testing.T) {
	loop, err := NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	done := make(chan struct{})
	loop.AddTask(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestLoopDispatchFires(t *testing.T) {
	loop, err := NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	done := make(chan struct{})
	loop.Dispatch(func() { close(done) }, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestLoopDispatchCancel(t *testing.T) {
	loop, err := NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Release()

	fired := make(chan struct{})
	cancel := loop.Dispatch(func() { close(fired) }, 50*time.Millisecond)
	cancel()

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestLoopReleaseIsIdempotent(t *testing.T) {
	loop, err := NewLoop(true)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	loop.Release()
	loop.Release()
}

func TestLoopReleaseWithoutStart(t *testing.T) {
	loop, err := NewLoop(false)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	loop.Release()
}

func TestDefaultLoopIsSingleton(t *testing.T) {
	a, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	b, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if a != b {
		t.Fatal("Default() returned distinct loops")
	}
}
