package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ErrNeverSettles is returned when a promise is pending and neither host
// work nor timers are left that could settle it.
var ErrNeverSettles = errors.New("promise can never settle")

// idleCheck is how often a waiting Await checks whether the loop ran dry.
const idleCheck = 20 * time.Millisecond

// hostWork counts goroutines working for the runtime whose results have not
// been handed to the loop yet.
type hostWork struct {
	mu      sync.Mutex
	n       int
	changed chan struct{}
}

func newHostWork() *hostWork {
	return &hostWork{changed: make(chan struct{}, 1)}
}

func (w *hostWork) add(delta int) {
	w.mu.Lock()
	w.n += delta
	w.mu.Unlock()

	select {
	case w.changed <- struct{}{}:
	default:
	}
}

func (w *hostWork) idle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n == 0
}

// spawn runs work on a new goroutine. The function it returns runs later on
// the event loop.
func (c *Context) spawn(work func() func()) {
	c.work.add(1)
	go func() {
		done := work()
		queued := c.loop.RunOnLoop(func(*goja.Runtime) {
			defer c.work.add(-1)
			if done != nil {
				done()
			}
		})
		if !queued {
			c.work.add(-1)
		}
	}()
}

// settle runs the event loop in the background until the promise v
// settles. The runtime belongs to the loop until settle returns.
func (c *Context) settle(ctx context.Context, v goja.Value, p *goja.Promise) error {
	settled := make(chan struct{})
	var once sync.Once
	mark := c.vm.ToValue(func(goja.FunctionCall) goja.Value {
		once.Do(func() { close(settled) })
		return goja.Undefined()
	})
	then, ok := goja.AssertFunction(v.ToObject(c.vm).Get("then"))
	if !ok {
		return ErrNotAPromise
	}
	if _, err := then(v, mark, mark); err != nil {
		return err
	}

	ticker := time.NewTicker(idleCheck)
	defer ticker.Stop()

	c.loop.Start()
	for {
		select {
		case <-settled:
			c.loop.Stop()
			return nil
		case <-ctx.Done():
			c.loop.Stop()
			return ctx.Err()
		case <-c.work.changed:
		case <-ticker.C:
		}
		if !c.work.idle() {
			continue
		}

		timers := c.loop.Stop()
		if p.State() != goja.PromiseStatePending {
			return nil
		}
		if timers == 0 && c.work.idle() {
			return ErrNeverSettles
		}
		c.loop.Start()
	}
}
