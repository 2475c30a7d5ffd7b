package scopelog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// Handler consumes accepted records. The router invokes it synchronously on
// the logging goroutine with no extra synchronization; safety under
// concurrent invocation is the handler's responsibility. Returning false
// stops dispatch to handlers further out in the chain.
type Handler interface {
	Handle(ctx context.Context, r Record) (bool, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, r Record) (bool, error)

func (f HandlerFunc) Handle(ctx context.Context, r Record) (bool, error) {
	return f(ctx, r)
}

// RecordFilter gates delivery of a constructed record to one handler.
type RecordFilter func(r Record) bool

// AsyncHandler decouples a slow handler from the logging goroutine with a
// bounded queue. When the queue is full the record is dropped and counted;
// logging never blocks on the wrapped handler.
type AsyncHandler struct {
	h       Handler
	queue   chan Record
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// Async wraps h with a queue of the given depth and starts its worker.
func Async(h Handler, depth int) *AsyncHandler {
	if depth <= 0 {
		depth = 1024
	}
	a := &AsyncHandler{
		h:     h,
		queue: make(chan Record, depth),
		done:  make(chan struct{}),
	}
	a.wg.Add(1)
	go a.runLoop()
	return a
}

// Handle enqueues the record. It always continues dispatch; stop-propagation
// decisions cannot be made asynchronously.
func (a *AsyncHandler) Handle(_ context.Context, r Record) (bool, error) {
	select {
	case a.queue <- r:
	default:
		a.dropped.Add(1)
	}
	return true, nil
}

func (a *AsyncHandler) runLoop() {
	defer a.wg.Done()
	for {
		select {
		case r := <-a.queue:
			a.deliver(r)
		case <-a.done:
			for {
				select {
				case r := <-a.queue:
					a.deliver(r)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncHandler) deliver(r Record) {
	defer func() {
		if p := recover(); p != nil {
			reportFailure(a.h, fmt.Errorf("panic: %v", p))
		}
	}()
	if _, err := a.h.Handle(context.Background(), r); err != nil {
		reportFailure(a.h, err)
	}
}

// Dropped reports how many records were discarded on queue overflow.
func (a *AsyncHandler) Dropped() uint64 { return a.dropped.Load() }

// Close drains the queue, stops the worker, and closes the wrapped handler
// if it is an io.Closer.
func (a *AsyncHandler) Close() error {
	close(a.done)
	a.wg.Wait()
	if c, ok := a.h.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// fallback is the last-resort sink for handler failures. It must never fail
// itself, so it is a bare unconditional writer. Repeated identical failures
// from the same handler are suppressed to avoid cascades.
var fallback = struct {
	mu   sync.Mutex
	w    io.Writer
	last map[string]string
}{w: os.Stderr, last: make(map[string]string)}

func reportFailure(h Handler, err error) {
	if err == nil {
		return
	}
	key := fmt.Sprintf("%T", h)
	msg := err.Error()
	fallback.mu.Lock()
	defer fallback.mu.Unlock()
	if fallback.last[key] == msg {
		return
	}
	fallback.last[key] = msg
	fmt.Fprintf(fallback.w, "scopelog: handler %s failed: %s\n", key, msg)
}

// setFallbackWriter is test support.
func setFallbackWriter(w io.Writer) {
	fallback.mu.Lock()
	defer fallback.mu.Unlock()
	fallback.w = w
	fallback.last = make(map[string]string)
}
