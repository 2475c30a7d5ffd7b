package sink

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"

	"github.com/coffersTech/scopelog"
)

// Forward ships records to a collector over HTTP in JSON-array batches. The
// logging goroutine only ever touches a bounded queue; when the queue is
// full the record is dropped and counted rather than blocking the caller.
type Forward struct {
	url        string
	token      string
	instanceID string
	client     *http.Client

	queue   chan []byte
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64

	mu    sync.Mutex
	arena fastjson.Arena
}

// ForwardOptions configures a Forward sink.
type ForwardOptions struct {
	URL       string
	Token     string
	QueueSize int           // default 10000
	BatchSize int           // default 100
	Interval  time.Duration // default 1s
	Timeout   time.Duration // default 5s
}

func NewForward(opts ForwardOptions) (*Forward, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("sink: forward sink needs a URL")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	f := &Forward{
		url:        opts.URL,
		token:      opts.Token,
		instanceID: uuid.NewString(),
		client:     &http.Client{Timeout: opts.Timeout},
		queue:      make(chan []byte, opts.QueueSize),
		done:       make(chan struct{}),
	}
	f.wg.Add(1)
	go f.runLoop(opts.BatchSize, opts.Interval)
	return f, nil
}

func (f *Forward) Handle(_ context.Context, r scopelog.Record) (bool, error) {
	f.mu.Lock()
	row := appendRecordJSON(&f.arena, nil, r)
	f.arena.Reset()
	f.mu.Unlock()
	select {
	case f.queue <- row:
	default:
		f.dropped.Add(1)
	}
	return true, nil
}

// Dropped reports records discarded on queue overflow.
func (f *Forward) Dropped() uint64 { return f.dropped.Load() }

func (f *Forward) runLoop(batchSize int, interval time.Duration) {
	defer f.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var batch [][]byte
	send := func() {
		if len(batch) == 0 {
			return
		}
		f.post(batch)
		batch = nil
	}

	for {
		select {
		case row := <-f.queue:
			batch = append(batch, row)
			if len(batch) >= batchSize {
				send()
			}
		case <-ticker.C:
			send()
		case <-f.done:
			for {
				select {
				case row := <-f.queue:
					batch = append(batch, row)
				default:
					send()
					return
				}
			}
		}
	}
}

func (f *Forward) post(batch [][]byte) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range batch {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(row)
	}
	buf.WriteByte(']')

	req, err := http.NewRequest(http.MethodPost, f.url, &buf)
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Instance-ID", f.instanceID)
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scopelog: forward sink: %v\n", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "scopelog: forward sink: HTTP %d\n", resp.StatusCode)
	}
}

// Close flushes the queue and stops the background sender.
func (f *Forward) Close() error {
	close(f.done)
	f.wg.Wait()
	return nil
}
