package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/valyala/fastjson"
)

func TestForwardBatchesAndFlushesOnClose(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	var auths, instances []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		auths = append(auths, r.Header.Get("Authorization"))
		instances = append(instances, r.Header.Get("X-Instance-ID"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f, err := NewForward(ForwardOptions{
		URL:      srv.URL + "/ingest",
		Token:    "sekrit",
		Interval: time.Hour, // only Close may flush
	})
	if err != nil {
		t.Fatal(err)
	}

	const total = 7
	for i := 0; i < total; i++ {
		r := sampleRecord()
		r.Line = i
		if cont, err := f.Handle(context.Background(), r); !cont || err != nil {
			t.Fatalf("Handle = (%v, %v)", cont, err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) == 0 {
		t.Fatal("no batch posted")
	}
	rows := 0
	for _, body := range bodies {
		v, err := fastjson.ParseBytes(body)
		if err != nil {
			t.Fatalf("batch is not valid JSON: %v", err)
		}
		arr, err := v.Array()
		if err != nil {
			t.Fatalf("batch is not an array: %v", err)
		}
		rows += len(arr)
	}
	if rows != total {
		t.Errorf("collector received %d rows, want %d", rows, total)
	}
	if auths[0] != "Bearer sekrit" {
		t.Errorf("auth header = %q", auths[0])
	}
	if instances[0] == "" {
		t.Error("instance id header missing")
	}
	if f.Dropped() != 0 {
		t.Errorf("dropped %d rows unexpectedly", f.Dropped())
	}
}

func TestForwardRequiresURL(t *testing.T) {
	if _, err := NewForward(ForwardOptions{}); err == nil {
		t.Fatal("expected error for missing URL")
	}
}
