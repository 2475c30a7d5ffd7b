package sink

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/scopelog"
)

// JSONL emits line-delimited JSON. One arena is reused across records under
// the lock, so steady-state emission does not allocate per field.
type JSONL struct {
	mu    sync.Mutex
	w     *bufio.Writer
	arena fastjson.Arena
	buf   []byte
}

func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{w: bufio.NewWriter(w)}
}

func (j *JSONL) Handle(_ context.Context, r scopelog.Record) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buf = appendRecordJSON(&j.arena, j.buf[:0], r)
	j.arena.Reset()
	j.buf = append(j.buf, '\n')
	if _, err := j.w.Write(j.buf); err != nil {
		return true, err
	}
	return true, j.w.Flush()
}

// Close flushes buffered output.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.w.Flush()
}
