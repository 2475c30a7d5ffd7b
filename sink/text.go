package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/coffersTech/scopelog"
)

const timeFmt = "20060102 15:04:05.000000"

// Text writes one human-readable line per record. It is safe for concurrent
// use and flushes after every record, so interleaved writers stay readable.
type Text struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewText(w io.Writer) *Text {
	return &Text{w: bufio.NewWriter(w)}
}

func (t *Text) Handle(_ context.Context, r scopelog.Record) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s %s %s:%d", r.Time.Format(timeFmt), r.Level.ShortString(), path.Base(r.File), r.Line)
	if r.TaskID != "" {
		fmt.Fprintf(t.w, " [%s]", r.TaskID)
	}
	t.w.WriteByte(' ')
	t.w.WriteString(indentLines(r.Text()))
	r.AllAttrs(func(a scopelog.Attr) bool {
		fmt.Fprintf(t.w, " %s=%v", a.Key, a.Value)
		return true
	})
	t.w.WriteByte('\n')
	return true, t.w.Flush()
}

// indentLines keeps multi-line messages attached to their header line.
func indentLines(s string) string {
	if !strings.ContainsRune(s, '\n') {
		return s
	}
	return strings.ReplaceAll(s, "\n", "\n\t")
}
