package scopelog

import (
	"fmt"
	"time"
)

// Attr is one key-value pair attached to a record. Keys may repeat; the
// record preserves every pair in insertion order and leaves collision
// display policy to the sink (Text shows all, JSONL shows the last write).
type Attr struct {
	Key   string
	Value any
}

// LazyValue defers computing an attribute or message value until the record
// is known to be accepted. The router resolves it exactly once; a call that
// the filter rejects never invokes it.
type LazyValue func() any

// Lazy wraps fn as a deferred value.
func Lazy(fn func() any) LazyValue { return LazyValue(fn) }

// Common attr constructors.

func String(key, value string) Attr        { return Attr{key, value} }
func Int(key string, value int) Attr       { return Attr{key, value} }
func Int64(key string, value int64) Attr   { return Attr{key, value} }
func Float64(key string, v float64) Attr   { return Attr{key, v} }
func Bool(key string, value bool) Attr     { return Attr{key, value} }
func Any(key string, value any) Attr       { return Attr{key, value} }
func Err(err error) Attr                   { return Attr{"error", err} }
func Dur(key string, d time.Duration) Attr { return Attr{key, d} }

// Record is a single log event. It is constructed only after the filter
// accepts the call, and is treated as immutable once handed to handlers.
type Record struct {
	Time    time.Time
	Level   Level
	Site    SiteID
	File    string
	Line    int
	Func    string
	TaskID  string
	Message any
	Attrs   []Attr // explicit call-site pairs, insertion order
	Context []Attr // inherited scope pairs, colliding keys already removed
}

// Text renders the message. Lazy messages are resolved by the router before
// dispatch, so handlers normally see a concrete value here.
func (r *Record) Text() string {
	switch m := r.Message.(type) {
	case string:
		return m
	case LazyValue:
		return fmt.Sprint(m())
	case fmt.Stringer:
		return m.String()
	case error:
		return m.Error()
	default:
		return fmt.Sprint(m)
	}
}

// AllAttrs walks inherited context first, then explicit attrs, in display
// order. Explicit pairs therefore land last, which is what last-write-wins
// renderers want.
func (r *Record) AllAttrs(fn func(a Attr) bool) {
	for _, a := range r.Context {
		if !fn(a) {
			return
		}
	}
	for _, a := range r.Attrs {
		if !fn(a) {
			return
		}
	}
}
