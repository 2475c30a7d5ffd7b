// Package sink provides concrete scopelog handlers: human-readable text,
// line-delimited JSON, compressed (optionally sealed) segment files, and a
// batching HTTP forwarder. The core mandates no wire format; each sink here
// defines its own.
package sink

import (
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/scopelog"
)

// appendRecordJSON renders r as a single JSON object. The arena is reset by
// the caller between records. Duplicate attr keys collapse to the last
// write; the text sink is the renderer that preserves them all.
func appendRecordJSON(a *fastjson.Arena, dst []byte, r scopelog.Record) []byte {
	o := a.NewObject()
	o.Set("ts", a.NewNumberString(strconv.FormatInt(r.Time.UnixNano(), 10)))
	o.Set("level", a.NewString(r.Level.String()))
	o.Set("message", a.NewString(r.Text()))
	o.Set("file", a.NewString(path.Base(r.File)))
	o.Set("line", a.NewNumberInt(r.Line))
	o.Set("site", a.NewNumberInt(int(r.Site)))
	if r.TaskID != "" {
		o.Set("task", a.NewString(r.TaskID))
	}
	attrs := a.NewObject()
	n := 0
	r.AllAttrs(func(at scopelog.Attr) bool {
		attrs.Set(at.Key, jsonValue(a, at.Value))
		n++
		return true
	})
	if n > 0 {
		o.Set("attrs", attrs)
	}
	return o.MarshalTo(dst)
}

func jsonValue(a *fastjson.Arena, v any) *fastjson.Value {
	switch x := v.(type) {
	case nil:
		return a.NewNull()
	case string:
		return a.NewString(x)
	case bool:
		if x {
			return a.NewTrue()
		}
		return a.NewFalse()
	case int:
		return a.NewNumberInt(x)
	case int32:
		return a.NewNumberInt(int(x))
	case int64:
		return a.NewNumberString(strconv.FormatInt(x, 10))
	case uint64:
		return a.NewNumberString(strconv.FormatUint(x, 10))
	case float64:
		return a.NewNumberFloat64(x)
	case float32:
		return a.NewNumberFloat64(float64(x))
	case time.Duration:
		return a.NewString(x.String())
	case error:
		return a.NewString(x.Error())
	case fmt.Stringer:
		return a.NewString(x.String())
	default:
		return a.NewString(fmt.Sprint(x))
	}
}
