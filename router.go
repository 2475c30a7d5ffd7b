package scopelog

import (
	"context"
	"fmt"
	"reflect"
)

// dispatch delivers a freshly accepted call to every handler bound in the
// effective chain, innermost first. Timestamp, task id and the merged scope
// context are captured here, not at the call site, so rejected calls never
// pay for them.
func dispatch(ctx context.Context, s *Scope, site *siteInfo, level Level, msg any, attrs []Attr) {
	r := Record{
		Time:    timeNow(),
		Level:   level,
		Site:    site.id,
		File:    site.file,
		Line:    site.line,
		Func:    site.fn,
		TaskID:  s.effectiveTaskID(),
		Message: resolveValue(msg),
		Attrs:   resolveAttrs(attrs),
	}
	if inherited := s.contextAttrs(); len(inherited) > 0 {
		r.Context = dropShadowed(inherited, r.Attrs)
	}
	deliver(ctx, s, r)
}

// deliver walks the chain innermost-first and hands r to every bound
// handler that passes its delivery gates. A handler returning false stops
// propagation to outer handlers.
func deliver(ctx context.Context, s *Scope, r Record) {
	var seen map[Handler]bool
	walk(s, func(n *Scope) bool {
		h := n.handler
		if h == nil {
			return true
		}
		if seenHandler(&seen, h) {
			return true
		}
		if n.hasMin && r.Level < n.minLevel {
			return true
		}
		if n.recFilter != nil && !n.recFilter(r) {
			return true
		}
		return invoke(ctx, h, r)
	})
}

// seenHandler records h in *seen and reports whether it was already there.
// The same handler instance bound at several chain levels fires once;
// uncomparable handlers (bare funcs) are never deduplicated.
func seenHandler(seen *map[Handler]bool, h Handler) bool {
	if !reflect.TypeOf(h).Comparable() {
		return false
	}
	if (*seen)[h] {
		return true
	}
	if *seen == nil {
		*seen = make(map[Handler]bool)
	}
	(*seen)[h] = true
	return false
}

// invoke calls one handler, insulating the application from its errors and
// panics. A failing handler counts as continue-dispatch.
func invoke(ctx context.Context, h Handler, r Record) (cont bool) {
	cont = true
	defer func() {
		if p := recover(); p != nil {
			cont = true
			reportFailure(h, fmt.Errorf("panic: %v", p))
		}
	}()
	ok, err := h.Handle(ctx, r)
	if err != nil {
		reportFailure(h, err)
		return true
	}
	return ok
}

func resolveValue(v any) any {
	if fn, ok := v.(LazyValue); ok {
		return fn()
	}
	return v
}

func resolveAttrs(attrs []Attr) []Attr {
	for i := range attrs {
		if fn, ok := attrs[i].Value.(LazyValue); ok {
			attrs[i].Value = fn()
		}
	}
	return attrs
}

// dropShadowed removes inherited pairs whose key appears explicitly;
// explicit attrs win on collision.
func dropShadowed(inherited, explicit []Attr) []Attr {
	if len(explicit) == 0 {
		return inherited
	}
	out := inherited[:0:0]
	for _, a := range inherited {
		shadowed := false
		for _, e := range explicit {
			if e.Key == a.Key {
				shadowed = true
				break
			}
		}
		if !shadowed {
			out = append(out, a)
		}
	}
	return out
}
