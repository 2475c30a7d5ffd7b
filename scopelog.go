// Package scopelog is a structured logging core with scope-routed dispatch.
//
// Configuration (threshold, handlers, context attributes) lives in an
// immutable per-task scope chain carried on context.Context, layered over a
// process-wide chain managed with Attach. Filtering happens before a record
// is constructed: a rejected call costs a threshold compare and one atomic
// site lookup, and never evaluates lazy message or attribute values.
// Per-call-site identifiers enable rate limiting and deduplication of noisy
// sites.
package scopelog

import "context"

// Log emits a record at the given level. msg may be any value; wrap it with
// Lazy to defer an expensive computation until the call is accepted.
func Log(ctx context.Context, level Level, msg any, attrs ...Attr) {
	logAt(ctx, 1, level, msg, attrs)
}

// LogDepth is Log for wrapper functions: calldepth extra stack frames sit
// between the real call site and LogDepth.
func LogDepth(ctx context.Context, calldepth int, level Level, msg any, attrs ...Attr) {
	logAt(ctx, calldepth+1, level, msg, attrs)
}

func Debug(ctx context.Context, msg any, attrs ...Attr) {
	logAt(ctx, 1, LevelDebug, msg, attrs)
}

func Info(ctx context.Context, msg any, attrs ...Attr) {
	logAt(ctx, 1, LevelInfo, msg, attrs)
}

func Warn(ctx context.Context, msg any, attrs ...Attr) {
	logAt(ctx, 1, LevelWarn, msg, attrs)
}

func Error(ctx context.Context, msg any, attrs ...Attr) {
	logAt(ctx, 1, LevelError, msg, attrs)
}

// Enabled reports whether level passes the structural threshold of the
// chain visible from ctx. It does not consult per-site overrides; use it to
// guard blocks whose cost dwarfs a log call.
func Enabled(ctx context.Context, level Level) bool {
	return level >= ScopeOf(ctx).threshold()
}

func logAt(ctx context.Context, extra int, level Level, msg any, attrs []Attr) {
	s := ScopeOf(ctx)
	site := callerSite(extra + 1)
	if !site.accept(level, s.threshold()) {
		return
	}
	dispatch(ctx, s, site, level, msg, attrs)
}

// Emit dispatches an externally built record (ingestion, replay) through the
// chain visible from ctx. It honors the scope threshold but bypasses site
// registration and rate limits; zero Time and TaskID are filled in.
func Emit(ctx context.Context, r Record) {
	s := ScopeOf(ctx)
	if r.Level < s.threshold() {
		stats.calls.Add(1)
		stats.filtered.Add(1)
		return
	}
	stats.calls.Add(1)
	stats.accepted.Add(1)
	if r.Time.IsZero() {
		r.Time = timeNow()
	}
	if r.TaskID == "" {
		r.TaskID = s.effectiveTaskID()
	}
	if inherited := s.contextAttrs(); len(inherited) > 0 && r.Context == nil {
		r.Context = dropShadowed(inherited, r.Attrs)
	}
	deliver(ctx, s, r)
}
