package scopelog

import (
	"fmt"
	"path"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SiteID is a stable per-call-site identifier, assigned monotonically the
// first time a site logs and reused for every later invocation.
type SiteID uint32

// Override is a per-site filter policy. Zero fields mean "inherit".
type Override struct {
	Level       Level
	HasLevel    bool
	Every       uint64        // accept calls 1, N+1, 2N+1, ...
	MinInterval time.Duration // accept at most once per interval
}

type siteInfo struct {
	id   SiteID
	file string
	line int
	fn   string

	calls    atomic.Uint64
	accepted atomic.Uint64
	lastEmit atomic.Int64 // unix nanos of last accepted record

	override atomic.Pointer[Override]
}

// SiteRule binds an Override to every site whose location matches Pattern.
// Patterns match the file basename ("store.go"), a trailing path glob
// ("engine/*.go"), an exact "file.go:42" coordinate, or a function name
// suffix prefixed with "func:".
type SiteRule struct {
	Pattern  string
	Override Override
}

var registry = struct {
	mu    sync.Mutex // guards registration and rule installs only
	byPC  sync.Map   // uintptr -> *siteInfo
	next  atomic.Uint32
	rules atomic.Pointer[[]SiteRule]
	all   []*siteInfo
}{}

// callerSite registers (or looks up) the call site skip frames above the
// caller. The fast path is a single lock-free map read.
func callerSite(skip int) *siteInfo {
	var pcs [1]uintptr
	if runtime.Callers(skip+2, pcs[:]) == 0 {
		return unknownSite()
	}
	pc := pcs[0]
	if v, ok := registry.byPC.Load(pc); ok {
		return v.(*siteInfo)
	}
	return registerSite(pc)
}

func registerSite(pc uintptr) *siteInfo {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if v, ok := registry.byPC.Load(pc); ok {
		return v.(*siteInfo)
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	s := &siteInfo{
		id:   SiteID(registry.next.Add(1)),
		file: f.File,
		line: f.Line,
		fn:   f.Function,
	}
	if rules := registry.rules.Load(); rules != nil {
		for i := range *rules {
			r := &(*rules)[i]
			if matchSite(r.Pattern, s.file, s.line, s.fn) {
				ov := r.Override
				s.override.Store(&ov)
				break
			}
		}
	}
	registry.all = append(registry.all, s)
	registry.byPC.Store(pc, s)
	return s
}

var unknown struct {
	once sync.Once
	site *siteInfo
}

func unknownSite() *siteInfo {
	unknown.once.Do(func() {
		registry.mu.Lock()
		defer registry.mu.Unlock()
		unknown.site = &siteInfo{id: SiteID(registry.next.Add(1)), file: "?", fn: "?"}
		registry.all = append(registry.all, unknown.site)
	})
	return unknown.site
}

// SetSiteRules replaces the installed rule set and re-resolves overrides for
// every already-registered site. First matching rule wins. Installing rules
// is rare; reading them from the log path costs one atomic load.
func SetSiteRules(rules []SiteRule) error {
	for i := range rules {
		if err := validateRule(&rules[i]); err != nil {
			return err
		}
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.rules.Store(&rules)
	for _, s := range registry.all {
		var ov *Override
		for i := range rules {
			r := &rules[i]
			if matchSite(r.Pattern, s.file, s.line, s.fn) {
				o := r.Override
				ov = &o
				break
			}
		}
		s.override.Store(ov)
	}
	return nil
}

func validateRule(r *SiteRule) error {
	if r.Pattern == "" {
		return fmt.Errorf("scopelog: site rule with empty pattern")
	}
	pat := strings.TrimPrefix(r.Pattern, "func:")
	pat = strings.TrimSuffix(pat, ":"+lineSuffix(pat))
	if _, err := path.Match(pat, "probe.go"); err != nil {
		return fmt.Errorf("scopelog: bad site pattern %q: %w", r.Pattern, err)
	}
	if r.Override.MinInterval < 0 {
		return fmt.Errorf("scopelog: negative interval in rule %q", r.Pattern)
	}
	return nil
}

func lineSuffix(pat string) string {
	i := strings.LastIndexByte(pat, ':')
	if i < 0 {
		return ""
	}
	if _, err := strconv.Atoi(pat[i+1:]); err != nil {
		return ""
	}
	return pat[i+1:]
}

func matchSite(pattern, file string, line int, fn string) bool {
	if rest, ok := strings.CutPrefix(pattern, "func:"); ok {
		return strings.HasSuffix(fn, rest)
	}
	if ls := lineSuffix(pattern); ls != "" {
		pattern = pattern[:len(pattern)-len(ls)-1]
		if n, _ := strconv.Atoi(ls); n != line {
			return false
		}
	}
	if !strings.ContainsRune(pattern, '/') {
		ok, _ := path.Match(pattern, path.Base(file))
		return ok
	}
	// Trailing-segment glob: "engine/*.go" matches ".../internal/engine/x.go".
	want := strings.Count(pattern, "/") + 1
	segs := strings.Split(file, "/")
	if len(segs) < want {
		return false
	}
	tail := strings.Join(segs[len(segs)-want:], "/")
	ok, _ := path.Match(pattern, tail)
	return ok
}

// SiteStats is a snapshot of one call site's counters.
type SiteStats struct {
	ID       SiteID
	File     string
	Line     int
	Func     string
	Calls    uint64
	Accepted uint64
}

// Sites snapshots every registered call site, in registration order.
func Sites() []SiteStats {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	out := make([]SiteStats, 0, len(registry.all))
	for _, s := range registry.all {
		out = append(out, SiteStats{
			ID:       s.id,
			File:     s.file,
			Line:     s.line,
			Func:     s.fn,
			Calls:    s.calls.Load(),
			Accepted: s.accepted.Load(),
		})
	}
	return out
}
