package scopelog

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Scope is one immutable node in a task's dynamic configuration chain. A
// node can bind a threshold, a handler (with optional delivery gates),
// context attrs, or a task id. Pushing a node wraps its parent; nothing is
// ever mutated after publication, so reads need no locks.
type Scope struct {
	parent *Scope

	level    Level
	hasLevel bool

	handler   Handler
	minLevel  Level // delivery gate for this node's handler only
	hasMin    bool
	recFilter RecordFilter

	attrs  []Attr
	taskID string

	// detached is non-nil on process-wide nodes only; a true value hides the
	// node from walks until the next prune.
	detached *atomic.Bool
}

type scopeCtxKey struct{}

// processScope is the outermost ancestor of every chain: handlers and levels
// attached process-wide. Mutated only under attachMu, read via atomic load.
var (
	processScope atomic.Pointer[Scope]
	attachMu     sync.Mutex

	defaultLevel atomic.Int32
)

func init() {
	defaultLevel.Store(int32(DefaultLevel))
}

// SetThreshold sets the process-wide minimum level used when no scope in the
// chain defines one.
func SetThreshold(l Level) { defaultLevel.Store(int32(l)) }

// Threshold returns the process-wide minimum level.
func Threshold() Level { return Level(defaultLevel.Load()) }

// ScopeOf returns the innermost scope carried by ctx, or nil when ctx only
// sees the process chain.
func ScopeOf(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeCtxKey{}).(*Scope)
	return s
}

func withScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, s)
}

// WithLevel pushes a threshold node. The previous threshold is restored
// simply by using the parent ctx again, however the nested unit exits.
func WithLevel(ctx context.Context, l Level) context.Context {
	return withScope(ctx, &Scope{parent: ScopeOf(ctx), level: l, hasLevel: true})
}

// WithHandler pushes a handler node. Records logged under the returned ctx
// reach h before any handler bound further out.
func WithHandler(ctx context.Context, h Handler) context.Context {
	return withScope(ctx, &Scope{parent: ScopeOf(ctx), handler: h})
}

// WithAttrs pushes context attributes inherited by every record logged under
// the returned ctx. Inner values shadow outer ones on key collision.
func WithAttrs(ctx context.Context, attrs ...Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	return withScope(ctx, &Scope{parent: ScopeOf(ctx), attrs: attrs})
}

// WithTask starts a new logical task: records logged under the returned ctx
// carry the returned task id.
func WithTask(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return withScope(ctx, &Scope{parent: ScopeOf(ctx), taskID: id}), id
}

// walk visits the effective chain innermost-first: the ctx-local nodes, then
// the process-wide nodes.
func walk(s *Scope, visit func(*Scope) bool) {
	for n := s; n != nil; n = n.parent {
		if !visit(n) {
			return
		}
	}
	for n := processScope.Load(); n != nil; n = n.parent {
		if n.detached != nil && n.detached.Load() {
			continue
		}
		if !visit(n) {
			return
		}
	}
}

// threshold resolves the effective minimum level: innermost node that
// defines one wins (shadowing, not merging).
func (s *Scope) threshold() Level {
	min := Threshold()
	walk(s, func(n *Scope) bool {
		if n.hasLevel {
			min = n.level
			return false
		}
		return true
	})
	return min
}

func (s *Scope) effectiveTaskID() string {
	id := ""
	walk(s, func(n *Scope) bool {
		if n.taskID != "" {
			id = n.taskID
			return false
		}
		return true
	})
	return id
}

// contextAttrs merges attrs across the whole chain, innermost values taking
// precedence on key collision. Order in the result is outermost-first so
// last-write-wins renderers agree with precedence.
func (s *Scope) contextAttrs() []Attr {
	var nodes []*Scope
	walk(s, func(n *Scope) bool {
		if len(n.attrs) > 0 {
			nodes = append(nodes, n)
		}
		return true
	})
	if len(nodes) == 0 {
		return nil
	}
	var out []Attr
	pos := make(map[string]int)
	for i := len(nodes) - 1; i >= 0; i-- {
		for _, a := range nodes[i].attrs {
			if j, ok := pos[a.Key]; ok {
				out[j] = a
				continue
			}
			pos[a.Key] = len(out)
			out = append(out, a)
		}
	}
	return out
}

// Registration is a scoped handle for a process-wide handler; Close
// detaches it.
type Registration struct {
	flag *atomic.Bool
	once sync.Once
}

// AttachOption configures a process-wide handler registration.
type AttachOption func(*Scope) error

// MinLevel delivers to the handler only at or above l. This is a delivery
// gate, not a threshold: it does not stop records from reaching outer
// handlers.
func MinLevel(l Level) AttachOption {
	return func(s *Scope) error {
		s.minLevel, s.hasMin = l, true
		return nil
	}
}

// ContextAttrs binds attrs inherited by every record the chain dispatches.
func ContextAttrs(attrs ...Attr) AttachOption {
	return func(s *Scope) error {
		s.attrs = attrs
		return nil
	}
}

// FilterFunc gates delivery to the handler with fn.
func FilterFunc(fn RecordFilter) AttachOption {
	return func(s *Scope) error {
		s.recFilter = fn
		return nil
	}
}

// FilterExpr compiles src (see CompileFilter) and gates delivery with it.
// Compile errors surface here, at registration time.
func FilterExpr(src string) AttachOption {
	return func(s *Scope) error {
		fn, err := CompileFilter(src)
		if err != nil {
			return err
		}
		s.recFilter = fn
		return nil
	}
}

// Attach registers h process-wide and returns a Registration whose Close
// unregisters it. Handlers attached later sit further in and are invoked
// first.
func Attach(h Handler, opts ...AttachOption) (*Registration, error) {
	node := &Scope{handler: h, detached: new(atomic.Bool)}
	for _, opt := range opts {
		if err := opt(node); err != nil {
			return nil, err
		}
	}
	attachMu.Lock()
	defer attachMu.Unlock()
	node.parent = pruneLocked(processScope.Load())
	processScope.Store(node)
	return &Registration{flag: node.detached}, nil
}

// Close detaches the handler. Safe to call more than once.
func (r *Registration) Close() {
	r.once.Do(func() {
		r.flag.Store(true)
		attachMu.Lock()
		defer attachMu.Unlock()
		processScope.Store(pruneLocked(processScope.Load()))
	})
}

// pruneLocked rebuilds the process chain without detached nodes. Copies
// share the detached flag pointer, so outstanding Registrations stay valid.
func pruneLocked(head *Scope) *Scope {
	var live []*Scope
	dirty := false
	for n := head; n != nil; n = n.parent {
		if n.detached != nil && n.detached.Load() {
			dirty = true
			continue
		}
		live = append(live, n)
	}
	if !dirty {
		return head
	}
	var next *Scope
	for i := len(live) - 1; i >= 0; i-- {
		c := *live[i]
		c.parent = next
		next = &c
	}
	return next
}

// resetProcessScope is test support: it drops every process-wide handler.
func resetProcessScope() {
	attachMu.Lock()
	defer attachMu.Unlock()
	processScope.Store(nil)
}
