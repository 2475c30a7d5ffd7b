package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/scopelog"
	"github.com/coffersTech/scopelog/sink"
)

// relay accepts JSON log rows over HTTP and re-dispatches them through the
// process-wide scopelog chain, so the configured sinks, threshold and
// filters apply to forwarded logs exactly as they do to local ones.
type relay struct {
	parsers fastjson.ParserPool
	mux     *http.ServeMux
}

func newRelay() *relay {
	rl := &relay{mux: http.NewServeMux()}
	rl.mux.HandleFunc("/ingest", rl.handleIngest)
	rl.mux.HandleFunc("/stats", rl.handleStats)
	return rl
}

func (rl *relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rl.mux.ServeHTTP(w, r)
}

// handleIngest processes POST /ingest: a single JSON object or an array of
// them, in the row format the forward sink emits.
func (rl *relay) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	p := rl.parsers.Get()
	defer rl.parsers.Put(p)
	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	n := 0
	emit := func(row *fastjson.Value) {
		rec, err := rowToRecord(row)
		if err != nil {
			return
		}
		scopelog.Emit(r.Context(), rec)
		n++
	}
	if v.Type() == fastjson.TypeArray {
		arr, _ := v.Array()
		for _, row := range arr {
			emit(row)
		}
	} else {
		emit(v)
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ingested":%d}`, n)
}

func rowToRecord(row *fastjson.Value) (scopelog.Record, error) {
	var rec scopelog.Record
	levelStr := string(row.GetStringBytes("level"))
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := scopelog.ParseLevel(levelStr)
	if err != nil {
		return rec, err
	}
	rec.Level = level
	rec.Message = string(row.GetStringBytes("message"))
	if rec.Message == "" {
		rec.Message = string(row.GetStringBytes("msg"))
	}
	if ts := row.GetInt64("ts"); ts != 0 {
		rec.Time = time.Unix(0, ts)
	}
	rec.File = string(row.GetStringBytes("file"))
	rec.Line = row.GetInt("line")
	rec.TaskID = string(row.GetStringBytes("task"))
	if attrs := row.GetObject("attrs"); attrs != nil {
		attrs.Visit(func(key []byte, v *fastjson.Value) {
			rec.Attrs = append(rec.Attrs, scopelog.Any(string(key), jsonAny(v)))
		})
	}
	return rec, nil
}

func jsonAny(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeNull:
		return nil
	default:
		return v.String()
	}
}

// handleStats serves process-wide filter counters and per-site stats.
func (rl *relay) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := struct {
		Totals scopelog.Stats       `json:"totals"`
		Sites  []scopelog.SiteStats `json:"sites"`
	}{scopelog.Snapshot(), scopelog.Sites()}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// buildSinks constructs, wraps and attaches every configured sink. It
// returns the registrations plus the closers to run at shutdown, sink-first.
func buildSinks(cfg *scopelog.Config) ([]*scopelog.Registration, []io.Closer, error) {
	var regs []*scopelog.Registration
	var closers []io.Closer
	fail := func(err error) ([]*scopelog.Registration, []io.Closer, error) {
		for _, reg := range regs {
			reg.Close()
		}
		for _, c := range closers {
			c.Close()
		}
		return nil, nil, err
	}

	for i := range cfg.Sinks {
		sc := &cfg.Sinks[i]
		h, closer, err := buildSink(sc)
		if err != nil {
			return fail(err)
		}
		if sc.Async > 0 {
			a := scopelog.Async(h, sc.Async)
			h, closer = a, a
		}
		var opts []scopelog.AttachOption
		if sc.MinLevel != "" {
			l, err := scopelog.ParseLevel(sc.MinLevel)
			if err != nil {
				return fail(err)
			}
			opts = append(opts, scopelog.MinLevel(l))
		}
		if sc.Filter != "" {
			opts = append(opts, scopelog.FilterExpr(sc.Filter))
		}
		reg, err := scopelog.Attach(h, opts...)
		if err != nil {
			return fail(err)
		}
		regs = append(regs, reg)
		if closer != nil {
			closers = append(closers, closer)
		}
	}
	return regs, closers, nil
}

func buildSink(sc *scopelog.SinkConfig) (scopelog.Handler, io.Closer, error) {
	switch sc.Type {
	case "text":
		w, closer, err := openOutput(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		return sink.NewText(w), closer, nil
	case "jsonl":
		w, closer, err := openOutput(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		j := sink.NewJSONL(w)
		if closer == nil {
			return j, j, nil
		}
		return j, multiCloser{j, closer}, nil
	case "segment", "sealed":
		if sc.Dir == "" {
			return nil, nil, fmt.Errorf("logrelay: %s sink needs a dir", sc.Type)
		}
		var opts []sink.SegmentOption
		if sc.MaxBytes > 0 {
			opts = append(opts, sink.MaxFileBytes(sc.MaxBytes))
		}
		if sc.Type == "sealed" {
			keyFile := sc.KeyFile
			if keyFile == "" {
				keyFile = ".scopelog.key"
			}
			key, created, err := sink.LoadOrCreateKey(keyFile)
			if err != nil {
				return nil, nil, err
			}
			if created {
				fmt.Fprintf(os.Stderr, "logrelay: generated sealing key at %s\n", keyFile)
			}
			opts = append(opts, sink.Sealed(key))
		}
		s, err := sink.NewSegment(sc.Dir, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "forward":
		f, err := sink.NewForward(sink.ForwardOptions{URL: sc.URL, Token: sc.Token})
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	default:
		return nil, nil, fmt.Errorf("logrelay: unknown sink type %q", sc.Type)
	}
}

// openOutput resolves a path the way the config understands it: empty or
// "<stdout>" is standard out, "<stderr>" standard error, anything else an
// append-mode file.
func openOutput(path string) (io.Writer, io.Closer, error) {
	switch path {
	case "", "<stdout>":
		return os.Stdout, nil, nil
	case "<stderr>":
		return os.Stderr, nil, nil
	default:
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
