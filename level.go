package scopelog

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the severity of a record. The named levels are spaced so that
// custom intermediate levels (e.g. Level(15) for "info, but chattier") can
// be slotted between them on the integer scale.
type Level int8

const (
	LevelDebug Level = 0
	LevelInfo  Level = 10
	LevelWarn  Level = 20
	LevelError Level = 30
)

// DefaultLevel is the process-wide threshold until configured otherwise.
const DefaultLevel = LevelInfo

// String returns the level name, or the nearest name with an offset for
// intermediate levels ("info+5").
func (l Level) String() string {
	str := func(base string, val Level) string {
		if val == 0 {
			return base
		}
		return fmt.Sprintf("%s%+d", base, val)
	}
	switch {
	case l < LevelInfo:
		return str("debug", l-LevelDebug)
	case l < LevelWarn:
		return str("info", l-LevelInfo)
	case l < LevelError:
		return str("warn", l-LevelWarn)
	default:
		return str("error", l-LevelError)
	}
}

// ShortString returns a fixed-width tag for line-oriented output.
func (l Level) ShortString() string {
	switch {
	case l < LevelInfo:
		return "DBG"
	case l < LevelWarn:
		return "INF"
	case l < LevelError:
		return "WRN"
	default:
		return "ERR"
	}
}

// ParseLevel parses a level name ("debug", "info", "warn", "error",
// case-insensitive, with an optional "+N"/"-N" offset) or a bare integer.
// Unknown input is a configuration error, reported here rather than at
// each log call.
func ParseLevel(s string) (Level, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("scopelog: empty level")
	}
	if n, err := strconv.ParseInt(in, 10, 8); err == nil {
		return Level(n), nil
	}
	name, off := in, ""
	if i := strings.IndexAny(in, "+-"); i > 0 {
		name, off = in[:i], in[i:]
	}
	var base Level
	switch name {
	case "debug":
		base = LevelDebug
	case "info":
		base = LevelInfo
	case "warn", "warning":
		base = LevelWarn
	case "error":
		base = LevelError
	default:
		return 0, fmt.Errorf("scopelog: unknown level %q", s)
	}
	if off != "" {
		n, err := strconv.ParseInt(off, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("scopelog: bad level offset %q: %w", s, err)
		}
		base += Level(n)
	}
	return base, nil
}
