package scopelog

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML-facing configuration: the global threshold, per-site
// override rules, and sink definitions (consumed by whoever builds sinks,
// e.g. cmd/logrelay). Everything is validated at load time; a malformed
// level, interval, pattern or filter never survives to the log path.
type Config struct {
	Level string       `yaml:"level"`
	Sites []SiteConfig `yaml:"sites"`
	Sinks []SinkConfig `yaml:"sinks"`
}

// SiteConfig is one per-site override rule.
type SiteConfig struct {
	Match    string `yaml:"match"`
	Level    string `yaml:"level"`
	Every    uint64 `yaml:"every"`
	Interval string `yaml:"interval"`
}

// SinkConfig describes one sink. Which fields apply depends on Type; the
// sink builder rejects unknown types.
type SinkConfig struct {
	Type     string `yaml:"type"` // text | jsonl | segment | sealed | forward
	Path     string `yaml:"path"`
	Dir      string `yaml:"dir"`
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	KeyFile  string `yaml:"key_file"`
	MinLevel string `yaml:"min_level"`
	Filter   string `yaml:"filter"`
	Async    int    `yaml:"async"` // queue depth, 0 = synchronous
	MaxBytes int64  `yaml:"max_bytes"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scopelog: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML config bytes.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("scopelog: parse config: %w", err)
	}
	if c.Level != "" {
		if _, err := ParseLevel(c.Level); err != nil {
			return nil, err
		}
	}
	if _, err := c.Rules(); err != nil {
		return nil, err
	}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if s.MinLevel != "" {
			if _, err := ParseLevel(s.MinLevel); err != nil {
				return nil, err
			}
		}
		if s.Filter != "" {
			if _, err := CompileFilter(s.Filter); err != nil {
				return nil, err
			}
		}
	}
	return &c, nil
}

// Rules converts the site sections into installable SiteRules.
func (c *Config) Rules() ([]SiteRule, error) {
	if len(c.Sites) == 0 {
		return nil, nil
	}
	rules := make([]SiteRule, 0, len(c.Sites))
	for i := range c.Sites {
		sc := &c.Sites[i]
		if sc.Match == "" {
			return nil, fmt.Errorf("scopelog: site rule %d has no match pattern", i)
		}
		r := SiteRule{Pattern: sc.Match, Override: Override{Every: sc.Every}}
		if sc.Level != "" {
			l, err := ParseLevel(sc.Level)
			if err != nil {
				return nil, err
			}
			r.Override.Level, r.Override.HasLevel = l, true
		}
		if sc.Interval != "" {
			d, err := time.ParseDuration(sc.Interval)
			if err != nil {
				return nil, fmt.Errorf("scopelog: bad interval %q in rule %q: %w", sc.Interval, sc.Match, err)
			}
			r.Override.MinInterval = d
		}
		if err := validateRule(&r); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Apply installs the threshold and site rules process-wide. Sinks are not
// built here; see the sink package and cmd/logrelay.
func (c *Config) Apply() error {
	if c.Level != "" {
		l, err := ParseLevel(c.Level)
		if err != nil {
			return err
		}
		SetThreshold(l)
	}
	rules, err := c.Rules()
	if err != nil {
		return err
	}
	return SetSiteRules(rules)
}
