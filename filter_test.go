package scopelog

import (
	"context"
	"testing"
	"time"
)

// Each helper below gives its loop a single, rule-addressable call site.

func emitEveryThird(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		Info(ctx, "tick")
	}
}

func emitThrottled(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		Info(ctx, "beat")
	}
}

func emitQuietSiteDebug(ctx context.Context) {
	Debug(ctx, "verbose detail")
}

func TestRateLimitEveryN(t *testing.T) {
	cleanEnv(t)
	c := &capture{}
	reg, err := Attach(c)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	rules := []SiteRule{{
		Pattern:  "func:emitEveryThird",
		Override: Override{Every: 3},
	}}
	if err := SetSiteRules(rules); err != nil {
		t.Fatal(err)
	}

	emitEveryThird(context.Background(), 10)

	// Calls 1, 4, 7 and 10 pass the every-3 policy.
	if n := c.count(); n != 4 {
		t.Errorf("accepted %d records over 10 calls, want 4", n)
	}
}

func TestRateLimitMinInterval(t *testing.T) {
	cleanEnv(t)
	c := &capture{}
	reg, err := Attach(c)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	now := time.Unix(1000, 0)
	timeNow = func() time.Time { return now }
	defer func() { timeNow = time.Now }()

	rules := []SiteRule{{
		Pattern:  "func:emitThrottled",
		Override: Override{MinInterval: 3 * time.Second},
	}}
	if err := SetSiteRules(rules); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		emitThrottled(context.Background(), 1)
		now = now.Add(time.Second)
	}

	// Accepted at t=0s, 3s, 6s, 9s.
	if n := c.count(); n != 4 {
		t.Errorf("accepted %d records over 10 seconds, want 4", n)
	}
}

func TestPerSiteThresholdOverride(t *testing.T) {
	cleanEnv(t)
	c := &capture{}
	reg, err := Attach(c)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx := context.Background()
	emitQuietSiteDebug(ctx) // default threshold info: filtered
	if n := c.count(); n != 0 {
		t.Fatalf("debug call accepted before override, got %d records", n)
	}

	rules := []SiteRule{{
		Pattern:  "func:emitQuietSiteDebug",
		Override: Override{Level: LevelDebug, HasLevel: true},
	}}
	if err := SetSiteRules(rules); err != nil {
		t.Fatal(err)
	}

	emitQuietSiteDebug(ctx) // site override lowers the bar below the scope's
	if n := c.count(); n != 1 {
		t.Errorf("overridden site accepted %d records, want 1", n)
	}
}

func TestSiteRuleValidation(t *testing.T) {
	cleanEnv(t)
	cases := []SiteRule{
		{Pattern: ""},
		{Pattern: "[bad.go"},
		{Pattern: "[bad/*.go"},
		{Pattern: "engine/[x-.go"},
		{Pattern: "ok.go", Override: Override{MinInterval: -time.Second}},
	}
	for _, r := range cases {
		if err := SetSiteRules([]SiteRule{r}); err == nil {
			t.Errorf("rule %+v: expected validation error", r)
		}
	}
}

func TestMatchSite(t *testing.T) {
	cases := []struct {
		pattern string
		file    string
		line    int
		fn      string
		want    bool
	}{
		{"store.go", "/a/b/store.go", 10, "", true},
		{"*.go", "/a/b/store.go", 10, "", true},
		{"store.go:10", "/a/b/store.go", 10, "", true},
		{"store.go:11", "/a/b/store.go", 10, "", false},
		{"engine/*.go", "/a/internal/engine/wal.go", 5, "", true},
		{"engine/*.go", "/a/internal/storage/wal.go", 5, "", false},
		{"func:emitBeat", "/a/x.go", 1, "example.com/m/pkg.emitBeat", true},
		{"func:emitBeat", "/a/x.go", 1, "example.com/m/pkg.other", false},
	}
	for _, tc := range cases {
		if got := matchSite(tc.pattern, tc.file, tc.line, tc.fn); got != tc.want {
			t.Errorf("matchSite(%q, %q, %d, %q) = %v, want %v",
				tc.pattern, tc.file, tc.line, tc.fn, got, tc.want)
		}
	}
}

func TestSiteIDsStable(t *testing.T) {
	cleanEnv(t)
	c := &capture{}
	reg, err := Attach(c)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	emitEveryThird(context.Background(), 2)
	recs := c.records()
	if len(recs) != 2 {
		t.Fatalf("saw %d records", len(recs))
	}
	if recs[0].Site == 0 || recs[0].Site != recs[1].Site {
		t.Errorf("site id not stable across invocations: %d vs %d", recs[0].Site, recs[1].Site)
	}
}
