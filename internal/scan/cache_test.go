package scan

import (
	"sync"
	"testing"
	"time"

	"github.com/urlsentry/urlsentry/internal/types"
)

func testDecision(fingerprint string, verdict types.Verdict) Decision {
	return Decision{
		ScanID:      "scan-" + fingerprint,
		Fingerprint: fingerprint,
		URL:         "https://example.com/",
		Verdict:     verdict,
		RiskLevel:   types.RiskSafe,
		Percentage:  100,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestCachePutGet(t *testing.T) {
	c := NewCache(time.Hour, nil)
	c.Put(testDecision("fp1", types.VerdictAllow))

	got, ok := c.Get("fp1")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Verdict != types.VerdictAllow {
		t.Errorf("verdict = %s", got.Verdict)
	}
	if _, ok := c.Get("fp2"); ok {
		t.Error("unexpected hit for unknown fingerprint")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache(30*time.Millisecond, nil)
	c.Put(testDecision("fp1", types.VerdictAllow))

	if _, ok := c.Get("fp1"); !ok {
		t.Fatal("entry expired immediately")
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get("fp1"); ok {
		t.Error("entry survived past its TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not evicted on lookup, len = %d", c.Len())
	}
}

func TestCacheTTLBoundaryIsMiss(t *testing.T) {
	base := time.Now()
	ttl := time.Hour
	c := NewCache(ttl, nil)
	c.now = func() time.Time { return base }
	c.Put(testDecision("fp1", types.VerdictAllow))

	c.now = func() time.Time { return base.Add(ttl - time.Nanosecond) }
	if _, ok := c.Get("fp1"); !ok {
		t.Error("entry just inside the TTL reported as a miss")
	}

	// Exactly TTL old counts as expired.
	c.now = func() time.Time { return base.Add(ttl) }
	if _, ok := c.Get("fp1"); ok {
		t.Error("entry exactly at the TTL reported as a hit")
	}
	if c.Len() != 0 {
		t.Errorf("boundary entry not evicted, len = %d", c.Len())
	}
}

func TestCacheLastWriteWins(t *testing.T) {
	c := NewCache(time.Hour, nil)
	c.Put(testDecision("fp1", types.VerdictAllow))
	c.Put(testDecision("fp1", types.VerdictBlock))

	got, ok := c.Get("fp1")
	if !ok || got.Verdict != types.VerdictBlock {
		t.Errorf("got %+v, want latest write", got)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

func TestCacheInvalidateAndClear(t *testing.T) {
	c := NewCache(time.Hour, nil)
	c.Put(testDecision("fp1", types.VerdictAllow))
	c.Put(testDecision("fp2", types.VerdictWarn))

	if !c.Invalidate("fp1") {
		t.Error("invalidate reported miss for present entry")
	}
	if c.Invalidate("fp1") {
		t.Error("invalidate reported hit for absent entry")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("len after clear = %d", c.Len())
	}
}

func TestCachePersistHook(t *testing.T) {
	var (
		mu        sync.Mutex
		persisted []string
		done      = make(chan struct{}, 1)
	)
	c := NewCache(time.Hour, func(d Decision) error {
		mu.Lock()
		persisted = append(persisted, d.Fingerprint)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	c.Put(testDecision("fp1", types.VerdictAllow))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("persist hook never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(persisted) != 1 || persisted[0] != "fp1" {
		t.Errorf("persisted = %v", persisted)
	}
}
