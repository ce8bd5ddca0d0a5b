package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/urlsentry/urlsentry/internal/logger"
	"github.com/urlsentry/urlsentry/internal/rules"
	"github.com/urlsentry/urlsentry/internal/signals"
	"github.com/urlsentry/urlsentry/internal/types"
)

// Default poll loop bounds for Await.
const (
	DefaultPollAttempts = 20
	DefaultPollInterval = 500 * time.Millisecond
)

// EngineConfig tunes scan execution. Zero values fall back to the defaults.
type EngineConfig struct {
	ProducerTimeout time.Duration
	PollAttempts    int
	PollInterval    time.Duration
}

// RuleEventFunc records a learner outcome for auditing.
type RuleEventFunc func(event, ruleID, url, reason string)

// Ticket is what Submit hands back immediately.
type Ticket struct {
	ScanID      string    `json:"scan_id"`
	Fingerprint string    `json:"fingerprint"`
	Cached      bool      `json:"cached"`
	Decision    *Decision `json:"decision,omitempty"`
}

type flight struct {
	scanID string
	rawURL string
	done   chan struct{}
}

// Engine runs scans: fingerprint, cache lookup, producer fan-out,
// aggregation, learning, caching. Concurrent submissions of the same
// fingerprint share a single in-flight scan.
type Engine struct {
	producers []Producer
	agg       *Aggregator
	cache     *Cache
	learner   *rules.Learner
	onEvent   RuleEventFunc

	timeout      time.Duration
	pollAttempts int
	pollInterval time.Duration

	mu       sync.Mutex
	inflight map[string]*flight

	log *logger.Logger
}

// NewEngine wires an engine from its parts. learner may be nil to disable
// learning.
func NewEngine(producers []Producer, agg *Aggregator, cache *Cache, learner *rules.Learner, cfg EngineConfig) *Engine {
	if cfg.ProducerTimeout <= 0 {
		cfg.ProducerTimeout = DefaultProducerTimeout
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Engine{
		producers:    producers,
		agg:          agg,
		cache:        cache,
		learner:      learner,
		timeout:      cfg.ProducerTimeout,
		pollAttempts: cfg.PollAttempts,
		pollInterval: cfg.PollInterval,
		inflight:     make(map[string]*flight),
		log:          logger.New("engine"),
	}
}

// OnRuleEvent installs the audit hook for learner outcomes.
func (e *Engine) OnRuleEvent(fn RuleEventFunc) {
	e.onEvent = fn
}

// Submit starts (or joins) a scan for the URL. A cache hit returns the
// decision inline; otherwise the scan completes in the background and the
// caller polls by fingerprint.
func (e *Engine) Submit(rawURL string, sctx signals.Context) Ticket {
	fingerprint := Fingerprint(rawURL)

	if decision, ok := e.cache.Get(fingerprint); ok {
		decision.Cached = true
		return Ticket{
			ScanID:      decision.ScanID,
			Fingerprint: fingerprint,
			Cached:      true,
			Decision:    &decision,
		}
	}

	e.mu.Lock()
	if f, ok := e.inflight[fingerprint]; ok {
		e.mu.Unlock()
		return Ticket{ScanID: f.scanID, Fingerprint: fingerprint}
	}
	f := &flight{
		scanID: uuid.NewString(),
		rawURL: rawURL,
		done:   make(chan struct{}),
	}
	e.inflight[fingerprint] = f
	e.mu.Unlock()

	go e.run(f, fingerprint, sctx)
	return Ticket{ScanID: f.scanID, Fingerprint: fingerprint}
}

// Poll is a pure cache lookup; it never triggers work.
func (e *Engine) Poll(fingerprint string) (Decision, bool) {
	return e.cache.Get(fingerprint)
}

// InvalidateCached drops the cached decision for a fingerprint, reporting
// whether one was present. Used when feedback supersedes a verdict.
func (e *Engine) InvalidateCached(fingerprint string) bool {
	return e.cache.Invalidate(fingerprint)
}

// Pending reports whether a scan for the fingerprint is in flight.
func (e *Engine) Pending(fingerprint string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[fingerprint]
	return ok
}

// Await polls for a completed decision, bounded by the configured attempt
// budget. When the budget or ctx runs out it returns the default-safe
// decision; the underlying scan, if any, still completes and populates the
// cache for later lookups.
func (e *Engine) Await(ctx context.Context, fingerprint string) Decision {
	for attempt := 0; attempt < e.pollAttempts; attempt++ {
		if decision, ok := e.cache.Get(fingerprint); ok {
			return decision
		}
		select {
		case <-ctx.Done():
			return e.defaultSafeFor(fingerprint)
		case <-time.After(e.pollInterval):
		}
	}
	return e.defaultSafeFor(fingerprint)
}

func (e *Engine) defaultSafeFor(fingerprint string) Decision {
	rawURL := ""
	e.mu.Lock()
	if f, ok := e.inflight[fingerprint]; ok {
		rawURL = f.rawURL
	}
	e.mu.Unlock()
	return DefaultSafe("", fingerprint, rawURL, nil)
}

// run executes the scan on its own goroutine.
func (e *Engine) run(f *flight, fingerprint string, sctx signals.Context) {
	defer func() {
		e.mu.Lock()
		delete(e.inflight, fingerprint)
		e.mu.Unlock()
		close(f.done)
	}()

	sig := signals.Extract(f.rawURL, &sctx)
	target := Target{URL: f.rawURL, Signals: sig, Context: sctx}

	// All producers run at once; a slow one costs at most its own timeout,
	// never the sum of everyone else's.
	phases := make([]Phase, len(e.producers))
	var wg sync.WaitGroup
	for i, producer := range e.producers {
		wg.Add(1)
		go func(i int, p Producer) {
			defer wg.Done()
			phases[i] = Phase{
				Name:   p.Name(),
				Result: e.runProducer(p, target),
			}
		}(i, producer)
	}
	wg.Wait()

	decision := e.agg.Decide(f.scanID, fingerprint, f.rawURL, sig, phases)

	if decision.Mandate.IsMalicious() && e.learner != nil {
		res := e.learner.LearnFromConfirmedMalicious(f.rawURL, sig)
		if e.onEvent != nil {
			event := "learn_skipped"
			if res.Created {
				event = "rule_learned"
			}
			e.onEvent(event, res.RuleID, f.rawURL, res.Reason)
		}
	}

	e.cache.Put(decision)
	e.log.Debug("scan %s: %s %s (%d%%)", f.scanID, decision.Verdict, f.rawURL, decision.Percentage)
}

// runProducer enforces the per-producer timeout and converts a panic into
// an unavailable warning result.
func (e *Engine) runProducer(p Producer, target Target) Result {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	ch := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("producer %s panicked: %v", p.Name(), r)
				ch <- Result{
					MaxScore: p.MaxScore(),
					Status:   types.StatusWarning,
					Reason:   "producer failed",
					Error:    fmt.Sprintf("panic: %v", r),
				}
			}
		}()
		ch <- p.Check(ctx, target)
	}()

	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		e.log.Warn("producer %s timed out after %s", p.Name(), e.timeout)
		return Result{
			MaxScore: p.MaxScore(),
			Status:   types.StatusWarning,
			Reason:   "producer timed out",
			Error:    ctx.Err().Error(),
		}
	}
}
