package rules

import "time"

// EffectiveConfidence computes the rule's decayed confidence at the given
// time: stored confidence minus decay-per-day for each full day since the
// rule last matched, floored at zero. Seed rules (zero decay) never lose
// confidence.
func EffectiveConfidence(r Rule, now time.Time) float64 {
	if r.ConfidenceDecayPerDay <= 0 {
		return r.Confidence
	}
	days := now.Sub(r.LastSeenAt).Hours() / 24
	if days <= 0 {
		return r.Confidence
	}
	c := r.Confidence - r.ConfidenceDecayPerDay*float64(int(days))
	if c < 0 {
		return 0
	}
	return c
}

// DecayPass deactivates every active rule whose effective confidence has
// dropped below its floor. Returns the ids of newly deactivated rules.
// Run periodically; it never touches stored confidence, so a rule that
// matches again before the pass keeps its standing.
func (s *Store) DecayPass(now time.Time) []string {
	var expired []string
	s.mu.Lock()
	for i := range s.set.Rules {
		r := &s.set.Rules[i]
		if !r.Active || r.ConfidenceDecayPerDay <= 0 {
			continue
		}
		if EffectiveConfidence(*r, now) < r.MinConfidence {
			r.Deactivate(now)
			expired = append(expired, r.ID)
		}
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.log.Info("decay pass deactivated %d stale rule(s)", len(expired))
	}
	return expired
}

// ResetDecay marks a rule relevant again: the last-seen clock restarts and
// an expired rule is reactivated. This is the only path that reverses a
// deactivation.
func (s *Store) ResetDecay(id string, now time.Time) error {
	return s.Update(id, func(r *Rule) error {
		r.LastSeenAt = now
		r.Active = true
		r.ExpiresAt = nil
		return nil
	})
}
