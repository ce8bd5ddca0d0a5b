package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/gobwas/glob"

	"github.com/urlsentry/urlsentry/internal/fileutil"
	"github.com/urlsentry/urlsentry/internal/logger"
)

// ErrRuleExists is returned by Add when a rule with the same id is already
// in the store.
var ErrRuleExists = errors.New("rule already exists")

// ErrRuleNotFound is returned by Update and feedback paths for unknown ids.
var ErrRuleNotFound = errors.New("rule not found")

// Store holds the rule set, persists it as versioned JSON, and keeps the
// compiled host_glob matchers alongside. All methods are safe for
// concurrent use.
type Store struct {
	mu    sync.RWMutex
	path  string
	set   RuleSet
	globs map[string]glob.Glob // rule id -> compiled host_glob
	log   *logger.Logger
}

// NewStore creates a store backed by the JSON file at path. Call Load
// before first use.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		set:   RuleSet{Version: StoreVersion},
		globs: make(map[string]glob.Glob),
		log:   logger.New("rules"),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the store file. A missing file yields an empty set rather
// than an error so a fresh install starts clean.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.set = RuleSet{Version: StoreVersion}
			s.globs = make(map[string]glob.Glob)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("reading rule store: %w", err)
	}

	var set RuleSet
	if err := json.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("parsing rule store %s: %w", s.path, err)
	}
	if set.Version > StoreVersion {
		return fmt.Errorf("rule store version %d is newer than supported %d", set.Version, StoreVersion)
	}
	set.Version = StoreVersion

	s.mu.Lock()
	s.set = set
	s.recompileLocked()
	s.mu.Unlock()

	if problems := set.Validate(); len(problems) > 0 {
		s.log.Warn("rule store loaded with %d problem(s); run 'urlsentry rules lint'", len(problems))
	}
	s.log.Debug("loaded %d rule(s) from %s", len(set.Rules), s.path)
	return nil
}

// Reload re-reads the backing file, used by the watcher on external edits.
func (s *Store) Reload() error {
	return s.Load()
}

// Save writes the set atomically with owner-only permissions.
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.set, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding rule store: %w", err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("writing rule store: %w", err)
	}
	return nil
}

// Add inserts a new rule. The id must not already be present.
func (s *Store) Add(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.set.Rules {
		if existing.ID == rule.ID {
			return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
		}
	}
	s.set.Rules = append(s.set.Rules, rule)
	s.compileRuleLocked(rule)
	return nil
}

// Get returns a copy of the rule with the given id.
func (s *Store) Get(id string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.set.Rules {
		if rule.ID == id {
			return rule, true
		}
	}
	return Rule{}, false
}

// All returns a copy of every rule, active or not.
func (s *Store) All() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.set.Rules))
	copy(out, s.set.Rules)
	return out
}

// ActiveRules returns a copy of the rules currently eligible for
// evaluation.
func (s *Store) ActiveRules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Rule
	for _, rule := range s.set.Rules {
		if rule.Active {
			out = append(out, rule)
		}
	}
	return out
}

// Len returns the total rule count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set.Rules)
}

// Update applies fn to the rule with the given id under the write lock.
// fn may mutate the rule in place; returning an error aborts the update.
func (s *Store) Update(id string, fn func(*Rule) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.set.Rules {
		if s.set.Rules[i].ID == id {
			if err := fn(&s.set.Rules[i]); err != nil {
				return err
			}
			s.compileRuleLocked(s.set.Rules[i])
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// Validate lints the current set.
func (s *Store) Validate() []Problem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	problems := s.set.Validate()
	for i, rule := range s.set.Rules {
		if val, ok := rule.Conditions[CondHostGlob]; ok && val.Str != "" {
			if _, err := glob.Compile(val.Str, '.'); err != nil {
				problems = append(problems, Problem{
					Index: i, ID: rule.ID,
					Problem: fmt.Sprintf("malformed host_glob %q: %v", val.Str, err),
				})
			}
		}
	}
	return problems
}

// hostGlob returns the compiled matcher for a rule, if it has one.
func (s *Store) hostGlob(id string) (glob.Glob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.globs[id]
	return g, ok
}

// recompileLocked rebuilds every host_glob matcher. Caller holds the lock.
func (s *Store) recompileLocked() {
	s.globs = make(map[string]glob.Glob)
	for _, rule := range s.set.Rules {
		s.compileRuleLocked(rule)
	}
}

// compileRuleLocked compiles the rule's host_glob, if any. A malformed
// pattern is left uncompiled, so the condition never matches; lint
// reports it.
func (s *Store) compileRuleLocked(rule Rule) {
	val, ok := rule.Conditions[CondHostGlob]
	if !ok || val.Str == "" {
		return
	}
	g, err := glob.Compile(val.Str, '.')
	if err != nil {
		s.log.Warn("rule %s has malformed host_glob %q: %v", rule.ID, val.Str, err)
		return
	}
	s.globs[rule.ID] = g
}
