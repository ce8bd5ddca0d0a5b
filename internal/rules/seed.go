package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// seedFile is the YAML shape of a shipped seed rule file.
type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

type seedRule struct {
	ID          string                          `yaml:"id"`
	Description string                          `yaml:"description"`
	Conditions  map[ConditionKey]ConditionValue `yaml:"conditions"`
	ScoreImpact int                             `yaml:"score_impact"`
	Confidence  float64                         `yaml:"confidence"`
}

// UnmarshalYAML accepts the same scalar/array forms as the JSON codec.
func (v *ConditionValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		v.Strings = ss
		return nil
	}

	var b bool
	if err := node.Decode(&b); err == nil {
		v.Bool = &b
		return nil
	}
	var i int
	if err := node.Decode(&i); err == nil {
		v.Int = &i
		return nil
	}
	var s string
	if err := node.Decode(&s); err == nil {
		v.Str = s
		return nil
	}
	return fmt.Errorf("condition value must be bool, number, string, or string list (line %d)", node.Line)
}

// SeedFromDir loads every .yml/.yaml seed file in dir and adds any rule
// whose id is not already in the store. Seed rules do not decay. Returns
// the number of rules added.
func (s *Store) SeedFromDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading seed dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yml" || ext == ".yaml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	added := 0
	now := time.Now().UTC()
	for _, path := range files {
		n, err := s.seedFromFile(path, now)
		if err != nil {
			return added, err
		}
		added += n
	}
	if added > 0 {
		s.log.Info("seeded %d rule(s) from %s", added, dir)
	}
	return added, nil
}

func (s *Store) seedFromFile(path string, now time.Time) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading seed file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	var sf seedFile
	if err := dec.Decode(&sf); err != nil {
		return 0, fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	added := 0
	for _, sr := range sf.Rules {
		rule := Rule{
			ID:            sr.ID,
			Description:   sr.Description,
			Conditions:    sr.Conditions,
			ScoreImpact:   sr.ScoreImpact,
			Confidence:    sr.Confidence,
			MinConfidence: 0.30,
			Active:        true,
			Source:        SourceSeed,
			CreatedAt:     now,
			LastSeenAt:    now,
		}
		if rule.ID == "" {
			rule.ID = RuleID(rule.Conditions)
		}
		if rule.Confidence == 0 {
			rule.Confidence = 1.0
		}
		if err := s.Add(rule); err != nil {
			if errors.Is(err, ErrRuleExists) {
				continue
			}
			return added, fmt.Errorf("seed rule %s (%s): %w", rule.ID, path, err)
		}
		added++
	}
	return added, nil
}
