// Package merchant derives a readable merchant name from a raw bank
// description using a YAML cleanup rule set.
package merchant

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rumor-ml/commons.systems/finimport/internal/normalize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed cleanup.yaml
var embeddedRules []byte

// Rule removes (or rewrites) one kind of boilerplate from a description.
type Rule struct {
	Name     string `yaml:"name"`
	Pattern  string `yaml:"pattern"`
	Replace  string `yaml:"replace"`
	Priority int    `yaml:"priority"`

	re *regexp.Regexp
}

// RuleSet represents the top-level YAML structure
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Engine applies cleanup rules in priority order (highest first).
type Engine struct {
	rules []Rule
}

// NewEngine creates a cleanup engine from YAML data
func NewEngine(data []byte) (*Engine, error) {
	var ruleSet RuleSet
	if err := yaml.Unmarshal(data, &ruleSet); err != nil {
		return nil, fmt.Errorf("failed to parse YAML cleanup rules: %w", err)
	}

	for i := range ruleSet.Rules {
		rule := &ruleSet.Rules[i]
		if strings.TrimSpace(rule.Name) == "" {
			return nil, fmt.Errorf("rule %d: name cannot be empty", i)
		}
		if rule.Priority < 0 || rule.Priority > 999 {
			return nil, fmt.Errorf("rule %d (%s): priority must be in [0,999], got %d", i, rule.Name, rule.Priority)
		}
		if strings.TrimSpace(rule.Pattern) == "" {
			return nil, fmt.Errorf("rule %d (%s): pattern cannot be empty", i, rule.Name)
		}
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): invalid pattern: %w", i, rule.Name, err)
		}
		rule.re = re
	}

	// Stable sort keeps file order for equal priorities.
	sorted := make([]Rule, len(ruleSet.Rules))
	copy(sorted, ruleSet.Rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	return &Engine{rules: sorted}, nil
}

// LoadEmbedded loads the built-in cleanup rules.
func LoadEmbedded() (*Engine, error) {
	engine, err := NewEngine(embeddedRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded cleanup rules: %w", err)
	}
	return engine, nil
}

// LoadFromFile loads rules from a filesystem path
func LoadFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cleanup rules file: %w", err)
	}
	engine, err := NewEngine(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load cleanup rules from %q: %w", path, err)
	}
	return engine, nil
}

// Clean returns a title-cased merchant name for description. When every
// token is stripped the collapsed description is returned instead; the
// result is never used for hashing.
func (e *Engine) Clean(description string) string {
	raw := strings.TrimSpace(description)
	if raw == "" {
		return ""
	}

	cleaned := raw
	for _, rule := range e.rules {
		cleaned = rule.re.ReplaceAllString(cleaned, rule.Replace)
	}
	cleaned = normalize.CollapseSpace(cleaned)
	if cleaned == "" {
		return normalize.CollapseSpace(raw)
	}

	// Caser is stateful, so each call gets its own.
	return cases.Title(language.English).String(strings.ToLower(cleaned))
}

// Rules returns the rules in evaluation order.
func (e *Engine) Rules() []Rule {
	result := make([]Rule, len(e.rules))
	copy(result, e.rules)
	return result
}
