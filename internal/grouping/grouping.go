// Package grouping maps activity names to group labels using an ordered list
// of pattern rules loaded from YAML. The first matching rule wins; names that
// match more than one rule are reported so the rule file can be fixed.
package grouping

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// file is the on-disk layout of a rules file.
type file struct {
	Groups []struct {
		Label    string   `yaml:"label"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"groups"`
}

type rule struct {
	label    string
	patterns []*regexp.Regexp
}

func (r rule) matches(name string) bool {
	for _, p := range r.patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// Match is the outcome of evaluating every rule against one name.
type Match struct {
	// Label is the first matching rule's label, or "" if none matched.
	Label string
	// Candidates lists every matching label in rule order.
	Candidates []string
}

// Ambiguous reports whether more than one rule matched.
func (m Match) Ambiguous() bool { return len(m.Candidates) > 1 }

// Rules is an immutable, ordered rule set. The zero value matches nothing.
type Rules struct {
	rules []rule
	log   *slog.Logger
}

// Load reads and compiles the rules file at path.
func Load(path string, logger *slog.Logger) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading groups file %q: %w", path, err)
	}
	r, err := Parse(data, logger)
	if err != nil {
		return nil, fmt.Errorf("groups file %q: %w", path, err)
	}
	return r, nil
}

// Parse compiles rules from YAML.
func Parse(data []byte, logger *slog.Logger) (*Rules, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing groups: %w", err)
	}

	out := &Rules{log: logger, rules: make([]rule, 0, len(f.Groups))}
	for i, g := range f.Groups {
		if g.Label == "" {
			return nil, fmt.Errorf("groups[%d] has an empty label", i)
		}
		if len(g.Patterns) == 0 {
			return nil, fmt.Errorf("group %q has no patterns", g.Label)
		}
		r := rule{label: g.Label}
		for _, p := range g.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("group %q: compiling pattern %q: %w", g.Label, p, err)
			}
			r.patterns = append(r.patterns, re)
		}
		out.rules = append(out.rules, r)
	}
	return out, nil
}

// Len returns the number of rules.
func (r *Rules) Len() int { return len(r.rules) }

// Match evaluates every rule against name.
func (r *Rules) Match(name string) Match {
	var m Match
	for _, rl := range r.rules {
		if rl.matches(name) {
			m.Candidates = append(m.Candidates, rl.label)
		}
	}
	if len(m.Candidates) > 0 {
		m.Label = m.Candidates[0]
	}
	return m
}

// ResolveGroup returns the first matching label for an activity name and logs
// a warning when the name is claimed by several rules.
func (r *Rules) ResolveGroup(name string) string {
	m := r.Match(name)
	if m.Ambiguous() && r.log != nil {
		r.log.Warn("activity matches multiple groups",
			"activity", name,
			"chosen", m.Label,
			"candidates", m.Candidates,
		)
	}
	return m.Label
}
