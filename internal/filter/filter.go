// Package filter provides target filtering capabilities for vum-unrestrict.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"vum-unrestrict/internal/target"
)

// Filter represents a target filter condition
type Filter interface {
	// Match returns true if the target matches the filter condition
	Match(target target.Target) bool
	// String returns a human-readable description of the filter
	String() string
}

// NameFilter filters targets by FQDN patterns
type NameFilter struct {
	Pattern string
	IsRegex bool
}

// NewNameFilter creates a new name-based filter
func NewNameFilter(pattern string, isRegex bool) *NameFilter {
	return &NameFilter{
		Pattern: pattern,
		IsRegex: isRegex,
	}
}

// Match checks if the target name matches the pattern
func (f *NameFilter) Match(t target.Target) bool {
	if f.IsRegex {
		matched, err := regexp.MatchString(f.Pattern, t.Name)
		return err == nil && matched
	}
	return strings.Contains(strings.ToLower(t.Name), strings.ToLower(f.Pattern))
}

// String returns a description of the name filter
func (f *NameFilter) String() string {
	if f.IsRegex {
		return fmt.Sprintf("name ~ %s", f.Pattern)
	}
	return fmt.Sprintf("name: %s", f.Pattern)
}

// RealmFilter filters targets by the realm (workload domain) they belong to
type RealmFilter struct {
	Realm string
}

// NewRealmFilter creates a new realm-based filter
func NewRealmFilter(realm string) *RealmFilter {
	return &RealmFilter{Realm: realm}
}

// Match checks if the target belongs to the realm, by id or display name
func (f *RealmFilter) Match(t target.Target) bool {
	want := strings.ToLower(f.Realm)
	return strings.ToLower(t.Realm) == want ||
		strings.Contains(strings.ToLower(t.Grouping), want)
}

// String returns a description of the realm filter
func (f *RealmFilter) String() string {
	return fmt.Sprintf("realm: %s", f.Realm)
}

// ParseFilterExpression parses a filter expression into filter conditions.
// Terms are space separated: "name:vc01 realm:mgmt" or "regex:^vc0[12]".
// A bare term filters by name substring.
func ParseFilterExpression(expr string) ([]Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty filter expression")
	}

	var filters []Filter
	for _, term := range strings.Fields(expr) {
		switch {
		case strings.HasPrefix(term, "name:"):
			value := strings.TrimPrefix(term, "name:")
			if value == "" {
				return nil, fmt.Errorf("empty name filter in '%s'", term)
			}
			filters = append(filters, NewNameFilter(value, false))
		case strings.HasPrefix(term, "regex:"):
			value := strings.TrimPrefix(term, "regex:")
			if _, err := regexp.Compile(value); err != nil {
				return nil, fmt.Errorf("invalid regex filter '%s': %w", value, err)
			}
			filters = append(filters, NewNameFilter(value, true))
		case strings.HasPrefix(term, "realm:"):
			value := strings.TrimPrefix(term, "realm:")
			if value == "" {
				return nil, fmt.Errorf("empty realm filter in '%s'", term)
			}
			filters = append(filters, NewRealmFilter(value))
		default:
			filters = append(filters, NewNameFilter(term, false))
		}
	}

	return filters, nil
}

// FilterTargets returns the targets matching all of the given filters
func FilterTargets(targets []target.Target, filters ...Filter) []target.Target {
	if len(filters) == 0 {
		return targets
	}

	filtered := make([]target.Target, 0, len(targets))
	for _, t := range targets {
		match := true
		for _, f := range filters {
			if !f.Match(t) {
				match = false
				break
			}
		}
		if match {
			filtered = append(filtered, t)
		}
	}

	return filtered
}
