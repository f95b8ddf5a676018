package config

import "strings"

// Matches reports whether an enabled rule applies to the window. Every
// non-empty pattern must be a case-sensitive substring of its field.
func (r Rule) Matches(w WindowInfo) bool {
	if !r.Enabled {
		return false
	}
	return contains(w.AppName, r.AppName) &&
		contains(w.Title, r.Title) &&
		contains(w.ProcessName, r.ProcessPattern())
}

// Match returns the target profile of the first rule matching the window.
// ok is false when no rule matches.
func (rs RuleSet) Match(w WindowInfo) (profile ProfileID, ok bool) {
	for _, r := range rs {
		if r.Matches(w) {
			return r.SwitchTo, true
		}
	}
	return 0, false
}

// IsCatchAll reports whether the rule matches every window
func (r Rule) IsCatchAll() bool {
	return r.Enabled && r.AppName == "" && r.Title == "" && r.ProcessPattern() == ""
}

func contains(value, pattern string) bool {
	return pattern == "" || strings.Contains(value, pattern)
}
