package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestMatchFirstRuleWins(t *testing.T) {
	rules := RuleSet{
		{AppName: "code", SwitchTo: 2, Enabled: true},
		{AppName: "", Title: "", SwitchTo: 1, Enabled: true},
	}

	testCases := []struct {
		name   string
		window WindowInfo
		want   ProfileID
	}{
		{
			name:   "specific rule",
			window: WindowInfo{AppName: "code-oss", Title: "main.rs"},
			want:   2,
		},
		{
			name:   "catch-all fallback",
			window: WindowInfo{AppName: "firefox", Title: "x"},
			want:   1,
		},
		{
			name:   "empty window hits catch-all",
			window: WindowInfo{},
			want:   1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := rules.Match(tc.window)
			assert.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatchNoRuleMatches(t *testing.T) {
	rules := RuleSet{
		{AppName: "code", SwitchTo: 2, Enabled: true},
		{Title: "Inbox", SwitchTo: 3, Enabled: true},
	}

	_, ok := rules.Match(WindowInfo{AppName: "firefox", Title: "News"})
	assert.False(t, ok)

	_, ok = RuleSet{}.Match(WindowInfo{AppName: "code"})
	assert.False(t, ok)
}

func TestMatchDisabledRuleNeverMatches(t *testing.T) {
	windows := []WindowInfo{
		{},
		{AppName: "code", Title: "main.go", ProcessName: "Code"},
		{AppName: "firefox", Title: "Mozilla Firefox", ProcessName: "firefox"},
	}
	patterns := []Rule{
		{},
		{AppName: "code"},
		{Title: "main", ProcessName: strPtr("Code")},
		{AppName: "fire", Title: "Mozilla", ProcessName: strPtr("")},
	}

	for _, p := range patterns {
		p.Enabled = false
		p.SwitchTo = 9
		rules := RuleSet{p}
		for _, w := range windows {
			_, ok := rules.Match(w)
			assert.False(t, ok, "disabled rule %s matched %+v", p, w)
		}
	}
}

func TestMatchCatchAllShadowsLaterRules(t *testing.T) {
	rules := RuleSet{
		{AppName: "code", SwitchTo: 2, Enabled: true},
		{SwitchTo: 1, Enabled: true},
		{AppName: "firefox", SwitchTo: 5, Enabled: true},
	}
	assert.True(t, rules[1].IsCatchAll())

	got, ok := rules.Match(WindowInfo{AppName: "firefox"})
	assert.True(t, ok)
	assert.Equal(t, ProfileID(1), got)
}

func TestMatchAllPatternsMustMatch(t *testing.T) {
	rule := Rule{AppName: "code", Title: "main", ProcessName: strPtr("Code"), Enabled: true, SwitchTo: 4}

	assert.True(t, rule.Matches(WindowInfo{AppName: "code", Title: "main.go - proj", ProcessName: "Code"}))
	assert.False(t, rule.Matches(WindowInfo{AppName: "code", Title: "main.go", ProcessName: "code"}), "case sensitive")
	assert.False(t, rule.Matches(WindowInfo{AppName: "code", Title: "README", ProcessName: "Code"}))
	assert.False(t, rule.Matches(WindowInfo{AppName: "vim", Title: "main.go", ProcessName: "Code"}))
}

func TestMatchEmptyProcessPatternIsVacuous(t *testing.T) {
	withEmpty := Rule{AppName: "term", ProcessName: strPtr(""), Enabled: true}
	withNil := Rule{AppName: "term", Enabled: true}

	w := WindowInfo{AppName: "terminal", ProcessName: "Alacritty"}
	assert.True(t, withEmpty.Matches(w))
	assert.True(t, withNil.Matches(w))
}
