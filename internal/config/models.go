package config

import "fmt"

// Schema identifies the on-disk shape a rules file was decoded from
type Schema string

const (
	SchemaCurrent     Schema = "current"      // {"rules_list": [...]}
	SchemaLegacyArray Schema = "legacy-array" // bare JSON array of rules
	SchemaLegacyText  Schema = "legacy-text"  // sectioned [rule] text file
)

// ProfileID is the number of a profile slot on the pad
type ProfileID uint32

// Position is a window rectangle as reported by a collector
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// WindowInfo is a snapshot of the currently focused window.
// Fields a collector cannot determine are left empty.
type WindowInfo struct {
	AppName     string    `json:"app_name" yaml:"app_name"`
	Title       string    `json:"title" yaml:"title"`
	ProcessName string    `json:"process_name" yaml:"process_name"`
	ProcessID   uint64    `json:"process_id,omitempty" yaml:"process_id,omitempty"`
	WindowID    string    `json:"window_id,omitempty" yaml:"window_id,omitempty"`
	Position    *Position `json:"position,omitempty" yaml:"position,omitempty"`
}

// Rule maps window attributes to a target profile.
// An empty pattern matches any value.
type Rule struct {
	AppName     string    `json:"app_name" yaml:"app_name" toml:"app_name"`
	Title       string    `json:"window_title" yaml:"window_title" toml:"window_title"`
	ProcessName *string   `json:"process_name,omitempty" yaml:"process_name,omitempty" toml:"process_name,omitempty"`
	Enabled     bool      `json:"enabled" yaml:"enabled" toml:"enabled"`
	SwitchTo    ProfileID `json:"switch_to" yaml:"switch_to" toml:"switch_to"`
}

// ProcessPattern returns the process name pattern, empty when unset
func (r Rule) ProcessPattern() string {
	if r.ProcessName == nil {
		return ""
	}
	return *r.ProcessName
}

// String renders the rule for log lines and CLI listings
func (r Rule) String() string {
	state := "enabled"
	if !r.Enabled {
		state = "disabled"
	}
	return fmt.Sprintf("app=%q title=%q process=%q -> %d (%s)",
		r.AppName, r.Title, r.ProcessPattern(), r.SwitchTo, state)
}

// RuleSet is the ordered, first-match-wins list of rules in effect.
// A RuleSet handed out by the Store is never modified afterwards.
type RuleSet []Rule

// Clone returns a deep copy that may be edited freely
func (rs RuleSet) Clone() RuleSet {
	out := make(RuleSet, len(rs))
	for i, r := range rs {
		if r.ProcessName != nil {
			p := *r.ProcessName
			r.ProcessName = &p
		}
		out[i] = r
	}
	return out
}

// Config is the decoded rules file
type Config struct {
	AutoswitchEnabled *bool   `json:"autoswitch_enabled,omitempty" yaml:"autoswitch_enabled,omitempty" toml:"autoswitch_enabled,omitempty"`
	Rules             RuleSet `json:"rules_list" yaml:"rules_list" toml:"rules_list"`

	// Schema and Path describe where the rules came from; they are not serialized
	Schema Schema `json:"-" yaml:"-" toml:"-"`
	Path   string `json:"-" yaml:"-" toml:"-"`
}

// Default returns the configuration written when no rules file exists
func Default() *Config {
	disabled := false
	return &Config{
		AutoswitchEnabled: &disabled,
		Rules:             RuleSet{},
		Schema:            SchemaCurrent,
	}
}
