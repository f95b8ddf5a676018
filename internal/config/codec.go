package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ruleDocument is the wire shape of a rule. Pointers distinguish absent
// fields from zero values so defaults can be applied.
type ruleDocument struct {
	AppName     *string `json:"app_name"`
	WindowTitle *string `json:"window_title"`
	Title       *string `json:"title"`
	ProcessName *string `json:"process_name"`
	Enabled     *bool   `json:"enabled"`
	SwitchTo    *int64  `json:"switch_to"`
}

// UnmarshalJSON accepts either "window_title" or its older alias "title",
// but not both. enabled defaults to true and process_name to an empty pattern.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var doc ruleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	if doc.SwitchTo == nil {
		return errors.New("switch_to is required")
	}
	if *doc.SwitchTo < 0 || *doc.SwitchTo > math.MaxUint32 {
		return fmt.Errorf("switch_to %d out of range", *doc.SwitchTo)
	}

	rule := Rule{
		Enabled:     true,
		SwitchTo:    ProfileID(*doc.SwitchTo),
		ProcessName: doc.ProcessName,
	}
	if doc.AppName != nil {
		rule.AppName = *doc.AppName
	}
	switch {
	case doc.WindowTitle != nil && doc.Title != nil:
		return errors.New("window_title and its alias title are both set")
	case doc.WindowTitle != nil:
		rule.Title = *doc.WindowTitle
	case doc.Title != nil:
		rule.Title = *doc.Title
	}
	if doc.Enabled != nil {
		rule.Enabled = *doc.Enabled
	}

	*r = rule
	return nil
}

type configDocument struct {
	AutoswitchEnabled *bool    `json:"autoswitch_enabled"`
	Rules             *RuleSet `json:"rules_list"`
}

// Decode detects the schema of a rules file by shape and normalizes it
// into a Config. Any failure wraps ErrParse.
func Decode(data []byte) (*Config, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrParse)
	}

	if !json.Valid(trimmed) {
		if looksLikeText(trimmed) {
			rules, err := parseText(bytes.NewReader(trimmed))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
			return &Config{Rules: rules, Schema: SchemaLegacyText}, nil
		}
		var probe any
		err := json.Unmarshal(trimmed, &probe)
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch trimmed[0] {
	case '{':
		var doc configDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if doc.Rules == nil {
			return nil, fmt.Errorf("%w: missing rules_list", ErrParse)
		}
		return &Config{
			AutoswitchEnabled: doc.AutoswitchEnabled,
			Rules:             *doc.Rules,
			Schema:            SchemaCurrent,
		}, nil
	case '[':
		var rules RuleSet
		if err := json.Unmarshal(trimmed, &rules); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if rules == nil {
			rules = RuleSet{}
		}
		return &Config{Rules: rules, Schema: SchemaLegacyArray}, nil
	default:
		return nil, fmt.Errorf("%w: expected a JSON object or array", ErrParse)
	}
}

// Encode renders cfg in the current schema
func Encode(cfg *Config) ([]byte, error) {
	out := struct {
		AutoswitchEnabled *bool   `json:"autoswitch_enabled,omitempty"`
		Rules             RuleSet `json:"rules_list"`
	}{
		AutoswitchEnabled: cfg.AutoswitchEnabled,
		Rules:             cfg.Rules,
	}
	if out.Rules == nil {
		out.Rules = RuleSet{}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
