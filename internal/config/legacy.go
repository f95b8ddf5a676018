package config

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

const textRuleSection = "rule"

// looksLikeText reports whether the first meaningful line is a [rule]
// section header, the marker of the line-oriented format
func looksLikeText(data []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line == "["+textRuleSection+"]"
	}
	return false
}

// parseText reads the sectioned rules format:
//
//	# comment
//	[rule]
//	app_name code
//	title main.go
//	switch_to 2
//
// Each option line is "name value"; the name ends at the first space or
// tab and the rest of the line is the value.
func parseText(r io.Reader) (RuleSet, error) {
	rules := RuleSet{}
	scanner := bufio.NewScanner(r)

	var current *Rule
	var seenSwitch bool
	lineNo := 0

	flush := func() error {
		if current == nil {
			return nil
		}
		if !seenSwitch {
			return fmt.Errorf("rule %d: switch_to is required", len(rules)+1)
		}
		rules = append(rules, *current)
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section := strings.TrimSpace(strings.Trim(line, "[]"))
			if section != textRuleSection {
				return nil, fmt.Errorf("line %d: unknown section %q", lineNo, section)
			}
			if err := flush(); err != nil {
				return nil, err
			}
			current = &Rule{Enabled: true}
			seenSwitch = false
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("line %d: option outside of a [rule] section", lineNo)
		}

		name, value := line, ""
		if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
			name, value = line[:i], strings.TrimSpace(line[i:])
		}

		switch name {
		case "app_name":
			current.AppName = value
		case "title", "window_title":
			current.Title = value
		case "process_name":
			p := value
			current.ProcessName = &p
		case "enabled":
			enabled, err := parseTextBool(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current.Enabled = enabled
		case "switch_to":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid switch_to %q", lineNo, value)
			}
			current.SwitchTo = ProfileID(n)
			seenSwitch = true
		default:
			return nil, fmt.Errorf("line %d: unknown option %q", lineNo, name)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading rules: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return rules, nil
}

func parseTextBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", value)
}
