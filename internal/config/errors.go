package config

import (
	"errors"
	"fmt"
)

// ErrParse marks rules files whose content could not be decoded
var ErrParse = errors.New("invalid rules file")

// ConfigError reports a failure to read, decode or write a rules file
type ConfigError struct {
	Op   string
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err came from undecodable file content as
// opposed to an I/O failure
func IsParseError(err error) bool {
	return errors.Is(err, ErrParse)
}
