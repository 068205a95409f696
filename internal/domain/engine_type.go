package domain

import (
	"fmt"
	"strings"
)

// EngineType selects the download engine for a whole sync pass
type EngineType string

// Engine types
const (
	EngineBuiltin EngineType = "builtin"
	EngineAria2c  EngineType = "aria2c"
)

// ParseEngineType parses an engine name. Empty input selects the builtin engine.
func ParseEngineType(s string) (EngineType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(EngineBuiltin):
		return EngineBuiltin, nil
	case string(EngineAria2c):
		return EngineAria2c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEngine, s)
	}
}

// String returns the engine name
func (t EngineType) String() string {
	return string(t)
}
