package datastore

import (
	"fmt"
	"regexp"

	"github.com/roach88/repostore/internal/config"
)

// DDL placeholders resolved per engine.
const (
	UUIDType   = "UUID_TYPE"
	JSONType   = "JSON_TYPE"
	BinaryType = "BINARY_TYPE"
)

var placeholderNames = []string{UUIDType, JSONType, BinaryType}

var placeholderDefaults = map[string]map[string]string{
	SQLite: {
		UUIDType:   "CHAR(36)",
		JSONType:   "BLOB",
		BinaryType: "BLOB",
	},
	PostgreSQL: {
		UUIDType:   "UUID",
		JSONType:   "JSONB",
		BinaryType: "BYTEA",
	},
}

// One or two words, optionally followed by a numeric length.
var ddlTypePattern = regexp.MustCompile(`^[A-Za-z]+( [A-Za-z]+)?(\(\d+\))?$`)

// resolvePlaceholders returns the DDL type of every placeholder for engine.
// lenient is true when any value came from configuration instead of a
// built-in default.
func resolvePlaceholders(engine string, cfg *config.Store) (types map[string]string, lenient bool, err error) {
	types = make(map[string]string, len(placeholderNames))
	defaults := placeholderDefaults[engine]
	for _, name := range placeholderNames {
		value, ok := defaults[name]
		if !ok {
			value, ok = cfg.Placeholder(name, engine)
			if !ok {
				return nil, false, fmt.Errorf("no %s for engine %s: configure %s.%s", name, engine, name, engine)
			}
			lenient = true
		}
		if !ddlTypePattern.MatchString(value) {
			return nil, false, fmt.Errorf("invalid %s %q for engine %s", name, value, engine)
		}
		types[name] = value
	}
	return types, lenient, nil
}
