// Package envvar expands ${VAR} placeholders the way Flux post-build
// substitution does.
package envvar

import (
	"os"
	"regexp"
	"slices"
)

// pattern matches $${VAR}, ${VAR}, ${VAR:-default}, ${VAR:=default},
// ${VAR-default} and ${VAR=default}.
// Groups: 1 = escape, 2 = variable name, 3 = operator, 4 = default value.
var pattern = regexp.MustCompile(`(\$?)\$\{([a-zA-Z_][a-zA-Z0-9_]*)(?:(:?[-=])([^}]*))?\}`)

// Lookup resolves a variable name.
type Lookup func(name string) (string, bool)

// MapLookup resolves names from vars.
func MapLookup(vars map[string]string) Lookup {
	return func(name string) (string, bool) {
		value, ok := vars[name]

		return value, ok
	}
}

// EnvLookup resolves names from the process environment.
func EnvLookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// Expand replaces placeholders in value using lookup.
//
// A variable that is unset and has no default expands to the empty string and
// is reported in missing. The colon forms also use the default when the
// variable is set but empty. $${VAR} is an escape and yields ${VAR}.
func Expand(value string, lookup Lookup) (string, []string) {
	if value == "" {
		return value, nil
	}

	var missing []string

	expanded := pattern.ReplaceAllStringFunc(value, func(match string) string {
		groups := pattern.FindStringSubmatch(match)

		if groups[1] != "" {
			return match[1:]
		}

		name, operator, fallback := groups[2], groups[3], groups[4]

		current, exists := lookup(name)

		switch {
		case exists && (current != "" || operator == "" || operator == "-" || operator == "="):
			return current
		case operator != "":
			return fallback
		default:
			if !slices.Contains(missing, name) {
				missing = append(missing, name)
			}

			return ""
		}
	})

	return expanded, missing
}

// ExpandBytes expands placeholders in data using vars.
func ExpandBytes(data []byte, vars map[string]string) ([]byte, []string) {
	out, missing := Expand(string(data), MapLookup(vars))

	return []byte(out), missing
}
