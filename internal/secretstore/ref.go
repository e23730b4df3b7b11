package secretstore

import (
	"fmt"
	"strings"
)

// RefPrefix starts every secret reference.
const RefPrefix = "secret://"

// Ref is a parsed reference: secret://<provider>/<path>[#key]. An empty
// provider (secret:///path) selects the default provider.
type Ref struct {
	Provider string
	Path     string
	Key      string
}

func (r Ref) String() string {
	s := RefPrefix + r.Provider + "/" + r.Path
	if r.Key != "" {
		s += "#" + r.Key
	}
	return s
}

// IsRef reports whether value looks like a secret reference.
func IsRef(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), RefPrefix)
}

// ParseRef parses value. ok is false when value is not a reference at all;
// err is set when it is one but malformed.
func ParseRef(value, defaultProvider string) (ref Ref, ok bool, err error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, RefPrefix) {
		return Ref{}, false, nil
	}
	rest := strings.TrimPrefix(value, RefPrefix)
	if i := strings.LastIndex(rest, "#"); i >= 0 {
		ref.Key = strings.TrimSpace(rest[i+1:])
		rest = rest[:i]
		if ref.Key == "" {
			return Ref{}, true, fmt.Errorf("secret reference %q has an empty key", value)
		}
	}
	provider, path, found := strings.Cut(rest, "/")
	if !found {
		// secret://path uses the default provider.
		provider, path = "", provider
	}
	ref.Provider = strings.TrimSpace(provider)
	ref.Path = strings.Trim(strings.TrimSpace(path), "/")
	if ref.Provider == "" {
		ref.Provider = strings.TrimSpace(defaultProvider)
	}
	if ref.Provider == "" {
		return Ref{}, true, fmt.Errorf("secret reference %q names no provider and no default provider is set", value)
	}
	if ref.Path == "" {
		return Ref{}, true, fmt.Errorf("secret reference %q is missing a path", value)
	}
	return ref, true, nil
}
