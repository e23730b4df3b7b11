package secretstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-logr/logr"
)

// Provider looks up a secret by path. key may be empty, in which case the
// provider picks the only value or its configured default key.
type Provider interface {
	Resolve(ctx context.Context, path, key string) (string, error)
}

// Resolver expands references through named providers and caches results
// for the lifetime of a run.
type Resolver struct {
	providers       map[string]Provider
	defaultProvider string
	log             logr.Logger
	cache           map[string]string
}

// NewResolver builds providers from cfg. Relative file provider paths are
// taken from baseDir.
func NewResolver(cfg Config, baseDir string, log logr.Logger) (*Resolver, error) {
	r := &Resolver{
		providers:       map[string]Provider{},
		defaultProvider: strings.TrimSpace(cfg.DefaultProvider),
		log:             log,
		cache:           map[string]string{},
	}
	for _, name := range sortedNames(cfg.Providers) {
		pcfg := cfg.Providers[name]
		var (
			p   Provider
			err error
		)
		switch strings.ToLower(strings.TrimSpace(pcfg.Type)) {
		case "file":
			p, err = newFileProvider(pcfg, baseDir)
		case "vault":
			p, err = newVaultProvider(pcfg)
		case "":
			err = fmt.Errorf("missing type")
		default:
			err = fmt.Errorf("unsupported type %q", pcfg.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("secret provider %q: %w", name, err)
		}
		r.providers[name] = p
	}
	if r.defaultProvider != "" {
		if _, ok := r.providers[r.defaultProvider]; !ok {
			return nil, fmt.Errorf("default secret provider %q is not configured", r.defaultProvider)
		}
	}
	return r, nil
}

// Register adds or replaces a provider.
func (r *Resolver) Register(name string, p Provider) {
	r.providers[name] = p
}

// ProviderNames lists configured providers in sorted order.
func (r *Resolver) ProviderNames() []string {
	return sortedNames(r.providers)
}

// ResolveString returns the secret a reference points at. Values that are not
// references come back unchanged with replaced=false.
func (r *Resolver) ResolveString(ctx context.Context, value string) (string, bool, error) {
	defaultProvider := ""
	if r != nil {
		defaultProvider = r.defaultProvider
	}
	ref, ok, err := ParseRef(value, defaultProvider)
	if !ok {
		return value, false, nil
	}
	if err != nil {
		return "", false, err
	}
	if r == nil {
		return "", false, fmt.Errorf("secret reference %s found but no secret providers are configured", ref)
	}
	resolved, err := r.Resolve(ctx, ref)
	if err != nil {
		return "", false, err
	}
	return resolved, true, nil
}

// Resolve looks up a parsed reference.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (string, error) {
	key := ref.String()
	if cached, ok := r.cache[key]; ok {
		return cached, nil
	}
	p, ok := r.providers[ref.Provider]
	if !ok {
		return "", fmt.Errorf("secret provider %q is not configured (known: %s)", ref.Provider, strings.Join(r.ProviderNames(), ", "))
	}
	val, err := p.Resolve(ctx, ref.Path, ref.Key)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	r.log.V(1).Info("resolved secret reference", "provider", ref.Provider, "path", ref.Path)
	r.cache[key] = val
	return val, nil
}

// Issue is a reference that failed verification.
type Issue struct {
	Key       string
	Reference string
	Err       error
}

// Verify resolves every reference among vals without returning the secrets.
// Issues are sorted by key.
func (r *Resolver) Verify(ctx context.Context, vals map[string]string) []Issue {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var issues []Issue
	for _, k := range keys {
		if !IsRef(vals[k]) {
			continue
		}
		if _, _, err := r.ResolveString(ctx, vals[k]); err != nil {
			issues = append(issues, Issue{Key: k, Reference: strings.TrimSpace(vals[k]), Err: err})
		}
	}
	return issues
}

func sortedNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
