// Package secretstore resolves secret:// references found in secret values
// against configured providers (a local YAML/JSON file or HashiCorp Vault).
package secretstore

import (
	"os"
	"strings"
)

// Config lists the providers a reference may name.
type Config struct {
	DefaultProvider string                    `yaml:"defaultProvider,omitempty" json:"defaultProvider,omitempty"`
	Providers       map[string]ProviderConfig `yaml:"providers,omitempty" json:"providers,omitempty"`
}

// ProviderConfig configures one provider. Fields apply per Type.
type ProviderConfig struct {
	Type string `yaml:"type" json:"type"`

	// file
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// vault
	Address   string     `yaml:"address,omitempty" json:"address,omitempty"`
	Namespace string     `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Mount     string     `yaml:"mount,omitempty" json:"mount,omitempty"`
	KVVersion int        `yaml:"kvVersion,omitempty" json:"kvVersion,omitempty"`
	Key       string     `yaml:"key,omitempty" json:"key,omitempty"`
	Auth      AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`
}

// AuthConfig selects how buckle logs in to Vault.
type AuthConfig struct {
	Method string `yaml:"method,omitempty" json:"method,omitempty"`
	Mount  string `yaml:"mount,omitempty" json:"mount,omitempty"`
	// Token may be given inline or through TokenEnv. VAULT_TOKEN is the
	// fallback for token auth.
	Token    string `yaml:"token,omitempty" json:"token,omitempty"`
	TokenEnv string `yaml:"tokenEnv,omitempty" json:"tokenEnv,omitempty"`
	RoleID   string `yaml:"roleId,omitempty" json:"roleId,omitempty"`
	SecretID string `yaml:"secretId,omitempty" json:"secretId,omitempty"`
	// SecretIDEnv names an env var holding the AppRole secret id.
	SecretIDEnv string `yaml:"secretIdEnv,omitempty" json:"secretIdEnv,omitempty"`
	AWSRole     string `yaml:"awsRole,omitempty" json:"awsRole,omitempty"`
	AWSRegion   string `yaml:"awsRegion,omitempty" json:"awsRegion,omitempty"`
	AWSServerID string `yaml:"awsServerId,omitempty" json:"awsServerId,omitempty"`
}

func (a AuthConfig) token() string {
	if tok := strings.TrimSpace(a.Token); tok != "" {
		return tok
	}
	if env := strings.TrimSpace(a.TokenEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return strings.TrimSpace(os.Getenv("VAULT_TOKEN"))
}

func (a AuthConfig) secretID() string {
	if id := strings.TrimSpace(a.SecretID); id != "" {
		return id
	}
	if env := strings.TrimSpace(a.SecretIDEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// Empty reports whether no provider is configured.
func (c Config) Empty() bool {
	return c.DefaultProvider == "" && len(c.Providers) == 0
}

// Merge overlays b on a. Providers are replaced whole by name.
func Merge(a, b Config) Config {
	out := Config{DefaultProvider: a.DefaultProvider, Providers: map[string]ProviderConfig{}}
	for name, p := range a.Providers {
		out.Providers[name] = p
	}
	if b.DefaultProvider != "" {
		out.DefaultProvider = b.DefaultProvider
	}
	for name, p := range b.Providers {
		out.Providers[name] = p
	}
	if len(out.Providers) == 0 {
		out.Providers = nil
	}
	return out
}
