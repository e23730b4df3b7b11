package secretstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
)

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestParseRef(t *testing.T) {
	cases := []struct {
		value    string
		def      string
		provider string
		path     string
		key      string
		wantErr  bool
	}{
		{value: "secret://vault/app/db#password", provider: "vault", path: "app/db", key: "password"},
		{value: "secret:///app/db", def: "local", provider: "local", path: "app/db"},
		{value: "secret://token", def: "local", provider: "local", path: "token"},
		{value: "secret://token", wantErr: true},
		{value: "secret://vault/", wantErr: true},
		{value: "secret://vault/app#", wantErr: true},
	}
	for _, tc := range cases {
		ref, ok, err := ParseRef(tc.value, tc.def)
		if !ok {
			t.Fatalf("%s: expected a reference", tc.value)
		}
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.value)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.value, err)
		}
		if ref.Provider != tc.provider || ref.Path != tc.path || ref.Key != tc.key {
			t.Fatalf("%s: ref=%+v", tc.value, ref)
		}
	}
	if _, ok, _ := ParseRef("plain", ""); ok {
		t.Fatalf("plain value must not parse as a reference")
	}
}

func TestFileProviderResolve(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "secrets.yaml"), "app:\n  db:\n    password: s3cr3t\n    user: admin\n  single:\n    token: only\nport: 5432\n")
	r, err := NewResolver(Config{
		DefaultProvider: "local",
		Providers:       map[string]ProviderConfig{"local": {Type: "file", Path: "secrets.yaml"}},
	}, dir, logr.Discard())
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	cases := map[string]string{
		"secret://local/app/db#password": "s3cr3t",
		"secret://local/app/db/user":     "admin",
		"secret:///app/single":           "only",
		"secret://port":                  "5432",
	}
	for ref, want := range cases {
		got, replaced, err := r.ResolveString(context.Background(), ref)
		if err != nil || !replaced || got != want {
			t.Fatalf("%s: got=%q replaced=%v err=%v", ref, got, replaced, err)
		}
	}
	if _, _, err := r.ResolveString(context.Background(), "secret://local/app/db"); err == nil {
		t.Fatalf("expected ambiguity error")
	}
	if got, replaced, err := r.ResolveString(context.Background(), "not-a-ref"); err != nil || replaced || got != "not-a-ref" {
		t.Fatalf("got=%q replaced=%v err=%v", got, replaced, err)
	}
}

func TestResolverRejectsUnknownProviders(t *testing.T) {
	if _, err := NewResolver(Config{Providers: map[string]ProviderConfig{"x": {Type: "s3"}}}, "", logr.Discard()); err == nil {
		t.Fatalf("expected unsupported type error")
	}
	if _, err := NewResolver(Config{DefaultProvider: "missing"}, "", logr.Discard()); err == nil {
		t.Fatalf("expected missing default provider error")
	}
	r, err := NewResolver(Config{}, "", logr.Discard())
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	if _, _, err := r.ResolveString(context.Background(), "secret://vault/x"); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("err=%v", err)
	}
}

func TestNilResolverReportsReferences(t *testing.T) {
	var r *Resolver
	if _, _, err := r.ResolveString(context.Background(), "secret://vault/x"); err == nil {
		t.Fatalf("expected error")
	}
	if got, replaced, err := r.ResolveString(context.Background(), "x"); err != nil || replaced || got != "x" {
		t.Fatalf("got=%q replaced=%v err=%v", got, replaced, err)
	}
}

type countingProvider struct {
	calls int
}

func (c *countingProvider) Resolve(_ context.Context, path, key string) (string, error) {
	c.calls++
	return path + ":" + key, nil
}

func TestResolverCachesAndVerifies(t *testing.T) {
	r, err := NewResolver(Config{}, "", logr.Discard())
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	p := &countingProvider{}
	r.Register("mem", p)
	for i := 0; i < 3; i++ {
		got, _, err := r.ResolveString(context.Background(), "secret://mem/a#k")
		if err != nil || got != "a:k" {
			t.Fatalf("got=%q err=%v", got, err)
		}
	}
	if p.calls != 1 {
		t.Fatalf("calls=%d", p.calls)
	}
	issues := r.Verify(context.Background(), map[string]string{
		"OK":    "secret://mem/a",
		"BAD":   "secret://nope/a",
		"PLAIN": "x",
	})
	if len(issues) != 1 || issues[0].Key != "BAD" {
		t.Fatalf("issues=%+v", issues)
	}
}

func TestMergeConfig(t *testing.T) {
	out := Merge(
		Config{DefaultProvider: "a", Providers: map[string]ProviderConfig{"a": {Type: "file", Path: "x"}}},
		Config{Providers: map[string]ProviderConfig{"b": {Type: "vault"}}},
	)
	if out.DefaultProvider != "a" || len(out.Providers) != 2 {
		t.Fatalf("out=%+v", out)
	}
	if !Merge(Config{}, Config{}).Empty() {
		t.Fatalf("expected empty")
	}
}

func TestVaultKV2(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/secret/data/app/db" || r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data":     map[string]any{"password": "s3cr3t", "user": "admin"},
				"metadata": map[string]any{"version": 3, "created_time": "2024-01-01T00:00:00Z", "deletion_time": "", "destroyed": false},
			},
		})
	}))
	defer server.Close()

	p, err := newVaultProvider(ProviderConfig{Type: "vault", Address: server.URL, Auth: AuthConfig{Token: "root"}})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	got, err := p.Resolve(context.Background(), "app/db", "password")
	if err != nil || got != "s3cr3t" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if _, err := p.Resolve(context.Background(), "app/db", ""); err == nil {
		t.Fatalf("expected ambiguity error")
	}
}

func TestVaultKV1DefaultValueKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/kv/app/token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"value": "ok", "other": "x"}})
	}))
	defer server.Close()

	p, err := newVaultProvider(ProviderConfig{Type: "vault", Address: server.URL, Mount: "kv", KVVersion: 1, Auth: AuthConfig{Token: "t"}})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	got, err := p.Resolve(context.Background(), "app/token", "")
	if err != nil || got != "ok" {
		t.Fatalf("got=%q err=%v", got, err)
	}
}

func TestVaultAppRoleLogin(t *testing.T) {
	var logins int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/approle/login":
			logins++
			_ = json.NewEncoder(w).Encode(map[string]any{"auth": map[string]any{"client_token": "issued"}})
		case "/v1/secret/data/app":
			if r.Header.Get("X-Vault-Token") != "issued" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
				"data":     map[string]any{"token": "t0k"},
				"metadata": map[string]any{"version": 1, "created_time": "2024-01-01T00:00:00Z", "deletion_time": ""},
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	t.Setenv("BUCKLE_TEST_SECRET_ID", "sid")
	p, err := newVaultProvider(ProviderConfig{
		Type:    "vault",
		Address: server.URL,
		Auth:    AuthConfig{RoleID: "rid", SecretIDEnv: "BUCKLE_TEST_SECRET_ID"},
	})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := p.Resolve(context.Background(), "app", "")
		if err != nil || got != "t0k" {
			t.Fatalf("got=%q err=%v", got, err)
		}
	}
	if logins != 1 {
		t.Fatalf("logins=%d", logins)
	}
}

func TestNormalizeAuth(t *testing.T) {
	t.Setenv("VAULT_TOKEN", "")
	if _, err := normalizeAuth(AuthConfig{}); err == nil {
		t.Fatalf("token auth without a token must fail")
	}
	if _, err := normalizeAuth(AuthConfig{Method: "approle", RoleID: "r"}); err == nil {
		t.Fatalf("approle without secret id must fail")
	}
	if _, err := normalizeAuth(AuthConfig{Method: "aws"}); err == nil {
		t.Fatalf("aws without role must fail")
	}
	if _, err := normalizeAuth(AuthConfig{Method: "ldap"}); err == nil {
		t.Fatalf("unknown method must fail")
	}
	a, err := normalizeAuth(AuthConfig{AWSRole: "dev"})
	if err != nil || a.Method != authAWS || a.Mount != "aws" {
		t.Fatalf("auth=%+v err=%v", a, err)
	}
	t.Setenv("VAULT_TOKEN", "from-env")
	a, err = normalizeAuth(AuthConfig{})
	if err != nil || a.Method != authToken || a.token() != "from-env" {
		t.Fatalf("auth=%+v err=%v", a, err)
	}
}
