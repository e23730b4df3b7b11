package secretstore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	vault "github.com/hashicorp/vault/api"
)

const (
	authToken   = "token"
	authAppRole = "approle"
	authAWS     = "aws"
)

type vaultProvider struct {
	client     *vault.Client
	mount      string
	kvVersion  int
	defaultKey string
	auth       AuthConfig

	loginOnce sync.Once
	loginErr  error
}

func newVaultProvider(cfg ProviderConfig) (*vaultProvider, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		address = strings.TrimSpace(os.Getenv("VAULT_ADDR"))
	}
	if address == "" {
		return nil, fmt.Errorf("vault address is required (set address or VAULT_ADDR)")
	}
	auth, err := normalizeAuth(cfg.Auth)
	if err != nil {
		return nil, err
	}

	apiCfg := vault.DefaultConfig()
	apiCfg.Address = address
	client, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, err
	}
	if ns := strings.TrimSpace(cfg.Namespace); ns != "" {
		client.SetNamespace(ns)
	}
	if auth.Method == authToken {
		client.SetToken(auth.token())
	}

	kv := cfg.KVVersion
	if kv == 0 {
		kv = 2
	}
	if kv != 1 && kv != 2 {
		return nil, fmt.Errorf("vault kvVersion must be 1 or 2, got %d", kv)
	}
	mount := strings.Trim(strings.TrimSpace(cfg.Mount), "/")
	if mount == "" {
		mount = "secret"
	}
	return &vaultProvider{
		client:     client,
		mount:      mount,
		kvVersion:  kv,
		defaultKey: strings.TrimSpace(cfg.Key),
		auth:       auth,
	}, nil
}

// normalizeAuth infers the method from the fields present and checks that
// the method has what it needs.
func normalizeAuth(a AuthConfig) (AuthConfig, error) {
	method := strings.ToLower(strings.TrimSpace(a.Method))
	switch method {
	case "approle", "app-role":
		method = authAppRole
	case "aws", "aws-iam", "iam":
		method = authAWS
	case "", "token":
	default:
		return AuthConfig{}, fmt.Errorf("unsupported vault auth method %q", a.Method)
	}
	if method == "" {
		switch {
		case a.RoleID != "":
			method = authAppRole
		case a.AWSRole != "":
			method = authAWS
		default:
			method = authToken
		}
	}
	a.Method = method
	if strings.TrimSpace(a.Mount) == "" {
		if method != authToken {
			a.Mount = method
		}
	}
	a.Mount = strings.Trim(strings.TrimSpace(a.Mount), "/")

	switch method {
	case authToken:
		if a.token() == "" {
			return AuthConfig{}, fmt.Errorf("vault token auth needs auth.token, auth.tokenEnv or VAULT_TOKEN")
		}
	case authAppRole:
		if strings.TrimSpace(a.RoleID) == "" || a.secretID() == "" {
			return AuthConfig{}, fmt.Errorf("vault approle auth needs roleId and secretId")
		}
	case authAWS:
		if strings.TrimSpace(a.AWSRole) == "" {
			return AuthConfig{}, fmt.Errorf("vault aws auth needs awsRole")
		}
	}
	return a, nil
}

func (p *vaultProvider) Resolve(ctx context.Context, path, key string) (string, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("vault secret path is required")
	}
	if err := p.login(ctx); err != nil {
		return "", err
	}
	data, err := p.read(ctx, path)
	if err != nil {
		return "", err
	}
	if key == "" {
		key = p.defaultKey
	}
	return pickValue(data, key)
}

func (p *vaultProvider) read(ctx context.Context, path string) (map[string]any, error) {
	if p.kvVersion == 2 {
		secret, err := p.client.KVv2(p.mount).Get(ctx, path)
		if err != nil {
			return nil, err
		}
		if secret == nil || secret.Data == nil {
			return nil, fmt.Errorf("vault secret %s/%s not found", p.mount, path)
		}
		return secret.Data, nil
	}
	secret, err := p.client.Logical().ReadWithContext(ctx, p.mount+"/"+path)
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault secret %s/%s not found", p.mount, path)
	}
	return secret.Data, nil
}

// pickValue selects key, else "value", else the only entry.
func pickValue(data map[string]any, key string) (string, error) {
	for _, candidate := range []string{key, "value"} {
		if candidate == "" {
			continue
		}
		if v, ok := data[candidate]; ok {
			return stringValue(v)
		}
	}
	if key != "" {
		return "", fmt.Errorf("vault secret has no key %q", key)
	}
	if len(data) == 1 {
		for _, v := range data {
			return stringValue(v)
		}
	}
	return "", fmt.Errorf("vault secret holds %d values; add #key to the reference", len(data))
}

func stringValue(v any) (string, error) {
	switch typed := v.(type) {
	case string:
		return typed, nil
	case json.Number:
		return typed.String(), nil
	case bool, float64, int, int64:
		return fmt.Sprint(typed), nil
	default:
		return "", fmt.Errorf("vault secret value is a %T, want a string", v)
	}
}

func (p *vaultProvider) login(ctx context.Context) error {
	if p.auth.Method == authToken {
		return nil
	}
	p.loginOnce.Do(func() {
		var data map[string]any
		switch p.auth.Method {
		case authAppRole:
			data = map[string]any{"role_id": p.auth.RoleID, "secret_id": p.auth.secretID()}
		case authAWS:
			data, p.loginErr = awsLoginData(ctx, p.auth)
			if p.loginErr != nil {
				return
			}
		}
		secret, err := p.client.Logical().WriteWithContext(ctx, "auth/"+p.auth.Mount+"/login", data)
		if err != nil {
			p.loginErr = fmt.Errorf("vault %s login: %w", p.auth.Method, err)
			return
		}
		if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
			p.loginErr = fmt.Errorf("vault %s login returned no client token", p.auth.Method)
			return
		}
		p.client.SetToken(secret.Auth.ClientToken)
	})
	return p.loginErr
}

// awsLoginData signs an STS GetCallerIdentity request with the ambient AWS
// credentials, which is what Vault's aws auth method verifies.
func awsLoginData(ctx context.Context, auth AuthConfig) (map[string]any, error) {
	region := strings.TrimSpace(auth.AWSRegion)
	for _, env := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if region == "" {
			region = strings.TrimSpace(os.Getenv(env))
		}
	}
	if region == "" {
		return nil, fmt.Errorf("aws region is required for vault aws auth (set awsRegion or AWS_REGION)")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws credentials: %w", err)
	}

	const body = "Action=GetCallerIdentity&Version=2011-06-15"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://sts.amazonaws.com/", strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	if auth.AWSServerID != "" {
		req.Header.Set("X-Vault-AWS-IAM-Server-ID", auth.AWSServerID)
	}
	sum := sha256.Sum256([]byte(body))
	if err := v4.NewSigner().SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), "sts", region, time.Now()); err != nil {
		return nil, fmt.Errorf("sign sts request: %w", err)
	}
	headers := map[string][]string{}
	for k, v := range req.Header {
		headers[k] = v
	}
	headers["Host"] = []string{req.URL.Host}
	encodedHeaders, err := json.Marshal(headers)
	if err != nil {
		return nil, err
	}
	enc := base64.StdEncoding.EncodeToString
	return map[string]any{
		"role":                    auth.AWSRole,
		"iam_http_request_method": req.Method,
		"iam_request_url":         enc([]byte(req.URL.String())),
		"iam_request_body":        enc([]byte(body)),
		"iam_request_headers":     enc(encodedHeaders),
	}, nil
}
