package secretstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"sigs.k8s.io/yaml"
)

// fileProvider serves secrets from a YAML or JSON document. Paths walk nested
// maps with '/'; the key selects one more level.
type fileProvider struct {
	path string
	data map[string]any
}

func newFileProvider(cfg ProviderConfig, baseDir string) (*fileProvider, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("file provider path is required")
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	data := map[string]any{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
	}
	return &fileProvider{path: path, data: data}, nil
}

func (p *fileProvider) Resolve(_ context.Context, secretPath, key string) (string, error) {
	parts := strings.Split(strings.Trim(secretPath, "/"), "/")
	if key != "" {
		parts = append(parts, key)
	}
	var node any = p.data
	for _, part := range parts {
		if part == "" {
			continue
		}
		m, ok := node.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%s: %q is not a map", p.path, part)
		}
		node, ok = m[part]
		if !ok {
			return "", fmt.Errorf("%s: %q not found", p.path, strings.Join(parts, "/"))
		}
	}
	switch typed := node.(type) {
	case string:
		return typed, nil
	case map[string]any:
		if len(typed) == 1 {
			for _, v := range typed {
				if s, ok := v.(string); ok {
					return s, nil
				}
			}
		}
		return "", fmt.Errorf("%s: %q holds several values; add #key to the reference", p.path, secretPath)
	case nil:
		return "", fmt.Errorf("%s: %q is empty", p.path, secretPath)
	default:
		// sigs.k8s.io/yaml decodes through JSON, so numbers and bools arrive
		// as float64/bool.
		return fmt.Sprint(typed), nil
	}
}
