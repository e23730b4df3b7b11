// Package envcatalog lists the environment variables buckle reads.
package envcatalog

import (
	"sort"
	"strings"

	"github.com/example/buckle/internal/values"
)

type VarInfo struct {
	Category    string
	Name        string
	Description string
	Dynamic     bool
	// Secret values are never echoed back.
	Secret bool
}

func Catalog() []VarInfo {
	return []VarInfo{
		{
			Category:    "Config",
			Name:        "BUCKLE_CONFIG",
			Description: "Path to the buckle configuration directory (same as --config).",
		},
		{
			Category:    "Config",
			Name:        "BUCKLE_SETTINGS",
			Description: "Path to the buckle settings file (defaults to ~/.buckle/config.yaml).",
		},
		{
			Category:    "Config",
			Name:        "BUCKLE_<FLAG>",
			Dynamic:     true,
			Description: "Set any buckle CLI flag via environment (hyphens become underscores). Example: BUCKLE_LOG_LEVEL=debug.",
		},
		{
			Category:    "Logging",
			Name:        "BUCKLE_LOG_LEVEL",
			Description: "Log level: debug, info, warn or error.",
		},
		{
			Category:    "Output",
			Name:        "NO_COLOR",
			Description: "Disable ANSI color output (any non-empty value).",
		},
		{
			Category:    "Secrets",
			Name:        "VAULT_ADDR",
			Description: "Vault address used when a vault provider has no address.",
		},
		{
			Category:    "Secrets",
			Name:        "VAULT_TOKEN",
			Secret:      true,
			Description: "Vault token used by token auth when neither auth.token nor auth.tokenEnv is set.",
		},
		{
			Category:    "Secrets",
			Name:        "AWS_REGION",
			Description: "Region for Vault aws auth when awsRegion is not set.",
		},
		{
			Category:    "Secrets",
			Name:        "AWS_DEFAULT_REGION",
			Description: "Fallback region for Vault aws auth.",
		},
	}
}

// Row is one catalog entry with its current value.
type Row struct {
	Category    string `json:"category"`
	Variable    string `json:"variable"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description"`
}

// Snapshot reads every cataloged variable through lookup, masking secrets.
// Dynamic entries name a family of variables and never carry a value. With
// onlySet, unset variables are dropped. Rows sort by category then name.
func Snapshot(lookup func(string) (string, bool), onlySet bool) []Row {
	var rows []Row
	for _, v := range Catalog() {
		var value string
		if !v.Dynamic && lookup != nil {
			raw, _ := lookup(v.Name)
			value = strings.TrimSpace(raw)
		}
		if value != "" && v.Secret {
			value = values.Mask
		}
		if onlySet && value == "" {
			continue
		}
		rows = append(rows, Row{Category: v.Category, Variable: v.Name, Value: value, Description: v.Description})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Category != rows[j].Category {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].Variable < rows[j].Variable
	})
	return rows
}
