package envcatalog

import (
	"strings"
	"testing"
)

func TestCatalogNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, v := range Catalog() {
		if seen[v.Name] {
			t.Fatalf("duplicate %s", v.Name)
		}
		seen[v.Name] = true
		if strings.TrimSpace(v.Description) == "" || v.Category == "" {
			t.Fatalf("incomplete entry %+v", v)
		}
	}
	if !seen["BUCKLE_CONFIG"] {
		t.Fatalf("BUCKLE_CONFIG missing")
	}
}

func TestSnapshotMasksSecretsAndFiltersUnset(t *testing.T) {
	env := map[string]string{
		"VAULT_TOKEN":   "s.topsecret",
		"BUCKLE_CONFIG": " /srv/dotfiles ",
		"BUCKLE_<FLAG>": "ignored",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	rows := Snapshot(lookup, true)
	got := map[string]string{}
	for _, r := range rows {
		got[r.Variable] = r.Value
	}
	if len(got) != 2 || got["VAULT_TOKEN"] != "******" || got["BUCKLE_CONFIG"] != "/srv/dotfiles" {
		t.Fatalf("rows=%+v", rows)
	}

	all := Snapshot(lookup, false)
	if len(all) != len(Catalog()) {
		t.Fatalf("expected every entry, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if prev.Category > cur.Category || (prev.Category == cur.Category && prev.Variable > cur.Variable) {
			t.Fatalf("unsorted at %d: %+v %+v", i, prev, cur)
		}
	}
}
