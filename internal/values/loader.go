package values

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"filippo.io/age"
	"github.com/BurntSushi/toml"
	"github.com/go-logr/logr"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/example/buckle/internal/failure"
	"github.com/example/buckle/internal/interpreter"
)

// SourceKind names how a source file was read.
type SourceKind string

const (
	SourceRaw    SourceKind = "raw"
	SourceScript SourceKind = "script"
	SourceTOML   SourceKind = "toml"
	SourceYAML   SourceKind = "yaml"
	SourceJSON   SourceKind = "json"
)

const encryptedSuffix = ".age"

// Source describes one file that contributed to a layer.
type Source struct {
	Path      string
	Kind      SourceKind
	Encrypted bool
	// Deferred sources were recognized but not read, e.g. scripts in a
	// static (plan) load.
	Deferred bool
}

// Layer is the merged result of one directory plus where it came from.
type Layer struct {
	Values  Values
	Sources []Source
}

// RefResolver expands secret references such as secret://vault/app#token.
type RefResolver interface {
	ResolveString(ctx context.Context, value string) (string, bool, error)
}

// Loader reads config and secret directories.
type Loader struct {
	runner     interpreter.Runner
	table      interpreter.Table
	identities []age.Identity
	refs       RefResolver
	log        logr.Logger
	static     bool
	sensitive  bool
}

// Option customizes a Loader.
type Option func(*Loader)

// WithRunner sets the process runner used for script sources.
func WithRunner(r interpreter.Runner) Option {
	return func(l *Loader) {
		if r != nil {
			l.runner = r
		}
	}
}

// WithTable sets the extension to interpreter mapping.
func WithTable(t interpreter.Table) Option {
	return func(l *Loader) { l.table = t }
}

// WithIdentities enables decryption of *.age sources.
func WithIdentities(ids ...age.Identity) Option {
	return func(l *Loader) { l.identities = append([]age.Identity(nil), ids...) }
}

// WithRefResolver resolves secret:// values after each file is parsed.
func WithRefResolver(r RefResolver) Option {
	return func(l *Loader) { l.refs = r }
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// Static disables every side effect: scripts are not executed and secret
// references are left as written.
func Static() Option {
	return func(l *Loader) { l.static = true }
}

// Sensitive marks loaded values as secrets: a failing script's stdout is
// reported with every value masked.
func Sensitive() Option {
	return func(l *Loader) { l.sensitive = true }
}

// NewLoader builds a loader. The zero configuration runs scripts on the
// local host through the default interpreter table.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		runner: interpreter.ExecRunner{},
		table:  interpreter.Default(),
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// LoadAll merges every source file directly inside dir. A missing directory
// yields an empty map.
func (l *Loader) LoadAll(ctx context.Context, dir string) (Values, error) {
	layer, err := l.LoadLayer(ctx, dir)
	if err != nil {
		return nil, err
	}
	return layer.Values, nil
}

// LoadLayer is LoadAll plus the list of contributing sources.
func (l *Loader) LoadLayer(ctx context.Context, dir string) (Layer, error) {
	layer := Layer{Values: Values{}}
	files, err := listFiles(dir)
	if err != nil {
		return Layer{}, err
	}
	for _, file := range files {
		vals, src, err := l.load(ctx, file)
		if err != nil {
			return Layer{}, err
		}
		layer.Values.Merge(vals)
		layer.Sources = append(layer.Sources, src)
		l.log.V(1).Info("loaded values", "file", file, "kind", string(src.Kind), "keys", len(vals), "deferred", src.Deferred)
	}
	return layer, nil
}

// Load reads a single source file.
func (l *Loader) Load(ctx context.Context, file string) (Values, error) {
	vals, _, err := l.load(ctx, file)
	return vals, err
}

func (l *Loader) load(ctx context.Context, file string) (Values, Source, error) {
	src := Source{Path: file}
	ext := filepath.Ext(file)
	if ext == encryptedSuffix {
		src.Encrypted = true
		ext = filepath.Ext(strings.TrimSuffix(file, encryptedSuffix))
	}
	if ext == "" {
		return nil, src, failure.Userf(
			"Use one of the supported file extensions to tell buckle how to read this config file.",
			"Could not determine how to load the config file %s because it did not have a file extension.", file,
		).Tag(failure.ErrUnsupportedExtension)
	}

	kind, ok := l.kindOf(ext)
	if !ok {
		return nil, src, unsupported(ext)
	}
	src.Kind = kind

	if kind == SourceScript {
		if src.Encrypted {
			return nil, src, failure.Userf(
				"Store the script unencrypted, or move the secret values it prints into an encrypted data file.",
				"The config file '%s' is an encrypted script, which buckle cannot execute.", file,
			).Tag(failure.ErrUnsupportedExtension)
		}
		if l.static {
			src.Deferred = true
			return Values{}, src, nil
		}
		out, err := l.runScript(ctx, file)
		if err != nil {
			return nil, src, err
		}
		vals, err := l.resolveRefs(ctx, file, Parse(out))
		return vals, src, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, src, failure.System(err,
			"Unable to read configuration file due to an OS-level error.",
			failure.AdviceReadCause)
	}
	if src.Encrypted {
		if len(l.identities) == 0 {
			if l.static {
				src.Deferred = true
				return Values{}, src, nil
			}
			return nil, src, failure.Userf(
				"Set age.identityFile in your buckle settings to the identity that can decrypt this file.",
				"The config file '%s' is encrypted but no age identity is configured.", file)
		}
		data, err = l.decrypt(data)
		if err != nil {
			return nil, src, failure.UserWrap(err,
				fmt.Sprintf("Failed to decrypt the config file '%s'.", file),
				"Make sure the configured age identity is one of the file's recipients.")
		}
	}

	vals, err := decode(kind, data)
	if err != nil {
		return nil, src, failure.UserWrap(err,
			fmt.Sprintf("Failed to parse the config file '%s'.", file),
			"Check that the file is valid for its extension.")
	}
	vals, err = l.resolveRefs(ctx, file, vals)
	return vals, src, err
}

func (l *Loader) kindOf(ext string) (SourceKind, bool) {
	switch ext {
	case ".env":
		return SourceRaw, true
	case ".toml":
		return SourceTOML, true
	case ".yaml", ".yml":
		return SourceYAML, true
	case ".json":
		return SourceJSON, true
	}
	if _, ok := l.table.Lookup(ext); ok {
		return SourceScript, true
	}
	return "", false
}

func (l *Loader) runScript(ctx context.Context, file string) (string, error) {
	cmd, _ := l.table.Command(file)
	res, err := l.runner.Run(ctx, cmd)
	if err == nil {
		return string(res.Stdout), nil
	}
	if interpreter.IsSpawnFailure(res, err) {
		return "", failure.System(err,
			fmt.Sprintf("Failed to execute the command '%s %s'.", cmd.Name, file),
			fmt.Sprintf("Make sure that '%s' is installed and present on your path and that you have permission to access it.", cmd.Name))
	}
	stdout := res.Stdout
	if l.sensitive {
		stdout = maskOutput(stdout)
	}
	return "", failure.UserWrap(failure.Detailed(stdout, res.Stderr),
		"Failed to load configuration from script.",
		failure.AdviceReadCause,
	).Tag(failure.ErrCommandFailed)
}

// maskOutput keeps the keys a script printed and drops everything else.
func maskOutput(stdout []byte) []byte {
	vals := Parse(string(stdout))
	var b strings.Builder
	for _, k := range vals.Keys() {
		b.WriteString(k + "=" + Mask + "\n")
	}
	return []byte(b.String())
}

func (l *Loader) decrypt(data []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(data), l.identities...)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (l *Loader) resolveRefs(ctx context.Context, file string, vals Values) (Values, error) {
	if l.refs == nil || l.static {
		return vals, nil
	}
	for _, k := range vals.Keys() {
		resolved, replaced, err := l.refs.ResolveString(ctx, vals[k])
		if err != nil {
			return nil, failure.UserWrap(err,
				fmt.Sprintf("Failed to resolve the secret reference for '%s' in '%s'.", k, file),
				"Check the secret provider configuration in your buckle settings.")
		}
		if replaced {
			vals[k] = resolved
		}
	}
	return vals, nil
}

func decode(kind SourceKind, data []byte) (Values, error) {
	out := Values{}
	switch kind {
	case SourceRaw:
		return Parse(string(data)), nil
	case SourceTOML:
		var doc map[string]any
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		flatten("", doc, out)
	case SourceYAML:
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		flatten("", doc, out)
	case SourceJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.UseNumber()
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			return nil, err
		}
		flatten("", doc, out)
	default:
		return nil, fmt.Errorf("no decoder for %s sources", kind)
	}
	return out, nil
}

func unsupported(ext string) error {
	return failure.Userf(
		"Try using a file extension that is supported by buckle.",
		"The '%s' extension is not supported for config files.", strings.TrimPrefix(ext, "."),
	).Tag(failure.ErrUnsupportedExtension)
}

// listFiles returns the regular files directly inside dir sorted by name.
// Symlinks are followed; dangling links and anything that is not a regular
// file are skipped.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, failure.System(err, "Failed to read the list of configuration files.", failure.AdviceReadCause)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			// dangling symlink
			continue
		}
		if err != nil {
			return nil, failure.System(err, "Failed to read the list of configuration files.", failure.AdviceReadCause)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}
