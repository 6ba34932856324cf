// Package config implements the configuration loader: it reads the TOML
// configuration file into a LocalIdentity, a NodeDirectory and a TargetGroup
// list, creating a fresh one with a generated secret on first run.
package config

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/naoina/toml"

	"github.com/fsyio/fsy/pkg/fsy/identity"
	"github.com/fsyio/fsy/pkg/fsy/registry"
)

// ConfigError marks a fatal startup failure in the configuration itself:
// an unreadable file, malformed syntax, an unknown target mode, or an
// invariant violation such as a
// duplicate name or a target naming an undefined node. The daemon's
// caller is expected to treat it as non-recoverable.
type ConfigError struct {
	cause error
}

func (e *ConfigError) Error() string { return e.cause.Error() }
func (e *ConfigError) Unwrap() error { return e.cause }

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{cause: fmt.Errorf(format, args...)}
}

// tomlSettings leaves field-name normalization at its default (so the
// snake_case `toml:"..."` tags on the section structs below are honored)
// and only tightens MissingField so a typo in the file is reported instead
// of silently ignored.
var tomlSettings = toml.Config{
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("config: field %q is not defined in %s", field, rt.String())
	},
}

// localSection is the [local] table: this node's own identity and timing.
// secret_key is stored hex-encoded so the file stays valid UTF-8 TOML
// regardless of what random bytes the secret contains.
type localSection struct {
	PublicKey             string `toml:"public_key"`
	SecretKey             string `toml:"secret_key"`
	PushDebounceMillisecs uint64 `toml:"push_debounce_millisecs"`
	LoopDebounceMillisecs uint64 `toml:"loop_debounce_millisecs"`
}

type nodeSection struct {
	Name string `toml:"name"`
	ID   string `toml:"id"`
}

type targetSection struct {
	Mode     string `toml:"mode"`
	NodeName string `toml:"node_name"`
}

type targetGroupSection struct {
	Name    string          `toml:"name"`
	Path    string          `toml:"path"`
	Targets []targetSection `toml:"targets"`
}

// fileSchema mirrors the TOML layout exactly; it is the on-disk shape only,
// never handed out directly.
type fileSchema struct {
	Local        localSection         `toml:"local"`
	Nodes        []nodeSection        `toml:"nodes"`
	TargetGroups []targetGroupSection `toml:"target_groups"`
}

// Config is the loader's immutable output: everything the rest of the
// daemon needs to start, delivered once at boot and never mutated.
type Config struct {
	Identity identity.LocalIdentity
	Registry *registry.Registry
}

const (
	defaultDirName  = ".config/fsy"
	defaultFileName = "config.toml"
)

// DefaultPath resolves the configuration file location:
// $HOME/.config/fsy/config.toml, falling back to the directory of the
// running executable when HOME is unset.
func DefaultPath() (string, error) {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, defaultDirName, defaultFileName), nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("config: resolve executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), defaultDirName, defaultFileName), nil
}

// Load reads path, creating it with a freshly generated secret and empty
// node/target-group lists if it does not yet exist. GENERATE_KEY=true forces
// a fresh secret even for an existing file. Before returning, the parsed
// nodes and target groups are checked by registry.Validate; any violation
// (a duplicate name, a duplicate path, a group with no targets, or a
// target naming an undefined node) is a fatal *ConfigError, not a
// silently-tolerated misconfiguration.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := bootstrap(path); err != nil {
			return Config{}, err
		}
	} else if err != nil {
		return Config{}, fmt.Errorf("config: stat %q: %w", path, err)
	}

	var schema fileSchema
	if err := decodeFile(path, &schema); err != nil {
		return Config{}, &ConfigError{cause: err}
	}

	forceFreshKey := os.Getenv("GENERATE_KEY") == "true"

	id, err := resolveIdentity(schema.Local, forceFreshKey)
	if err != nil {
		return Config{}, err
	}

	if forceFreshKey {
		if err := persist(path, schema, id); err != nil {
			return Config{}, err
		}
	}

	nodes := make([]registry.NodeData, 0, len(schema.Nodes))
	for _, n := range schema.Nodes {
		nodes = append(nodes, registry.NodeData{Name: n.Name, ID: n.ID})
	}

	groups := make([]registry.TargetGroup, 0, len(schema.TargetGroups))
	for _, g := range schema.TargetGroups {
		targets := make([]registry.Target, 0, len(g.Targets))
		for _, t := range g.Targets {
			mode, err := parseMode(t.Mode)
			if err != nil {
				return Config{}, configErrorf("config: group %q: %v", g.Name, err)
			}
			targets = append(targets, registry.Target{Mode: mode, NodeName: t.NodeName})
		}
		groups = append(groups, registry.TargetGroup{Name: g.Name, Path: g.Path, Targets: targets})
	}

	if err := registry.Validate(groups, nodes); err != nil {
		return Config{}, configErrorf("config: %v", err)
	}

	return Config{
		Identity: id,
		Registry: registry.New(groups, nodes),
	}, nil
}

func resolveIdentity(local localSection, forceFreshKey bool) (identity.LocalIdentity, error) {
	pushDebounce := time.Duration(local.PushDebounceMillisecs) * time.Millisecond
	loopCadence := time.Duration(local.LoopDebounceMillisecs) * time.Millisecond

	if forceFreshKey || local.SecretKey == "" {
		return identity.Generate(pushDebounce, loopCadence)
	}

	raw, err := hex.DecodeString(local.SecretKey)
	if err != nil {
		return identity.LocalIdentity{}, fmt.Errorf("config: secret_key is not valid hex: %w", err)
	}
	if len(raw) != identity.SecretSize {
		return identity.LocalIdentity{}, fmt.Errorf("config: secret_key must decode to %d bytes, got %d", identity.SecretSize, len(raw))
	}

	var secret [identity.SecretSize]byte
	copy(secret[:], raw)

	return identity.FromSecret(secret, pushDebounce, loopCadence)
}

func parseMode(s string) (registry.Mode, error) {
	switch s {
	case "push":
		return registry.Push, nil
	case "pull":
		return registry.Pull, nil
	case "push-pull":
		return registry.PushPull, nil
	default:
		return 0, fmt.Errorf("unknown target mode %q", s)
	}
}

func decodeFile(path string, schema *fileSchema) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(schema)
	if _, ok := err.(*toml.LineError); ok {
		err = fmt.Errorf("%s: %w", path, err)
	}
	return err
}

// bootstrap creates an empty configuration file with a freshly generated
// identity, mirroring original_source/src/config.rs's fetch_config
// first-run behavior (there it writes a template with placeholder SSH
// targets; here the daemon has no peers to guess at, so it starts from an
// empty node/target list instead).
func bootstrap(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}

	id, err := identity.Generate(0, 0)
	if err != nil {
		return fmt.Errorf("config: generate initial identity: %w", err)
	}

	schema := fileSchema{
		Local: localSection{
			PublicKey:             id.NodeID,
			SecretKey:             hex.EncodeToString(id.Secret[:]),
			PushDebounceMillisecs: 500,
			LoopDebounceMillisecs: 250,
		},
	}

	return writeFile(path, schema)
}

func persist(path string, schema fileSchema, id identity.LocalIdentity) error {
	schema.Local.PublicKey = id.NodeID
	schema.Local.SecretKey = hex.EncodeToString(id.Secret[:])
	return writeFile(path, schema)
}

func writeFile(path string, schema fileSchema) error {
	out, err := tomlSettings.Marshal(&schema)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("config: write %q: %w", path, err)
	}
	return nil
}
