package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/sysmon/internal/atomicfile"
)

// ConfigError reports an invalid, unknown or mistyped configuration key.
type ConfigError struct {
	// Key is the dotted key path, e.g. "display.refresh_interval". It may be
	// empty when the file itself cannot be parsed.
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return e.Reason
	}
	return e.Key + ": " + e.Reason
}

// Store owns the configuration file at one path. It is safe for concurrent
// use.
type Store struct {
	path string

	mu  sync.Mutex
	cfg *Config
}

// NewStore creates a store for the file at path. Nothing is read until Load.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the file over the defaults, key by key, and validates the
// result. A missing file yields the defaults.
func (s *Store) Load() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", s.path, err)
	default:
		if err := decodeInto(cfg, data); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return cfg.Clone(), nil
}

// Get returns the value at a dotted key path from the loaded configuration.
func (s *Store) Get(keyPath string) (any, error) {
	cfg, err := s.current()
	if err != nil {
		return nil, err
	}
	v, err := lookup(reflect.ValueOf(cfg).Elem(), keyPath)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// Set parses value as YAML, assigns it to keyPath, validates the whole
// configuration and persists it. On any error neither the in-memory
// configuration nor the file changes.
func (s *Store) Set(keyPath, value string) error {
	cfg, err := s.current()
	if err != nil {
		return err
	}

	node, err := parseValue(value)
	if err != nil {
		return &ConfigError{Key: keyPath, Reason: err.Error()}
	}

	next := cfg.Clone()
	if err := assign(next, keyPath, node); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if err := save(next, s.path); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = next
	s.mu.Unlock()
	return nil
}

// Reset overwrites the file with the defaults.
func (s *Store) Reset() error {
	cfg := DefaultConfig()
	if err := save(cfg, s.path); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Marshal renders the loaded configuration as YAML.
func (s *Store) Marshal() ([]byte, error) {
	cfg, err := s.current()
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(cfg)
}

// current returns the loaded configuration, loading it on first use.
func (s *Store) current() (*Config, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if cfg != nil {
		return cfg.Clone(), nil
	}
	return s.Load()
}

// save writes cfg to path atomically.
func save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	return nil
}

// decodeInto overlays a YAML document onto cfg. Only keys present in the
// document change; unknown keys and type mismatches are ConfigErrors.
func decodeInto(cfg *Config, data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &ConfigError{Reason: fmt.Sprintf("parse: %v", err)}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil // empty file
	}
	return walk(doc.Content[0], reflect.ValueOf(cfg).Elem(), "")
}

// assign applies node at keyPath.
func assign(cfg *Config, keyPath string, node *yaml.Node) error {
	target, err := lookup(reflect.ValueOf(cfg).Elem(), keyPath)
	if err != nil {
		return err
	}
	return walk(node, target, keyPath)
}

// walk decodes node into v, recursing through mappings so that every error
// carries the full key path.
func walk(node *yaml.Node, v reflect.Value, path string) error {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	if node.Tag == "!!null" {
		return nil
	}

	if v.Kind() == reflect.Struct {
		if node.Kind != yaml.MappingNode {
			return &ConfigError{Key: path, Reason: "expected a mapping"}
		}
		for i := 0; i+1 < len(node.Content); i += 2 {
			name := node.Content[i].Value
			key := join(path, name)
			field, ok := fieldByTag(v, name)
			if !ok {
				return &ConfigError{Key: key, Reason: "unknown key"}
			}
			if err := walk(node.Content[i+1], field, key); err != nil {
				return err
			}
		}
		return nil
	}

	// Decode into a fresh value so a failed decode leaves v untouched.
	fresh := reflect.New(v.Type())
	if err := node.Decode(fresh.Interface()); err != nil {
		return &ConfigError{Key: path, Reason: typeReason(err, v.Type())}
	}
	v.Set(fresh.Elem())
	return nil
}

// lookup resolves a dotted key path to a settable field.
func lookup(v reflect.Value, keyPath string) (reflect.Value, error) {
	if keyPath == "" {
		return reflect.Value{}, &ConfigError{Reason: "empty key"}
	}
	for i, name := range strings.Split(keyPath, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, &ConfigError{Key: keyPath, Reason: "unknown key"}
		}
		field, ok := fieldByTag(v, name)
		if !ok {
			prefix := strings.Join(strings.Split(keyPath, ".")[:i+1], ".")
			return reflect.Value{}, &ConfigError{Key: prefix, Reason: "unknown key"}
		}
		v = field
	}
	return v, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// DefaultValue returns the built-in default for a dotted key path.
func DefaultValue(keyPath string) (any, error) {
	v, err := lookup(reflect.ValueOf(DefaultConfig()).Elem(), keyPath)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// Keys returns every leaf key path in declaration order.
func Keys() []string {
	var out []string
	var rec func(t reflect.Type, prefix string)
	rec = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
			key := join(prefix, tag)
			if t.Field(i).Type.Kind() == reflect.Struct {
				rec(t.Field(i).Type, key)
				continue
			}
			out = append(out, key)
		}
	}
	rec(reflect.TypeOf(Config{}), "")
	return out
}

// parseValue parses a command-line value as a YAML scalar or flow sequence.
func parseValue(value string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(value), &doc); err != nil {
		return nil, fmt.Errorf("invalid value %q: %v", value, err)
	}
	if len(doc.Content) == 0 {
		// An empty string sets an empty string value.
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}, nil
	}
	return doc.Content[0], nil
}

func typeReason(err error, t reflect.Type) string {
	var te *yaml.TypeError
	if errors.As(err, &te) && len(te.Errors) > 0 {
		msg := te.Errors[0]
		if _, rest, ok := strings.Cut(msg, ": "); ok && strings.HasPrefix(msg, "line ") {
			msg = rest
		}
		return msg
	}
	return fmt.Sprintf("expected %s: %v", t, err)
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
