package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// SYSMON_DISPLAY_REFRESH_INTERVAL.
const EnvPrefix = "SYSMON"

// NewViper returns a viper instance that resolves every config key from
// the environment. Callers bind CLI flags onto it with BindPFlag using the
// dotted key names.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range Keys() {
		_ = v.BindEnv(key)
	}
	return v
}

// ApplyOverrides copies every key set in v (environment variable or changed
// flag) onto cfg, then validates. Overrides are applied to cfg only and are
// never persisted.
func ApplyOverrides(cfg *Config, v *viper.Viper) error {
	if v == nil {
		return nil
	}
	for _, key := range Keys() {
		if !v.IsSet(key) {
			continue
		}
		node, err := overrideNode(cfg, key, v.Get(key))
		if err != nil {
			return &ConfigError{Key: key, Reason: err.Error()}
		}
		if err := assign(cfg, key, node); err != nil {
			return err
		}
	}
	return cfg.Validate()
}

// overrideNode converts a viper value into a YAML node. Strings from the
// environment are parsed the same way as `config set` values; a plain
// comma-separated string is accepted for list keys.
func overrideNode(cfg *Config, key string, val any) (*yaml.Node, error) {
	s, ok := val.(string)
	if !ok {
		var n yaml.Node
		if err := n.Encode(val); err != nil {
			return nil, fmt.Errorf("invalid value %v: %v", val, err)
		}
		return &n, nil
	}

	target, err := lookup(reflect.ValueOf(cfg).Elem(), key)
	if err != nil {
		return nil, err
	}
	if target.Kind() == reflect.Slice && !strings.HasPrefix(strings.TrimSpace(s), "[") {
		var items []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		var n yaml.Node
		if err := n.Encode(append([]string{}, items...)); err != nil {
			return nil, err
		}
		return &n, nil
	}
	return parseValue(s)
}
