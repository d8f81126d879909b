package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment variables that override file values.
const EnvPrefix = "SQLFLOW_"

var decoders = map[string]func([]byte) (Config, error){
	".yaml": FromYAML,
	".yml":  FromYAML,
	".json": FromJSON,
}

// FromFile reads path and decodes it according to its extension
// (.yaml, .yml or .json).
func FromFile(path string) (Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := decoders[ext]
	if !ok {
		return Config{}, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return decode(raw)
}

// FromYAML decodes a YAML document.
func FromYAML(raw []byte) (Config, error) {
	return decodeWith(yaml.Unmarshal, "yaml", raw)
}

// FromJSON decodes a JSON document.
func FromJSON(raw []byte) (Config, error) {
	return decodeWith(json.Unmarshal, "json", raw)
}

func decodeWith(unmarshal func([]byte, any) error, format string, raw []byte) (Config, error) {
	var m map[string]any
	if err := unmarshal(raw, &m); err != nil {
		return Config{}, fmt.Errorf("decode %s config: %w", format, err)
	}
	return New(m), nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// EnvName returns the environment variable that overrides key, e.g.
// SQLFLOW_DATABASE_URL for database.url.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ApplyEnv sets each of keys whose environment variable is present.
// lookup is usually os.LookupEnv.
func (c Config) ApplyEnv(keys []string, lookup func(string) (string, bool)) {
	for _, key := range keys {
		if v, ok := lookup(EnvName(key)); ok {
			c.Set(key, v)
		}
	}
}
