package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envRef matches ${NAME} and ${NAME:-fallback}
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Load reads a YAML document from path into out. See Parse.
func Load(path string, out interface{}) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator configuration
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, out)
}

// Parse decodes YAML into out after replacing ${NAME} references with
// environment values. ${NAME:-fallback} uses fallback when NAME is unset or
// empty; an unset reference without a fallback becomes the empty string.
func Parse(data []byte, out interface{}) error {
	if err := yaml.Unmarshal(ExpandEnv(data), out); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// ExpandEnv performs the substitution Parse applies.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		if v := os.Getenv(string(m[1])); v != "" {
			return []byte(v)
		}
		return m[3]
	})
}
