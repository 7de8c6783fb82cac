// Package config – loader.go reads config.yaml with .env support and
// environment variable expansion.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?error}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// Load reads path (or defaults when path is empty), expands environment
// variables, applies the PORT override and validates the result.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, err
		}
		resolveRelativePaths(cfg, path)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse expands environment variables in data and overlays it on the
// defaults.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML, keeping a .bak of the previous file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"replybot.yaml",
		"replybot.yml",
		"configs/config.yaml",
		"configs/replybot.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ---------- Internal ----------

// loadEnvFiles loads .env files. Existing variables are not overwritten.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// applyEnvOverrides applies variables that hosting platforms set directly.
func applyEnvOverrides(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.HTTP.Address = ":" + strings.TrimPrefix(port, ":")
	}
	if admins := strings.TrimSpace(os.Getenv("REPLYBOT_ADMINS")); admins != "" {
		cfg.Access.Admins = strings.FieldsFunc(admins, func(r rune) bool { return r == ',' || r == ' ' })
	}
}

// resolveRelativePaths makes file paths relative to the config file.
func resolveRelativePaths(cfg *Config, configPath string) {
	base := filepath.Dir(configPath)
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&cfg.Data.Path)
	resolve(&cfg.Data.SnapshotDir)
	resolve(&cfg.WhatsApp.SessionDB)
}

// expandEnvVars replaces ${VAR}, ${VAR:-default} and ${VAR:?error}.
// Unset ${VAR} placeholders are kept; unset ${VAR:?msg} is an error.
func expandEnvVars(input string) (string, error) {
	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		name, modifier, value := m[1], m[2], m[3]

		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		switch modifier {
		case "-":
			return value
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			missing = append(missing, name+": "+value)
		}
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%s", strings.Join(missing, "; "))
	}
	return out, nil
}
