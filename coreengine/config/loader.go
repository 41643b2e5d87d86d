package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultProfile is used when neither the flag nor LG_PROFILE is set.
	DefaultProfile = "dev"
	// EnvPrefix marks environment overrides.
	EnvPrefix = "LG_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

var (
	// ErrConfigNotFound indicates the profile file does not exist.
	ErrConfigNotFound = errors.New("config file not found")
	// ErrInvalidProfile indicates a profile name unsafe for a file name.
	ErrInvalidProfile = errors.New("invalid profile name")

	profilePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	requiredSections = []string{"budgets", "policy", "runner"}
)

// ResolveProfile picks the profile: flag, then LG_PROFILE, then dev.
func ResolveProfile(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvPrefix + "PROFILE")); p != "" {
		return p
	}
	return DefaultProfile
}

// FilePath returns <repoRoot>/configs/runtime.<profile>.toml.
func FilePath(repoRoot, profile string) string {
	return filepath.Join(repoRoot, "configs", fmt.Sprintf("runtime.%s.toml", profile))
}

// Load reads the profile file under repoRoot, applies LG_ environment
// overrides, and validates the result.
//
// Environment variables map to keys by stripping LG_, lower-casing and
// turning a double underscore into a section separator:
//
//	LG_RUNNER__BASE_URL -> runner.base_url
//	LG_BUDGETS__MAX_LOOPS -> budgets.max_loops
//	LG_LOG_LEVEL -> log.level
func Load(repoRoot, profile string) (*Config, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	if !profilePattern.MatchString(profile) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProfile, profile)
	}

	path := FilePath(repoRoot, profile)
	content, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), TOMLParser()); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := checkShape(k); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Profile = profile
	cfg.RepoRoot = repoRoot
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// checkShape requires the mandatory sections and a string network_default.
func checkShape(k *koanf.Koanf) error {
	for _, section := range requiredSections {
		if !k.Exists(section) {
			return fmt.Errorf("missing [%s] section", section)
		}
	}
	if v := k.Get("policy.network_default"); v != nil {
		if _, ok := v.(string); !ok {
			return fmt.Errorf("policy.network_default must be a string, got %T", v)
		}
	}
	return nil
}

// envKey maps an LG_ variable name to a config key. Returning "" skips
// the variable.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	switch key {
	case "profile", "repo_root":
		return ""
	case "log_level":
		return "log.level"
	}
	if !strings.Contains(key, "__") {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

// =============================================================================
// TOML PARSER
// =============================================================================

type tomlParser struct{}

// TOMLParser returns a koanf.Parser backed by BurntSushi/toml.
func TOMLParser() koanf.Parser {
	return tomlParser{}
}

func (tomlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if _, err := toml.Decode(string(b), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (tomlParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
