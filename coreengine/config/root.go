package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxRootSearchDepth bounds the upward search for a config directory.
const maxRootSearchDepth = 32

// ResolveRepoRoot picks the repository root: flag, then LG_REPO_ROOT,
// then the nearest ancestor of the working directory holding
// configs/runtime.*.toml, then the working directory.
func ResolveRepoRoot(flag string) (string, error) {
	if r := strings.TrimSpace(flag); r != "" {
		return filepath.Abs(r)
	}
	if r := strings.TrimSpace(os.Getenv(EnvPrefix + "REPO_ROOT")); r != "" {
		return filepath.Abs(r)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return FindRepoRoot(cwd), nil
}

// FindRepoRoot walks up from start looking for configs/runtime.*.toml.
// It returns start when nothing is found.
func FindRepoRoot(start string) string {
	dir := start
	for i := 0; i < maxRootSearchDepth; i++ {
		matches, _ := filepath.Glob(filepath.Join(dir, "configs", "runtime.*.toml"))
		if len(matches) > 0 {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return start
}
