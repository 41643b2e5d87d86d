// Package repocontext gathers repository facts for the context stage.
//
// Every probe degrades independently: a failed listing leaves an empty
// top level, a failed walk leaves an empty map, and a path outside a git
// checkout leaves the git fields empty.
package repocontext

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// DefaultMaxDepth bounds the repo map below the root.
const DefaultMaxDepth = 3

// Logger is the logging interface used by the builder.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Builder produces envelope.RepoContext values from the filesystem.
type Builder struct {
	MaxDepth int
	Logger   Logger
}

// New creates a Builder with the default depth.
func New(logger Logger) *Builder {
	return &Builder{MaxDepth: DefaultMaxDepth, Logger: logger}
}

// Build inspects root. It never fails.
func (b *Builder) Build(ctx context.Context, root string) envelope.RepoContext {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		b.Logger.Warn("context_builder_abs_failed", "root", root, "error", err.Error())
		abs = root
	}

	out := envelope.RepoContext{
		RepoRoot: abs,
		HasPy:    isDir(filepath.Join(abs, "py")),
		HasRs:    isDir(filepath.Join(abs, "rs")),
		TopLevel: []string{},
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		b.Logger.Warn("context_builder_iterdir_failed", "root", abs, "error", err.Error())
	} else {
		for _, e := range entries {
			out.TopLevel = append(out.TopLevel, e.Name())
		}
		sort.Strings(out.TopLevel)
	}

	repoMap, err := b.RepoMap(ctx, abs)
	if err != nil {
		b.Logger.Warn("context_builder_repo_map_failed", "root", abs, "error", err.Error())
	}
	out.RepoMap = repoMap

	out.GitBranch, out.GitHead = b.gitHead(abs)
	return out
}

// RepoMap renders a tree of root down to MaxDepth levels, skipping
// names that begin with a dot. Unreadable directories are left out.
func (b *Builder) RepoMap(ctx context.Context, root string) (string, error) {
	maxDepth := b.MaxDepth
	if maxDepth < 0 {
		maxDepth = DefaultMaxDepth
	}

	var lines []string
	var walk func(dir, prefix string, depth int) error
	walk = func(dir, prefix string, depth int) error {
		if depth > maxDepth {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}
		visible := entries[:0:0]
		for _, e := range entries {
			if !strings.HasPrefix(e.Name(), ".") {
				visible = append(visible, e)
			}
		}

		for i, e := range visible {
			last := i == len(visible)-1
			connector := "├── "
			if last {
				connector = "└── "
			}
			lines = append(lines, prefix+connector+e.Name())

			if isDir(filepath.Join(dir, e.Name())) {
				next := prefix + "│   "
				if last {
					next = prefix + "    "
				}
				if err := walk(filepath.Join(dir, e.Name()), next, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(root, "", 0); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// gitHead returns the current branch and commit, or empty strings.
func (b *Builder) gitHead(root string) (string, string) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		b.Logger.Debug("context_builder_not_a_git_repo", "root", root)
		return "", ""
	}
	head, err := repo.Head()
	if err != nil {
		b.Logger.Debug("context_builder_git_head_failed", "root", root, "error", err.Error())
		return "", ""
	}
	branch := ""
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	}
	return branch, head.Hash().String()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
