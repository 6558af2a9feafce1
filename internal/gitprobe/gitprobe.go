// Package gitprobe implements read-only queries against a git working tree:
// tracked files, diffs vs a tree-ish, merge-base, commit metadata. All
// operations invoke the local git binary and are pure reads.
package gitprobe

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/arrowgrove/codeloom/internal/errs"
)

// CommitMeta is the (hex, summary) pair returned for a tree-ish.
type CommitMeta struct {
	Hex     string
	Summary string
}

func run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", errs.GitInvocationFailed(strings.Join(args, " "), fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err))
	}
	return strings.TrimSpace(string(out)), nil
}

// ResolveRoot returns the real (symlink-resolved) absolute path to the git
// root containing anyPath, or ("", nil) if anyPath is not inside a repo.
func ResolveRoot(anyPath string) (string, error) {
	dir := anyPath
	if fi, err := filepath.Abs(anyPath); err == nil {
		dir = fi
	}
	out, err := run(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", nil
	}
	real, err := filepath.EvalSymlinks(out)
	if err != nil {
		return out, nil
	}
	return real, nil
}

// TrackedFiles returns the set of paths git tracks in root, relative to root.
func TrackedFiles(root string) (map[string]bool, error) {
	out, err := run(root, "ls-files")
	if err != nil {
		return nil, err
	}
	return toSet(out), nil
}

// UntrackedTextFiles returns untracked, non-ignored files in root.
func UntrackedTextFiles(root string) (map[string]bool, error) {
	out, err := run(root, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	return toSet(out), nil
}

// PathsWithDiffs returns the set of paths with a diff vs target (working
// tree + index vs target, as opposed to the pure commit diff).
func PathsWithDiffs(root, target string) (map[string]bool, error) {
	out, err := run(root, "diff", "--name-only", target)
	if err != nil {
		return nil, err
	}
	return toSet(out), nil
}

// Diff returns the unified diff text of the working tree vs target, scoped
// to path when path is non-empty.
func Diff(root, target, path string) (string, error) {
	args := []string{"diff", "--no-color", "--no-ext-diff", target}
	if path != "" {
		args = append(args, "--", path)
	}
	return run(root, args...)
}

// MergeBase returns the common ancestor of HEAD and target.
func MergeBase(root, target string) (string, error) {
	return run(root, "merge-base", "HEAD", target)
}

// CommitMetaOf returns the hex and summary line of target.
func CommitMetaOf(root, target string) (CommitMeta, error) {
	out, err := run(root, "show", "-s", "--format=%H%n%s", target)
	if err != nil {
		return CommitMeta{}, err
	}
	lines := strings.SplitN(out, "\n", 2)
	meta := CommitMeta{Hex: lines[0]}
	if len(lines) > 1 {
		meta.Summary = lines[1]
	}
	return meta, nil
}

// DefaultBranch returns the repository's default branch name, derived from
// the origin remote's HEAD symref, falling back to "main".
func DefaultBranch(root string) string {
	out, err := run(root, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err != nil {
		return "main"
	}
	parts := strings.Split(out, "/")
	return parts[len(parts)-1]
}

// TreeishExists reports whether t resolves to a real object.
func TreeishExists(root, t string) bool {
	_, err := run(root, "rev-parse", "--verify", "--quiet", t+"^{commit}")
	return err == nil
}

func toSet(out string) map[string]bool {
	set := map[string]bool{}
	if out == "" {
		return set
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			set[line] = true
		}
	}
	return set
}
