package ctxengine

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreMatcher decides whether a repo-relative path should be excluded
// from auto-context enumeration, using sabhiram/go-gitignore for
// .gitignore-style matching. It also reads a project-local
// .codeloomignore.
type IgnoreMatcher struct {
	matchers []*gitignore.GitIgnore
}

// NewIgnoreMatcher loads .gitignore and .codeloomignore from root, if
// present. Both are optional; a missing file is not an error.
func NewIgnoreMatcher(root string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{}
	for _, name := range []string{".gitignore", ".codeloomignore"} {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		gi, err := gitignore.CompileIgnoreFile(path)
		if err != nil {
			return nil, err
		}
		m.matchers = append(m.matchers, gi)
	}
	return m, nil
}

// AddPatterns compiles extra gitignore-style patterns (e.g. from a CLI
// --exclude flag) and adds them to the matcher.
func (m *IgnoreMatcher) AddPatterns(patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}
	gi := gitignore.CompileIgnoreLines(patterns...)
	m.matchers = append(m.matchers, gi)
	return nil
}

// AddIgnoreFiles loads extra gitignore-style files (e.g. from a CLI
// --ignore flag) and adds them to the matcher. A missing file is an error
// here, unlike the root .gitignore/.codeloomignore probe in NewIgnoreMatcher,
// since the caller named the file explicitly.
func (m *IgnoreMatcher) AddIgnoreFiles(paths []string) error {
	for _, path := range paths {
		gi, err := gitignore.CompileIgnoreFile(path)
		if err != nil {
			return err
		}
		m.matchers = append(m.matchers, gi)
	}
	return nil
}

// Ignored reports whether relPath (repo-relative, forward-slash separated)
// matches any loaded ignore file, plus the always-excluded VCS/tooling dirs.
func (m *IgnoreMatcher) Ignored(relPath string) bool {
	if isAlwaysExcludedDir(relPath) {
		return true
	}
	for _, gi := range m.matchers {
		if gi.MatchesPath(relPath) {
			return true
		}
	}
	return false
}

func isAlwaysExcludedDir(relPath string) bool {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	for _, p := range parts {
		switch p {
		case ".git", ".codeloom", ".codeloom_backups", "node_modules", ".svn", ".hg":
			return true
		}
	}
	return false
}
