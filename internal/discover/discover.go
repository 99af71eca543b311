// Package discover finds the Python modules that make up a package release.
package discover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/apidrift/internal/lang"
)

// Module is one importable source file.
type Module struct {
	Name      string // Dotted module name
	Path      string // Relative to the extraction root
	IsPackage bool   // Path is an __init__.py or a namespace directory
	Namespace bool   // Directory without __init__.py; Path is the directory
}

// Options tunes discovery.
type Options struct {
	// Ignore holds extra gitignore-style patterns applied after .gitignore.
	Ignore []string
}

var skipDirs = map[string]struct{}{
	"__pycache__":   {},
	"node_modules":  {},
	".git":          {},
	".hg":           {},
	".svn":          {},
	"venv":          {},
	".venv":         {},
	"env":           {},
	".env":          {},
	"build":         {},
	"dist":          {},
	".tox":          {},
	".mypy_cache":   {},
	".ruff_cache":   {},
	".pytest_cache": {},
	"egg-info":      {},
}

// Modules discovers the modules of each top-level module under root.
// A top-level module is either a directory (package) or a single .py file.
// Results are sorted by module name.
func Modules(root string, tops []string, opts Options) ([]Module, error) {
	matcher := loadIgnore(root, opts.Ignore)

	seen := make(map[string]struct{})
	var results []Module
	add := func(m Module) {
		if _, ok := seen[m.Name]; ok {
			return
		}
		seen[m.Name] = struct{}{}
		results = append(results, m)
	}

	for _, top := range tops {
		if !isIdentifier(top) {
			return nil, fmt.Errorf("invalid top-level module name %q", top)
		}
		dir := filepath.Join(root, top)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			found, err := walkPackage(root, dir, matcher)
			if err != nil {
				return nil, fmt.Errorf("walking %s: %w", top, err)
			}
			for _, m := range found {
				add(m)
			}
			add(Module{Name: top, Path: top, IsPackage: true, Namespace: true})
			continue
		}
		file := top + ".py"
		if _, err := os.Stat(filepath.Join(root, file)); err == nil {
			add(Module{Name: top, Path: file})
			continue
		}
		return nil, fmt.Errorf("top-level module %q not found under %s", top, root)
	}

	// Namespace packages have no file of their own.
	for _, m := range append([]Module(nil), results...) {
		parts := strings.Split(m.Name, ".")
		for i := 1; i < len(parts); i++ {
			name := strings.Join(parts[:i], ".")
			add(Module{
				Name:      name,
				Path:      filepath.Join(parts[:i]...),
				IsPackage: true,
				Namespace: true,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})
	return results, nil
}

func walkPackage(root, dir string, matcher *ignore.GitIgnore) ([]Module, error) {
	var results []Module
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}

		name := d.Name()

		if d.IsDir() {
			if path == dir {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") || !isIdentifier(name) {
				return filepath.SkipDir
			}
			return nil
		}

		// Skip symlinks
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		if lang.ForExtension(filepath.Ext(name)) != "python" {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if !isIdentifier(stem) {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/")
		m := Module{Path: rel}
		if stem == "__init__" {
			m.IsPackage = true
		} else {
			parts = append(parts, stem)
		}
		m.Name = strings.Join(parts, ".")
		results = append(results, m)
		return nil
	})
	return results, err
}

func loadIgnore(root string, extra []string) *ignore.GitIgnore {
	var lines []string
	if data, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		lines = strings.Split(string(data), "\n")
	}
	lines = append(lines, extra...)
	if len(lines) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(lines...)
}

// isIdentifier reports whether s is a valid (ASCII) Python identifier.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// ModuleIndex maps module names to modules.
func ModuleIndex(modules []Module) map[string]Module {
	index := make(map[string]Module, len(modules))
	for _, m := range modules {
		index[m.Name] = m
	}
	return index
}
