package discover

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phobologic/apidrift/internal/model"
)

var nonModuleFiles = map[string]struct{}{
	"setup":    {},
	"conftest": {},
	"noxfile":  {},
	"fabfile":  {},
}

var nonModuleDirs = map[string]struct{}{
	"test":  {},
	"tests": {},
	"docs":  {},
}

// TopModules returns the top-level module names under root. It prefers the
// top_level.txt of an installed distribution and falls back to the layout:
// identifier-named directories and .py files directly under root.
func TopModules(root string) ([]string, error) {
	if dir := distInfoDir(root); dir != "" {
		if names := readTopLevel(filepath.Join(dir, "top_level.txt")); len(names) > 0 {
			return names, nil
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if _, skip := skipDirs[name]; skip {
				continue
			}
			if _, skip := nonModuleDirs[name]; skip || !isIdentifier(name) {
				continue
			}
			if hasPython(filepath.Join(root, name)) {
				names = append(names, name)
			}
			continue
		}
		stem, ok := strings.CutSuffix(name, ".py")
		if !ok || !isIdentifier(stem) {
			continue
		}
		if _, skip := nonModuleFiles[stem]; skip {
			continue
		}
		names = append(names, stem)
	}
	sort.Strings(names)
	return names, nil
}

// Metadata reads the project name and version from an installed
// distribution's METADATA file under root.
func Metadata(root string) (model.Release, bool) {
	dir := distInfoDir(root)
	if dir == "" {
		return model.Release{}, false
	}
	f, err := os.Open(filepath.Join(dir, "METADATA"))
	if err != nil {
		return model.Release{}, false
	}
	defer func() { _ = f.Close() }()

	var r model.Release
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break // end of headers
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			r.Project = strings.TrimSpace(value)
		case "version":
			r.Version = strings.TrimSpace(value)
		}
	}
	return r, r.Project != "" && r.Version != ""
}

func distInfoDir(root string) string {
	matches, _ := filepath.Glob(filepath.Join(root, "*.dist-info"))
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

func readTopLevel(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		// Nested entries such as "pkg/sub" are reached from their top module.
		if line == "" || strings.ContainsAny(line, "/\\") || !isIdentifier(line) {
			continue
		}
		names = append(names, line)
	}
	sort.Strings(names)
	return names
}

func hasPython(dir string) bool {
	found := false
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || found {
			return filepath.SkipAll
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".py") {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}
