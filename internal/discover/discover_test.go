package discover

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func moduleNames(mods []Module) []string {
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = m.Name
	}
	return names
}

func TestModulesPackage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "pkg/__init__.py", "")
	writeFile(t, dir, "pkg/core.py", "def f(): pass")
	writeFile(t, dir, "pkg/sub/__init__.py", "")
	writeFile(t, dir, "pkg/sub/deep.py", "")
	// Not importable, should be ignored
	writeFile(t, dir, "pkg/my-scripts/run.py", "")
	writeFile(t, dir, "pkg/readme.txt", "hello")
	writeFile(t, dir, "pkg/.hidden/secret.py", "")
	writeFile(t, dir, "other.py", "")

	mods, err := Modules(dir, []string{"pkg"}, Options{})
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}

	want := []string{"pkg", "pkg.core", "pkg.sub", "pkg.sub.deep"}
	if got := moduleNames(mods); !reflect.DeepEqual(got, want) {
		t.Fatalf("modules = %v, want %v", got, want)
	}

	if !mods[0].IsPackage || mods[0].Namespace || mods[0].Path != filepath.Join("pkg", "__init__.py") {
		t.Errorf("pkg = %+v", mods[0])
	}
	if mods[1].IsPackage || mods[1].Path != filepath.Join("pkg", "core.py") {
		t.Errorf("pkg.core = %+v", mods[1])
	}
}

func TestModulesSingleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "six.py", "")

	mods, err := Modules(dir, []string{"six"}, Options{})
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if len(mods) != 1 || mods[0].Name != "six" || mods[0].IsPackage {
		t.Fatalf("modules = %+v", mods)
	}
}

func TestModulesNamespacePackage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "ns/inner/mod.py", "")

	mods, err := Modules(dir, []string{"ns"}, Options{})
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	want := []string{"ns", "ns.inner", "ns.inner.mod"}
	if got := moduleNames(mods); !reflect.DeepEqual(got, want) {
		t.Fatalf("modules = %v, want %v", got, want)
	}
	if !mods[0].Namespace || !mods[1].Namespace || mods[2].Namespace {
		t.Errorf("namespace flags wrong: %+v", mods)
	}
}

func TestModulesMissingTop(t *testing.T) {
	t.Parallel()

	if _, err := Modules(t.TempDir(), []string{"absent"}, Options{}); err == nil {
		t.Fatal("expected error for missing top-level module")
	}
	if _, err := Modules(t.TempDir(), []string{"bad-name"}, Options{}); err == nil {
		t.Fatal("expected error for invalid module name")
	}
}

func TestModulesSkipDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "pkg/__init__.py", "")
	writeFile(t, dir, "pkg/__pycache__/cached.py", "")
	writeFile(t, dir, "pkg/build/gen.py", "")

	mods, err := Modules(dir, []string{"pkg"}, Options{})
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if got := moduleNames(mods); !reflect.DeepEqual(got, []string{"pkg"}) {
		t.Fatalf("modules = %v", got)
	}
}

func TestModulesIgnorePatterns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, ".gitignore", "pkg/generated.py\n")
	writeFile(t, dir, "pkg/__init__.py", "")
	writeFile(t, dir, "pkg/generated.py", "")
	writeFile(t, dir, "pkg/vendored/lib.py", "")
	writeFile(t, dir, "pkg/api.py", "")

	mods, err := Modules(dir, []string{"pkg"}, Options{Ignore: []string{"pkg/vendored/"}})
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	want := []string{"pkg", "pkg.api"}
	if got := moduleNames(mods); !reflect.DeepEqual(got, want) {
		t.Fatalf("modules = %v, want %v", got, want)
	}
}

func TestModulesSymlinksSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "pkg/__init__.py", "")
	writeFile(t, dir, "real.py", "")

	if err := os.Symlink(filepath.Join(dir, "real.py"), filepath.Join(dir, "pkg", "link.py")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	mods, err := Modules(dir, []string{"pkg"}, Options{})
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if got := moduleNames(mods); !reflect.DeepEqual(got, []string{"pkg"}) {
		t.Fatalf("modules = %v", got)
	}
}

func TestTopModulesFromLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "alpha/__init__.py", "")
	writeFile(t, dir, "beta.py", "")
	writeFile(t, dir, "setup.py", "")
	writeFile(t, dir, "tests/test_alpha.py", "")
	writeFile(t, dir, "data/readme.txt", "")
	writeFile(t, dir, "my-tool.py", "")

	got, err := TopModules(dir)
	if err != nil {
		t.Fatalf("TopModules: %v", err)
	}
	if want := []string{"alpha", "beta"}; !reflect.DeepEqual(got, want) {
		t.Errorf("TopModules = %v, want %v", got, want)
	}
}

func TestTopModulesFromDistInfo(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "alpha/__init__.py", "")
	writeFile(t, dir, "beta.py", "")
	writeFile(t, dir, "alpha-1.0.dist-info/top_level.txt", "alpha\nalpha/_vendor\n")

	got, err := TopModules(dir)
	if err != nil {
		t.Fatalf("TopModules: %v", err)
	}
	if want := []string{"alpha"}; !reflect.DeepEqual(got, want) {
		t.Errorf("TopModules = %v, want %v", got, want)
	}
}

func TestMetadata(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "alpha-1.0.dist-info/METADATA",
		"Metadata-Version: 2.1\nName: alpha\nVersion: 1.0\n\nName: not-a-header\n")

	r, ok := Metadata(dir)
	if !ok {
		t.Fatal("Metadata not found")
	}
	if r.Project != "alpha" || r.Version != "1.0" {
		t.Errorf("Metadata = %+v", r)
	}

	if _, ok := Metadata(t.TempDir()); ok {
		t.Error("Metadata on empty dir should report false")
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
