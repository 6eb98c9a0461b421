package fs_test

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"drivesync/internal/fs"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("creating %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", rel, err)
		}
	}
}

func baseNames(paths []string) []string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	sort.Strings(names)
	return names
}

func TestFindFiles(t *testing.T) {
	t.Run("top level only without recursion", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{
			"a.txt":       "a",
			"b.txt":       "b",
			"sub/c.txt":   "c",
			"sub/d/e.txt": "e",
		})

		paths, err := fs.FindFiles(root, false, nil)
		if err != nil {
			t.Fatalf("FindFiles() error = %v", err)
		}
		got := baseNames(paths)
		if len(got) != 2 || got[0] != "a.txt" || got[1] != "b.txt" {
			t.Errorf("FindFiles() = %v, want top-level files only", got)
		}
	})

	t.Run("recursion walks subdirectories", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{
			"a.txt":       "a",
			"sub/c.txt":   "c",
			"sub/d/e.txt": "e",
		})

		paths, err := fs.FindFiles(root, true, nil)
		if err != nil {
			t.Fatalf("FindFiles() error = %v", err)
		}
		if len(paths) != 3 {
			t.Errorf("FindFiles() = %d files, want 3", len(paths))
		}
	})

	t.Run("non-directory path fails", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{"a.txt": "a"})

		if _, err := fs.FindFiles(filepath.Join(root, "a.txt"), false, nil); err == nil {
			t.Error("FindFiles() expected error for a file path")
		}
	})

	t.Run("applies the ignore matcher", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{
			"keep.txt":       "k",
			"skip.log":       "s",
			"build/out.txt":  "o",
			"src/keep2.txt":  "k",
			".dsignore":      "*.log\nbuild/*\n",
			"src/nested.log": "n",
		})

		patterns, err := fs.ParseIgnoreFile(filepath.Join(root, ".dsignore"))
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		paths, err := fs.FindFiles(root, true, fs.NewIgnoreMatcher(patterns))
		if err != nil {
			t.Fatalf("FindFiles() error = %v", err)
		}

		got := baseNames(paths)
		want := []string{"keep.txt", "keep2.txt"}
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("FindFiles() = %v, want %v", got, want)
		}
	})
}

func TestIgnoreMatcher(t *testing.T) {
	m := fs.NewIgnoreMatcher([]string{
		"*.tmp",
		"node_modules/*",
		"# a comment",
		"",
	})

	tests := []struct {
		path string
		want bool
	}{
		{"scratch.tmp", true},
		{"deep/nested/scratch.tmp", true}, // basename patterns match anywhere
		{"node_modules/lib.js", true},
		{"src/app.js", false},
		{".dsignore", true}, // always ignored
		{"notes.txt", false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.path); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("missing file yields no patterns", func(t *testing.T) {
		patterns, err := fs.ParseIgnoreFile(filepath.Join(t.TempDir(), ".dsignore"))
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if patterns != nil {
			t.Errorf("patterns = %v, want nil", patterns)
		}
	})

	t.Run("reads one pattern per line", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".dsignore")
		if err := os.WriteFile(path, []byte("*.log\nbuild/*\n"), 0644); err != nil {
			t.Fatal(err)
		}
		patterns, err := fs.ParseIgnoreFile(path)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(patterns) != 2 {
			t.Errorf("patterns = %v, want 2 entries", patterns)
		}
	})
}
