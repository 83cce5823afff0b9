package notes_test

import (
	"path/filepath"
	"testing"

	"quill/internal/notes"
	"quill/internal/services"
	"quill/internal/storage"
	"quill/internal/testsupport"
)

func newRepo(t *testing.T) (*notes.Repository, string) {
	t.Helper()
	root := t.TempDir()
	return notes.NewRepository(root, storage.NewStore()), root
}

func TestResolveRejectsEscapingPaths(t *testing.T) {
	repo, root := newRepo(t)

	resolved, err := repo.Resolve("physics/entanglement.md")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved != filepath.Join(root, "physics", "entanglement.md") {
		t.Fatalf("unexpected resolution: %s", resolved)
	}

	if _, err := repo.Resolve("../outside.md"); err == nil {
		t.Fatal("expected rejection of path escaping the root")
	}
	if _, err := repo.Resolve("/etc/passwd"); err == nil {
		t.Fatal("expected rejection of absolute path outside the root")
	}
}

func TestWriteReadDeleteRoundTrip(t *testing.T) {
	repo, _ := newRepo(t)

	if err := repo.EnsureDirForPath("physics/entanglement.md"); err != nil {
		t.Fatalf("EnsureDirForPath failed: %v", err)
	}
	if err := repo.WriteAtomic("physics/entanglement.md", "# Entanglement\n"); err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}

	content, exists, err := repo.ReadByPathIfExists("physics/entanglement.md")
	if err != nil {
		t.Fatalf("ReadByPathIfExists failed: %v", err)
	}
	if !exists || content != "# Entanglement\n" {
		t.Fatalf("unexpected read: exists=%v content=%q", exists, content)
	}

	removed, err := repo.DeleteByPathIfExists("physics/entanglement.md")
	if err != nil {
		t.Fatalf("DeleteByPathIfExists failed: %v", err)
	}
	if !removed {
		t.Fatal("expected delete to report removal")
	}
	removed, err = repo.DeleteByPathIfExists("physics/entanglement.md")
	if err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if removed {
		t.Fatal("deleting a missing file must report false")
	}
}

func TestReadMissingReportsNotExists(t *testing.T) {
	repo, _ := newRepo(t)
	content, exists, err := repo.ReadByPathIfExists("missing.md")
	if err != nil {
		t.Fatalf("ReadByPathIfExists failed: %v", err)
	}
	if exists || content != "" {
		t.Fatalf("expected empty miss, got exists=%v content=%q", exists, content)
	}
}

func TestGetFileByPath(t *testing.T) {
	repo, root := newRepo(t)
	testsupport.WriteNote(t, filepath.Join(root, "graph-theory.md"), "# Graphs\n")

	file, err := repo.GetFileByPath("graph-theory.md")
	if err != nil {
		t.Fatalf("GetFileByPath failed: %v", err)
	}
	if file.Title != "Graph Theory" {
		t.Fatalf("unexpected title: %q", file.Title)
	}

	if _, err := repo.GetFileByPath("missing.md"); !services.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestListMarkdownFiles(t *testing.T) {
	repo, root := newRepo(t)
	testsupport.WriteNote(t, filepath.Join(root, "a.md"), "A")
	testsupport.WriteNote(t, filepath.Join(root, "nested", "b.md"), "B")
	testsupport.WriteNote(t, filepath.Join(root, "ignored.txt"), "skip")

	files, err := repo.ListMarkdownFiles()
	if err != nil {
		t.Fatalf("ListMarkdownFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 markdown files, got %d", len(files))
	}
}

func TestPathForTitle(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Quantum Entanglement", "quantum-entanglement.md"},
		{"  Graph_Theory 101 ", "graph-theory-101.md"},
		{"C# (sharp)!", "c-sharp.md"},
	}
	for _, tc := range cases {
		if got := notes.PathForTitle(tc.title); got != tc.want {
			t.Fatalf("PathForTitle(%q): expected %q, got %q", tc.title, tc.want, got)
		}
	}
	if got := notes.PathForTitle("!!!"); got == ".md" {
		t.Fatalf("empty slug must fall back to a generated name, got %q", got)
	}
}
