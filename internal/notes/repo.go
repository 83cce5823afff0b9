// Package notes is the document repository: a thin wrapper over the notes
// directory that reads, atomically writes, and lists the markdown concept
// documents the pipelines operate on.
package notes

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"quill/internal/services"
	"quill/internal/storage"
)

// File describes one markdown document on disk.
type File struct {
	Path    string
	Title   string
	Size    int64
	ModTime time.Time
}

// Repository reads and writes concept documents beneath a root directory.
type Repository struct {
	root  string
	store *storage.Store
	title cases.Caser
}

// NewRepository constructs a repository rooted at dir.
func NewRepository(dir string, store *storage.Store) *Repository {
	return &Repository{
		root:  dir,
		store: store,
		title: cases.Title(language.English),
	}
}

// Root returns the notes directory.
func (r *Repository) Root() string { return r.root }

// Resolve joins a repository-relative path onto the root. Absolute paths
// inside the root pass through unchanged; paths escaping the root are refused.
func (r *Repository) Resolve(path string) (string, error) {
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(r.root, candidate)
	}
	cleaned := filepath.Clean(candidate)
	if cleaned != r.root && !strings.HasPrefix(cleaned, r.root+string(filepath.Separator)) {
		return "", services.NewError(services.KindInvalidState, "notes.resolve", "path escapes notes directory").
			WithDetail("path", path)
	}
	return cleaned, nil
}

// ReadByPathIfExists returns the document contents and whether it exists.
func (r *Repository) ReadByPathIfExists(path string) (string, bool, error) {
	resolved, err := r.Resolve(path)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, services.WrapError(services.KindPersistenceFailure, "notes.read", "read document", err).
			WithDetail("path", path)
	}
	return string(data), true, nil
}

// WriteAtomic replaces the document contents in one step.
func (r *Repository) WriteAtomic(path, content string) error {
	resolved, err := r.Resolve(path)
	if err != nil {
		return err
	}
	if err := r.store.AtomicWrite(resolved, []byte(content)); err != nil {
		return services.WrapError(services.KindPersistenceFailure, "notes.write", "write document", err).
			WithDetail("path", path)
	}
	return nil
}

// EnsureDirForPath creates the parent directory of path.
func (r *Repository) EnsureDirForPath(path string) error {
	resolved, err := r.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return services.WrapError(services.KindPersistenceFailure, "notes.ensure_dir", "create parent directory", err).
			WithDetail("path", path)
	}
	return nil
}

// GetFileByPath returns metadata for an existing document, or NotFound.
func (r *Repository) GetFileByPath(path string) (*File, error) {
	resolved, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.NewError(services.KindNotFound, "notes.get", "document not found").
				WithDetail("path", path)
		}
		return nil, services.WrapError(services.KindPersistenceFailure, "notes.get", "stat document", err).
			WithDetail("path", path)
	}
	return &File{
		Path:    resolved,
		Title:   r.TitleFromPath(resolved),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// DeleteByPathIfExists removes the document, reporting whether it existed.
func (r *Repository) DeleteByPathIfExists(path string) (bool, error) {
	resolved, err := r.Resolve(path)
	if err != nil {
		return false, err
	}
	if err := os.Remove(resolved); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, services.WrapError(services.KindPersistenceFailure, "notes.delete", "remove document", err).
			WithDetail("path", path)
	}
	return true, nil
}

// ListMarkdownFiles walks the root and returns every .md document.
func (r *Repository) ListMarkdownFiles() ([]File, error) {
	var files []File
	err := filepath.WalkDir(r.root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && path == r.root {
				return filepath.SkipAll
			}
			return walkErr
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		files = append(files, File{
			Path:    path,
			Title:   r.TitleFromPath(path),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, services.WrapError(services.KindPersistenceFailure, "notes.list", "walk notes directory", err)
	}
	return files, nil
}

// TitleFromPath derives a display title from a file name: the extension is
// dropped and separators become spaces in title case.
func (r *Repository) TitleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	base = strings.TrimSpace(base)
	if base == "" {
		return "Untitled"
	}
	return r.title.String(base)
}

// PathForTitle derives the repository-relative file name for a new document.
func PathForTitle(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = strings.Map(func(ch rune) rune {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			return ch
		case ch == ' ', ch == '-', ch == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = fmt.Sprintf("untitled-%d", time.Now().Unix())
	}
	return slug + ".md"
}
