package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"livehub/internal/common/fsutil"
)

// sourceExts are the file extensions DirStore recognizes, in lookup order.
var sourceExts = []string{".ts", ".js"}

// DirStore keeps one file per module, named <module>.ts (or .js for files
// placed there by hand).
type DirStore struct {
	dir string
}

// NewDirStore opens dir, creating it when missing. A leading '~' is expanded.
func NewDirStore(dir string) (*DirStore, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create modules dir: %w", err)
	}
	return &DirStore{dir: abs}, nil
}

// Dir returns the absolute directory.
func (s *DirStore) Dir() string { return s.dir }

// moduleName matches extensions exactly so List only sees files Put and
// Delete can address.
func moduleName(file string) (string, bool) {
	for _, ext := range sourceExts {
		if strings.HasSuffix(file, ext) {
			return file[:len(file)-len(ext)], true
		}
	}
	return "", false
}

func (s *DirStore) List(ctx context.Context) ([]Source, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	seen := make(map[string]bool)
	var out []Source
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() {
			continue
		}
		name, ok := moduleName(e.Name())
		if !ok || seen[name] || ValidateName(name) != nil {
			continue
		}
		p := filepath.Join(s.dir, e.Name())
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		seen[name] = true
		out = append(out, Source{Name: name, Text: string(b), UpdatedAt: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *DirStore) Put(_ context.Context, src Source) error {
	if err := ValidateName(src.Name); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(s.dir, src.Name+".ts"), []byte(src.Text), 0o644); err != nil {
		return fmt.Errorf("write module %s: %w", src.Name, err)
	}
	// drop a hand-placed .js sibling so List sees one source per name
	_ = os.Remove(filepath.Join(s.dir, src.Name+".js"))
	return nil
}

func (s *DirStore) Delete(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return ErrNotFound
	}
	removed := false
	for _, ext := range sourceExts {
		err := os.Remove(filepath.Join(s.dir, name+ext))
		switch {
		case err == nil:
			removed = true
		case errors.Is(err, os.ErrNotExist):
		default:
			return fmt.Errorf("remove module %s: %w", name, err)
		}
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}

func (s *DirStore) Close() error { return nil }
