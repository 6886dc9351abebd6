package catalogue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"LnSPoll/model"
)

// FSProvider scans a local directory. Files directly under Root form the
// general pool; files in Root/<language>/ form that language's pool.
type FSProvider struct {
	Root string
}

// NewFSProvider 创建文件系统目录扫描器
func NewFSProvider(root string) *FSProvider {
	return &FSProvider{Root: root}
}

// Scan walks Root. A missing root yields an empty catalogue.
func (p *FSProvider) Scan(ctx context.Context) (*model.Catalogue, error) {
	info, err := os.Stat(p.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewCatalogue(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat audio dir %s: %w", p.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("audio dir %s is not a directory", p.Root)
	}

	b := newBuilder()
	err = filepath.WalkDir(p.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(p.Root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			// only one level of language folders
			if IsHidden(d.Name()) || filepath.Dir(rel) != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			b.add(filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan audio dir %s: %w", p.Root, err)
	}
	return b.cat, nil
}

// Open returns the file behind a catalogue path, refusing anything outside Root.
func (p *FSProvider) Open(relPath string) (*os.File, error) {
	if !fs.ValidPath(relPath) {
		return nil, fs.ErrNotExist
	}
	return os.Open(filepath.Join(p.Root, filepath.FromSlash(relPath)))
}
