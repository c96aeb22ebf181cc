// Package feed loads portfolio definitions from files.
// Loaders only decode records; normalization and validation of project
// fields belong to core/normalize.
package feed

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

// Loader decodes one portfolio file format
type Loader interface {
	// Name returns the loader identifier
	Name() string

	// Extensions lists the file extensions handled, with leading dot
	Extensions() []string

	// Decode parses a portfolio document; name is used in error messages
	Decode(data []byte, name string) (*types.Portfolio, error)
}

// Registry manages loader registration and lookup by extension
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
	byExt   map[string]Loader
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		loaders: make(map[string]Loader),
		byExt:   make(map[string]Loader),
	}
}

// DefaultRegistry returns a registry with the json, yaml and hcl loaders
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, l := range []Loader{JSONLoader{}, YAMLLoader{}, HCLLoader{}} {
		_ = r.Register(l)
	}
	return r
}

// Register adds a loader. An extension may belong to one loader only.
func (r *Registry) Register(l Loader) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.loaders[l.Name()]; exists {
		return errors.Newf(errors.TypeConfig, "loader %s already registered", l.Name())
	}
	for _, ext := range l.Extensions() {
		if owner, taken := r.byExt[ext]; taken {
			return errors.Newf(errors.TypeConfig, "extension %s already handled by %s", ext, owner.Name())
		}
	}
	r.loaders[l.Name()] = l
	for _, ext := range l.Extensions() {
		r.byExt[ext] = l
	}
	return nil
}

// Get returns a loader by name
func (r *Registry) Get(name string) (Loader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[name]
	return l, ok
}

// ForPath returns the loader handling a file's extension
func (r *Registry) ForPath(path string) (Loader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

// LoadFile reads and decodes one portfolio file. A portfolio without an
// id takes the file's base name.
func (r *Registry) LoadFile(ctx context.Context, path string) (*types.Portfolio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, ok := r.ForPath(path)
	if !ok {
		return nil, errors.Newf(errors.TypeValidation, "no loader for %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.TypeNotFound, "failed to read "+path, err)
	}
	p, err := l.Decode(data, path)
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		base := filepath.Base(path)
		p.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return p, nil
}

// LoadDir loads every recognized file in a directory, in file name order.
// Files with unknown extensions are skipped; a malformed file aborts the load.
func (r *Registry) LoadDir(ctx context.Context, dir string) ([]*types.Portfolio, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(errors.TypeNotFound, "failed to read directory "+dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := r.ForPath(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	out := make([]*types.Portfolio, 0, len(names))
	for _, name := range names {
		p, err := r.LoadFile(ctx, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[p.ID]; dup {
			return nil, errors.Newf(errors.TypeValidation, "portfolio %s defined in both %s and %s", p.ID, prev, name)
		}
		seen[p.ID] = name
		out = append(out, p)
	}
	return out, nil
}
