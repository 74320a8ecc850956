// Package store persists module sources so the hub can rebuild its registry
// after a restart. The hub reads a store lazily and writes through it on
// every accepted push or removal.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Source is one persisted module.
type Source struct {
	Name      string
	Text      string
	UpdatedAt time.Time
}

// Store is the backing store contract.
type Store interface {
	// List returns every stored module ordered by name.
	List(ctx context.Context) ([]Source, error)
	Put(ctx context.Context, src Source) error
	// Delete returns ErrNotFound when the module does not exist.
	Delete(ctx context.Context, name string) error
	Close() error
}

// ErrNotFound is returned by Delete for unknown names.
var ErrNotFound = errors.New("store: module not found")

var validName = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

// ValidateName reports whether name can be used as a module key. Names double
// as file names in the directory store.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid module name %q", name)
	}
	return nil
}
