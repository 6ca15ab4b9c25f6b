package storage

import (
	"errors"
	"fmt"
)

// Overlay buffers writes on top of a parent Database. Reads fall through to
// the parent for keys the overlay has not touched. Nothing reaches the parent
// until Commit; Discard drops every buffered write. Overlays nest: an overlay
// whose parent is another overlay commits into that parent's buffer.
type Overlay struct {
	parent  Database
	puts    map[string][]byte
	deletes map[string]struct{}
}

// NewOverlay returns an empty overlay on top of parent.
func NewOverlay(parent Database) *Overlay {
	return &Overlay{
		parent:  parent,
		puts:    make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	k := string(key)
	delete(o.deletes, k)
	o.puts[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, ok := o.deletes[k]; ok {
		return nil, ErrNotFound
	}
	if value, ok := o.puts[k]; ok {
		return append([]byte(nil), value...), nil
	}
	if o.parent == nil {
		return nil, ErrNotFound
	}
	return o.parent.Get(key)
}

func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.puts, k)
	o.deletes[k] = struct{}{}
	return nil
}

func (o *Overlay) Has(key []byte) (bool, error) {
	_, err := o.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// WriteBatch folds a child overlay's writes into this overlay.
func (o *Overlay) WriteBatch(puts map[string][]byte, deletes map[string]struct{}) error {
	for key := range deletes {
		delete(o.puts, key)
		o.deletes[key] = struct{}{}
	}
	for key, value := range puts {
		delete(o.deletes, key)
		o.puts[key] = value
	}
	return nil
}

// Dirty reports whether the overlay holds uncommitted writes.
func (o *Overlay) Dirty() bool {
	return len(o.puts) > 0 || len(o.deletes) > 0
}

// Commit flushes the buffered writes into the parent and resets the overlay.
func (o *Overlay) Commit() error {
	if o.parent == nil {
		return fmt.Errorf("storage: overlay has no parent")
	}
	if !o.Dirty() {
		return nil
	}
	if batcher, ok := o.parent.(Batcher); ok {
		if err := batcher.WriteBatch(o.puts, o.deletes); err != nil {
			return fmt.Errorf("storage: commit overlay: %w", err)
		}
	} else {
		for key := range o.deletes {
			if err := o.parent.Delete([]byte(key)); err != nil {
				return fmt.Errorf("storage: commit delete: %w", err)
			}
		}
		for key, value := range o.puts {
			if err := o.parent.Put([]byte(key), value); err != nil {
				return fmt.Errorf("storage: commit put: %w", err)
			}
		}
	}
	o.Discard()
	return nil
}

// Discard drops every buffered write.
func (o *Overlay) Discard() {
	o.puts = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
}

// Close is a no-op; the parent owns the underlying handle.
func (o *Overlay) Close() {}
