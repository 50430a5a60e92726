// Package lockregistry implements a named advisory mutex keyed by
// absolute path string, grounded on the pin-count/refcounted-map idiom
// used for per-file in-memory locks
// (pkg/filestore/blockstore_cache.go's getEntryAndPin/unpinEntryAndTryDelete
// plus withLock/withLockRtn), generalised from a two-level (zone, name)
// key to a single path string and exposed as an explicit lock/unlock
// handle rather than a callback, since a node needs to hold a parent
// lock across several sequential steps.
//
// github.com/alexflint/go-filemutex is the black-box advisory mutex
// provider backing each named lock's critical section, giving every
// process on the same host (not just goroutines within one process) a
// real exclusion guarantee over the same path, which a bare sync.Mutex
// cannot offer for the SQLite backend's on-disk file.
package lockregistry

import (
	"fmt"
	"sync"

	filemutex "github.com/alexflint/go-filemutex"

	"github.com/brevitylabs/dsvfs/pkg/dsbase"
)

type entry struct {
	refCount int
	fm       *filemutex.FileMutex
}

// Registry is process-global: one instance is owned by the engine and
// shared by every node, a long-lived singleton rather than something
// recreated per call.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	lockDir string
}

func New(lockDir string) *Registry {
	if lockDir == "" {
		lockDir = dsbase.GetHomeDir()
	}
	return &Registry{entries: make(map[string]*entry), lockDir: lockDir}
}

// Handle is returned by Lock; Unlock must be called exactly once, always
// via defer in the caller's critical section so the lock is released on
// every exit path including errors.
type Handle struct {
	registry *Registry
	name     string
	unlocked bool
}

func (h *Handle) Unlock() {
	if h == nil || h.unlocked {
		return
	}
	h.unlocked = true
	h.registry.release(h.name)
}

func (r *Registry) lockFilePath(name string) string {
	return fmt.Sprintf("%s/lockregistry-%x.lock", r.lockDir, hashName(name))
}

// hashName avoids constructing filesystem-hostile file names from
// arbitrary path strings (slashes, length limits) for the backing lock
// file go-filemutex opens.
func hashName(name string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= 1099511628211
	}
	return h
}

// Lock acquires the named advisory mutex, blocking until available.
func (r *Registry) Lock(name string) (*Handle, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		fm, err := filemutex.New(r.lockFilePath(name))
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("creating lock for %q: %w", name, err)
		}
		e = &entry{fm: fm}
		r.entries[name] = e
	}
	e.refCount++
	r.mu.Unlock()

	if err := e.fm.Lock(); err != nil {
		r.release(name)
		return nil, fmt.Errorf("locking %q: %w", name, err)
	}
	return &Handle{registry: r, name: name}, nil
}

func (r *Registry) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.fm.Unlock()
	e.refCount--
	if e.refCount <= 0 {
		delete(r.entries, name)
	}
}

// WithLock runs fn while holding the named lock, guaranteeing release on
// every return path including a panic unwinding through fn.
func WithLock(r *Registry, name string, fn func() error) error {
	h, err := r.Lock(name)
	if err != nil {
		return err
	}
	defer h.Unlock()
	return fn()
}

// WithLockRtn is WithLock's value-returning variant.
func WithLockRtn[T any](r *Registry, name string, fn func() (T, error)) (T, error) {
	var zero T
	h, err := r.Lock(name)
	if err != nil {
		return zero, err
	}
	defer h.Unlock()
	return fn()
}

// WithLocks acquires several named locks in sorted order (deduplicated)
// before running fn, and releases them in reverse order. Sorting the
// names fixes a global acquisition order across all callers, which is
// what prevents a rename(A -> B) and a concurrent rename(B -> A) from
// deadlocking each other's parent-lock pair.
func WithLocks(r *Registry, names []string, fn func() error) error {
	sorted := uniqueSorted(names)
	handles := make([]*Handle, 0, len(sorted))
	defer func() {
		for i := len(handles) - 1; i >= 0; i-- {
			handles[i].Unlock()
		}
	}()
	for _, name := range sorted {
		h, err := r.Lock(name)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	return fn()
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
