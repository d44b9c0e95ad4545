//go:build linux
// +build linux

// Package cgroup maps the cgroup ids recorded by the kernel back to paths.
package cgroup

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultRoot is the cgroup v2 mount point.
const DefaultRoot = "/sys/fs/cgroup"

// missTTL is how long an id that no scan could find is answered from the
// negative cache before it may trigger another scan.
const missTTL = 30 * time.Second

// Resolver caches the id → path mapping of a cgroup hierarchy. A cgroup id
// is the inode number of its directory; only the low 32 bits are kept since
// that is all the kernel side records.
type Resolver struct {
	root string

	mu     sync.Mutex
	paths  map[uint32]string
	misses map[uint32]time.Time
	scans  int
	now    func() time.Time
}

// NewResolver returns a resolver for the hierarchy mounted at root.
func NewResolver(root string) *Resolver {
	if root == "" {
		root = DefaultRoot
	}
	return &Resolver{root: root, misses: make(map[uint32]time.Time), now: time.Now}
}

// Resolve returns the path of id relative to the mount, "/" for the root
// cgroup. An unknown id triggers one rescan, since cgroups come and go; if the
// rescan misses too, the id is not looked for again until missTTL has passed.
func (r *Resolver) Resolve(id uint32) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.paths[id]; ok {
		return p, true
	}
	now := r.now()
	if at, ok := r.misses[id]; ok && now.Sub(at) < missTTL {
		return "", false
	}

	r.paths = r.scan()
	r.scans++
	for missed, at := range r.misses {
		if now.Sub(at) >= missTTL {
			delete(r.misses, missed)
		}
	}
	if p, ok := r.paths[id]; ok {
		delete(r.misses, id)
		return p, true
	}
	r.misses[id] = now
	return "", false
}

func (r *Resolver) scan() map[uint32]string {
	paths := make(map[uint32]string)
	_ = filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			// Cgroups vanish while we walk; skip what we cannot read.
			return nil
		}
		var st unix.Stat_t
		if err := unix.Stat(path, &st); err != nil {
			return nil
		}
		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return nil
		}
		name := "/"
		if rel != "." {
			name += filepath.ToSlash(rel)
		}
		paths[uint32(st.Ino)] = name
		return nil
	})
	return paths
}
