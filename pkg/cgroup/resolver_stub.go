//go:build !linux
// +build !linux

package cgroup

// DefaultRoot is the cgroup v2 mount point.
const DefaultRoot = "/sys/fs/cgroup"

// Resolver is a placeholder on non-Linux platforms.
type Resolver struct{}

// NewResolver returns a resolver that never resolves anything.
func NewResolver(root string) *Resolver {
	return &Resolver{}
}

// Resolve always misses on unsupported platforms.
func (r *Resolver) Resolve(id uint32) (string, bool) {
	return "", false
}
