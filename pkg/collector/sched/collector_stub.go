//go:build !linux
// +build !linux

package sched

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var errUnsupported = errors.New("scheduler collector requires linux")

// Options configures a Collector.
type Options struct {
	ObjectPath     string
	RingBufferSize uint32
	TrackExits     bool
}

// Collector is a placeholder on non-Linux platforms.
type Collector struct{}

// NewCollector returns an error because eBPF is only supported on Linux.
func NewCollector(opts Options, logger *zap.Logger) (*Collector, error) {
	return nil, errUnsupported
}

// Run always fails on unsupported platforms.
func (c *Collector) Run(ctx context.Context, sink Sink) error {
	return errUnsupported
}

// Close is a no-op stub.
func (c *Collector) Close() error {
	return nil
}
