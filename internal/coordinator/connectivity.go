package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// Prober checks whether a URL answers.
type Prober interface {
	ProbeURL(ctx context.Context, rawURL string) error
}

// Connectivity periodically probes a URL and reports online/offline flips.
type Connectivity struct {
	prober   Prober
	target   string
	interval time.Duration
	timeout  time.Duration
	onChange func(online bool)
	logger   *slog.Logger

	mu     sync.Mutex
	known  bool
	online bool
}

// NewConnectivity creates a probe. onChange receives the first result and
// every subsequent flip.
func NewConnectivity(prober Prober, target string, interval, timeout time.Duration, onChange func(bool), logger *slog.Logger) *Connectivity {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Connectivity{
		prober:   prober,
		target:   target,
		interval: interval,
		timeout:  timeout,
		onChange: onChange,
		logger:   logger.With("component", "connectivity"),
	}
}

// Check probes once and reports the result, notifying on a flip.
func (c *Connectivity) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.prober.ProbeURL(probeCtx, c.target)
	online := err == nil
	if err != nil {
		c.logger.Debug("connectivity probe failed", "error", err, "url", c.target)
	}

	c.mu.Lock()
	changed := !c.known || c.online != online
	c.known = true
	c.online = online
	c.mu.Unlock()

	if changed {
		c.logger.Info("connectivity changed", "online", online)
		if c.onChange != nil {
			c.onChange(online)
		}
	}
	return online
}

// Run probes immediately and then on every interval until ctx is done.
func (c *Connectivity) Run(ctx context.Context) {
	c.Check(ctx)
	tick := time.NewTicker(c.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.Check(ctx)
		}
	}
}
