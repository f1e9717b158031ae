// Package debug implements optional per-execution breakpoints at
// handler-export granularity: since this execution substrate has no
// step DSL to pause inside, it pauses the host's cleanup-stack drain
// after a handler returns so the result and any registered finalizers
// can be inspected before they run.
package debug

import "slices"

// Config holds which handler exports should pause execution.
type Config struct {
	Breakpoints []string
	Enabled     bool
}

// New builds a Config; Enabled is derived from a non-empty breakpoint
// list.
func New(breakpoints []string) *Config {
	return &Config{Breakpoints: breakpoints, Enabled: len(breakpoints) > 0}
}

// ShouldPauseAt reports whether handlerExport is a registered
// breakpoint.
func (c *Config) ShouldPauseAt(handlerExport string) bool {
	if c == nil || !c.Enabled {
		return false
	}
	return slices.Contains(c.Breakpoints, handlerExport)
}

// AddBreakpoint registers handlerExport if not already present.
func (c *Config) AddBreakpoint(handlerExport string) {
	if !slices.Contains(c.Breakpoints, handlerExport) {
		c.Breakpoints = append(c.Breakpoints, handlerExport)
		c.Enabled = true
	}
}

// RemoveBreakpoint unregisters handlerExport.
func (c *Config) RemoveBreakpoint(handlerExport string) {
	c.Breakpoints = slices.DeleteFunc(c.Breakpoints, func(s string) bool { return s == handlerExport })
	c.Enabled = len(c.Breakpoints) > 0
}
