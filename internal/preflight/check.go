// Package preflight validates the environment before indexing or
// serving queries: disk space, data directory permissions, snapshot
// integrity, and embedding provider reachability.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Status represents the result of a preflight check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON encodes the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// Result holds the result of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r Result) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// EmbedProbe reports whether the embedding provider is reachable.
type EmbedProbe interface {
	Available(ctx context.Context) bool
	ModelName() string
}

// Checker performs preflight validation checks.
type Checker struct {
	dataDir string
	probe   EmbedProbe
}

// New creates a Checker for the given data directory. probe may be
// nil when no remote provider is configured.
func New(dataDir string, probe EmbedProbe) *Checker {
	return &Checker{dataDir: dataDir, probe: probe}
}

// RunAll runs all preflight checks and returns the results.
func (c *Checker) RunAll(ctx context.Context) []Result {
	results := []Result{
		c.CheckDiskSpace(),
		c.CheckWritePermissions(),
		c.CheckSnapshots(),
	}
	if c.probe != nil {
		results = append(results, c.CheckEmbedder(ctx))
	}
	return results
}

// HasCriticalFailures returns true if any required check failed.
func HasCriticalFailures(results []Result) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus collapses results to "failed", "ready_with_warnings",
// or "ready".
func SummaryStatus(results []Result) string {
	summary := "ready"
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || r.Status == StatusFail {
			summary = "ready_with_warnings"
		}
	}
	return summary
}

// CheckWritePermissions verifies the data directory is writable.
func (c *Checker) CheckWritePermissions() Result {
	result := Result{Name: "write_permissions", Required: true}

	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create data directory: %v", err)
		return result
	}

	testFile := filepath.Join(c.dataDir, ".rankfuse-preflight-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckEmbedder verifies the remote embedding provider responds.
// Non-critical: retrieval degrades to lexical-only without it.
func (c *Checker) CheckEmbedder(ctx context.Context) Result {
	result := Result{Name: "embedder", Required: false}

	if c.probe.Available(ctx) {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("model %s reachable", c.probe.ModelName())
		return result
	}

	result.Status = StatusWarn
	result.Message = "provider unreachable; vector search will be degraded"
	return result
}
