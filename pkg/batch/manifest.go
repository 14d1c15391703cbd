package batch

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status is the terminal outcome of one batch entry.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Entry records the outcome of processing one image source.
type Entry struct {
	ID          string   `json:"id"`
	Index       int      `json:"index"`
	SourceURL   string   `json:"source_url"`
	Status      Status   `json:"status"`
	OutputPaths []string `json:"output_paths,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Manifest is the run-scoped record of per-source outcomes, keyed by the
// caller-supplied run identifier.
type Manifest struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Entries  []Entry   `json:"entries"`
}

// Successes counts entries with StatusOK.
func (m *Manifest) Successes() int {
	n := 0
	for _, e := range m.Entries {
		if e.Status == StatusOK {
			n++
		}
	}
	return n
}

// Failures counts entries with StatusFailed.
func (m *Manifest) Failures() int {
	n := 0
	for _, e := range m.Entries {
		if e.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Aggregator maintains the run manifest. Appends are serialized so
// parallel workers can report outcomes safely; entries are never mutated
// after being appended.
type Aggregator struct {
	mu        sync.Mutex
	manifest  Manifest
	finalized bool
}

// NewAggregator starts a manifest for the given run identifier.
func NewAggregator(runID string) *Aggregator {
	return &Aggregator{
		manifest: Manifest{
			RunID:   runID,
			Started: time.Now().UTC(),
			Entries: []Entry{},
		},
	}
}

// Append records one completed entry. Entries carry a generated id when
// none is set. Appending to a finalized manifest is an error.
func (a *Aggregator) Append(e Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return fmt.Errorf("manifest for run %s is finalized", a.manifest.RunID)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	a.manifest.Entries = append(a.manifest.Entries, e)
	return nil
}

// Finalize stamps the finish time, restores source order, and returns the
// manifest. No further appends are accepted.
func (a *Aggregator) Finalize() *Manifest {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.finalized {
		a.finalized = true
		a.manifest.Finished = time.Now().UTC()
		sort.SliceStable(a.manifest.Entries, func(i, j int) bool {
			return a.manifest.Entries[i].Index < a.manifest.Entries[j].Index
		})
	}
	m := a.manifest
	return &m
}

// Successes counts entries with StatusOK.
func (a *Aggregator) Successes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manifest.Successes()
}

// Failures counts entries with StatusFailed.
func (a *Aggregator) Failures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manifest.Failures()
}

// WriteFile persists the manifest as indented JSON.
func (a *Aggregator) WriteFile(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, err := json.MarshalIndent(a.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
