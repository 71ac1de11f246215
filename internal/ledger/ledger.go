// Package ledger records which stages have completed for a subject. A
// stage is complete when RecordComplete wrote its marker and the designated
// artifacts still exist with the sizes the marker recorded. Artifacts
// without a marker belong to a stage that failed or was interrupted and are
// never reused.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/failure"
)

// MarkerName is the file written into a stage directory by RecordComplete.
const MarkerName = ".complete.json"

// ExternalDataPolicy decides how entries backed by data produced outside
// this system (for example a pre-existing FreeSurfer subjects directory)
// are judged.
type ExternalDataPolicy int

const (
	// Trust reports external entries as complete without inspecting them.
	Trust ExternalDataPolicy = iota
	// Verify applies the same artifact checks as for internal entries.
	Verify
)

// ParsePolicy maps "trust" and "verify" to a policy.
func ParsePolicy(s string) (ExternalDataPolicy, error) {
	switch s {
	case "", "trust":
		return Trust, nil
	case "verify":
		return Verify, nil
	default:
		return Trust, fmt.Errorf("unknown external data policy %q", s)
	}
}

// Entry identifies one stage of one subject and its designated completion
// artifacts.
type Entry struct {
	Subject string
	// Stage is the canonical stage address, e.g. "anatomical.segmentation".
	Stage string
	// Dir is the stage's output directory; the marker lives here.
	Dir       string
	Artifacts []string
	// External marks artifacts that were not produced by this system.
	External bool
}

// Ledger answers and records stage completion.
type Ledger interface {
	// IsComplete reports whether e's artifacts are present and intact. It
	// never fails: inconsistencies are logged as warnings and reported as
	// incomplete.
	IsComplete(ctx context.Context, e Entry) bool
	// RecordComplete is called once every node of the stage has succeeded.
	RecordComplete(ctx context.Context, e Entry) error
	// Invalidate forgets a previous completion of e before the stage is
	// computed again.
	Invalidate(ctx context.Context, e Entry) error
}

// FS is the filesystem-backed Ledger.
type FS struct {
	policy ExternalDataPolicy
	runID  string
	now    func() time.Time
}

// New returns a filesystem ledger. runID is stored in markers to trace
// which run produced an artifact set.
func New(policy ExternalDataPolicy, runID string) *FS {
	return &FS{policy: policy, runID: runID, now: time.Now}
}

type marker struct {
	RunID      string           `json:"run_id"`
	Subject    string           `json:"subject"`
	Stage      string           `json:"stage"`
	RecordedAt time.Time        `json:"recorded_at"`
	Artifacts  map[string]int64 `json:"artifacts"`
}

// IsComplete implements Ledger.
func (l *FS) IsComplete(ctx context.Context, e Entry) bool {
	logger := ctxlog.FromContext(ctx).With("subject", e.Subject, "stage", e.Stage)

	if len(e.Artifacts) == 0 {
		return false
	}
	if e.External && l.policy == Trust {
		logger.Debug("Trusting external data without verification.")
		return true
	}

	sizes := make(map[string]int64, len(e.Artifacts))
	for _, a := range e.Artifacts {
		info, err := os.Stat(a)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("Completion artifact missing.", "artifact", a)
			return false
		}
		if err != nil {
			l.warn(ctx, e, fmt.Errorf("cannot inspect artifact %s: %w", a, err))
			return false
		}
		if info.IsDir() {
			continue
		}
		if info.Size() == 0 {
			l.warn(ctx, e, fmt.Errorf("artifact %s is empty", a))
			return false
		}
		sizes[a] = info.Size()
	}

	if e.External {
		return true
	}

	m, err := readMarker(e.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("No completion marker, stage did not finish.", "dir", e.Dir)
		return false
	}
	if err != nil {
		l.warn(ctx, e, err)
		return false
	}
	for a, size := range sizes {
		recorded, ok := m.Artifacts[a]
		if !ok {
			l.warn(ctx, e, fmt.Errorf("artifact %s is not in the marker of run %s", a, m.RunID))
			return false
		}
		if recorded != size {
			l.warn(ctx, e, fmt.Errorf("artifact %s changed size since run %s (%d -> %d bytes)", a, m.RunID, recorded, size))
			return false
		}
	}
	return true
}

// RecordComplete implements Ledger. The marker is written to a temporary
// file and renamed so that a crash never leaves a partial marker.
func (l *FS) RecordComplete(ctx context.Context, e Entry) error {
	if e.External || len(e.Artifacts) == 0 {
		return nil
	}

	m := marker{
		RunID:      l.runID,
		Subject:    e.Subject,
		Stage:      e.Stage,
		RecordedAt: l.now().UTC(),
		Artifacts:  make(map[string]int64, len(e.Artifacts)),
	}
	for _, a := range e.Artifacts {
		info, err := os.Stat(a)
		if err != nil {
			return fmt.Errorf("recording %s for %s: %w", e.Stage, e.Subject, err)
		}
		m.Artifacts[a] = info.Size()
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(e.Dir, MarkerName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(e.Dir, MarkerName)); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("Stage recorded complete.", "subject", e.Subject, "stage", e.Stage, "artifacts", len(e.Artifacts))
	return nil
}

// Invalidate implements Ledger. A missing marker is not an error.
func (l *FS) Invalidate(ctx context.Context, e Entry) error {
	if e.External {
		return nil
	}
	err := os.Remove(filepath.Join(e.Dir, MarkerName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalidating %s for %s: %w", e.Stage, e.Subject, err)
	}
	ctxlog.FromContext(ctx).Debug("Stage completion invalidated.", "subject", e.Subject, "stage", e.Stage)
	return nil
}

func (l *FS) warn(ctx context.Context, e Entry, err error) {
	ctxlog.FromContext(ctx).Warn("Ledger inconsistency, stage will be recomputed.",
		"subject", e.Subject, "error", failure.Resumability(e.Stage, err))
}

func readMarker(dir string) (*marker, error) {
	data, err := os.ReadFile(filepath.Join(dir, MarkerName))
	if err != nil {
		return nil, err
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt ledger marker in %s: %w", dir, err)
	}
	return &m, nil
}
