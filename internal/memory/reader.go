// Package memory reads user memory snapshots from durable storage and
// prepares them for analysis.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/synapselabs/synapse/internal/models"
)

// ErrDataNotFound is returned when the referenced snapshot does not exist.
var ErrDataNotFound = errors.New("memory data not found")

// ErrDataCorrupt is returned when the snapshot exists but cannot be decoded.
var ErrDataCorrupt = errors.New("memory data corrupt")

// SnapshotReader resolves an opaque reference to a MemorySnapshot. The
// read may be slow I/O; callers cache the result. Fingerprint identifies
// the (snapshot, model, options) combination without reading the body.
type SnapshotReader interface {
	Read(ctx context.Context, ref string) (*models.MemorySnapshot, error)
	Fingerprint(ref, model string, opts models.AnalysisOptions) (string, error)
}

// FileReader reads snapshots stored as JSON documents under a base
// directory. A ref is a file name (with or without the .json suffix)
// relative to that directory.
type FileReader struct {
	baseDir string
	logger  *slog.Logger
}

// NewFileReader creates a reader rooted at baseDir.
func NewFileReader(baseDir string, logger *slog.Logger) *FileReader {
	return &FileReader{baseDir: baseDir, logger: logger}
}

// resolve maps a ref onto a path inside baseDir, rejecting traversal.
func (r *FileReader) resolve(ref string) (string, error) {
	name := ref
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	path := filepath.Join(r.baseDir, filepath.Clean("/"+name))
	if !strings.HasPrefix(path, filepath.Clean(r.baseDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: ref %q escapes memory dir", ErrDataNotFound, ref)
	}
	return path, nil
}

// Read loads and decodes the snapshot for ref.
func (r *FileReader) Read(_ context.Context, ref string) (*models.MemorySnapshot, error) {
	path, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrDataNotFound, ref)
		}
		return nil, fmt.Errorf("reading snapshot %q: %w", ref, err)
	}

	var snap models.MemorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: decoding %q: %v", ErrDataCorrupt, ref, err)
	}

	if snap.Metadata.TotalInsights == 0 {
		snap.Metadata.TotalInsights = len(snap.Insights)
	}

	r.logger.Debug("read snapshot", "ref", ref, "insights", len(snap.Insights),
		"summaries", len(snap.ConversationSummaries))
	return &snap, nil
}

// Fingerprint hashes the snapshot file's modification time and size
// together with the model identifier and analysis options. Identical
// inputs always produce the same key, so it doubles as the cache and
// single-flight deduplication key.
func (r *FileReader) Fingerprint(ref, model string, opts models.AnalysisOptions) (string, error) {
	path, err := r.resolve(ref)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrDataNotFound, ref)
		}
		return "", fmt.Errorf("stat snapshot %q: %w", ref, err)
	}

	return ComputeFingerprint(ref, info.ModTime().UnixNano(), info.Size(), model, opts), nil
}

// ComputeFingerprint builds the deterministic fingerprint from its parts.
// Priority is deliberately excluded: it affects scheduling, not the
// analysis output, so requests differing only in priority share a key.
// Exposed so the mock reader and tests produce keys the same way.
func ComputeFingerprint(ref string, mtimeNanos, size int64, model string, opts models.AnalysisOptions) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%s|%s|%s",
		ref, mtimeNanos, size, model,
		opts.Depth, strings.Join(opts.FocusAreas, ","))
	return fmt.Sprintf("%x", h.Sum(nil)[:16])
}
