package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/star/driftcast/internal/metrics"
)

// ErrNotArchived is returned by LoadLatest when no file exists for a key.
var ErrNotArchived = errors.New("no archived forecast")

const archiveSuffix = ".json.zst"

// Archive keeps zstd-compressed forecast responses on disk, at most maxFiles
// per query key.
type Archive struct {
	dir      string
	maxFiles int
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewArchive creates an Archive that stores files in dir.
func NewArchive(dir string, maxFiles int) (*Archive, error) {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Archive{
		dir:      dir,
		maxFiles: maxFiles,
		enc:      enc,
		dec:      dec,
	}, nil
}

// Dir returns the archive directory.
func (a *Archive) Dir() string { return a.dir }

// Write saves data under key with timestamp ts and prunes that key's oldest
// files beyond maxFiles.
func (a *Archive) Write(key string, data []byte, ts time.Time) error {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}

	prefix := fileKey(key) + "_"
	path := filepath.Join(a.dir, prefix+strconv.FormatInt(ts.Unix(), 10)+archiveSuffix)
	if err := os.WriteFile(path, a.enc.EncodeAll(data, nil), 0644); err != nil {
		return fmt.Errorf("writing archive file: %w", err)
	}

	return a.prune(prefix)
}

// LoadLatest returns the newest archived response for key and its timestamp.
func (a *Archive) LoadLatest(key string) ([]byte, time.Time, error) {
	files, err := a.listFiles(fileKey(key) + "_")
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, fmt.Errorf("%w for %s", ErrNotArchived, key)
	}

	latest := files[len(files)-1]
	compressed, err := os.ReadFile(filepath.Join(a.dir, latest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading archive file: %w", err)
	}
	data, err := a.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decompressing %s: %w", latest.name, err)
	}
	return data, latest.ts, nil
}

type archiveFile struct {
	name string
	ts   time.Time
}

// listFiles returns prefix's files sorted oldest first.
func (a *Archive) listFiles(prefix string) ([]archiveFile, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing archive dir: %w", err)
	}

	var files []archiveFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		tsStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), archiveSuffix)
		unix, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, archiveFile{name: name, ts: time.Unix(unix, 0)})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ts.Before(files[j].ts)
	})
	return files, nil
}

func (a *Archive) prune(prefix string) error {
	files, err := a.listFiles(prefix)
	if err != nil {
		return err
	}
	if len(files) <= a.maxFiles {
		return nil
	}

	for _, f := range files[:len(files)-a.maxFiles] {
		if err := os.Remove(filepath.Join(a.dir, f.name)); err != nil {
			return fmt.Errorf("pruning archive file %s: %w", f.name, err)
		}
	}
	return nil
}

// ArchiveSource archives every successful upstream response and serves the
// newest archived copy when upstream fails.
type ArchiveSource struct {
	next    RawSource
	archive *Archive
	logger  *slog.Logger
}

func NewArchiveSource(next RawSource, archive *Archive, logger *slog.Logger) *ArchiveSource {
	return &ArchiveSource{next: next, archive: archive, logger: logger}
}

func (s *ArchiveSource) Fetch(ctx context.Context, q Query) ([]byte, error) {
	key := q.Key()
	data, err := s.next.Fetch(ctx, q)
	if err == nil {
		if werr := s.archive.Write(key, data, time.Now()); werr != nil {
			s.logger.Warn("failed to archive forecast", "component", "forecast", "key", key, "error", werr)
		}
		return data, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	stale, ts, aerr := s.archive.LoadLatest(key)
	if aerr != nil {
		metrics.IncCacheMiss("archive")
		return nil, err
	}

	metrics.IncCacheHit("archive")
	s.logger.Warn("upstream fetch failed, serving archived forecast",
		"component", "forecast",
		"key", key,
		"archived_at", ts.UTC().Format(time.RFC3339),
		"error", err,
	)
	return stale, nil
}
