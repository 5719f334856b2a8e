// Package cache implements the content-addressed filesystem store for raw
// responses. JSON documents land at a deterministic path derived from the
// WorkKey; binary audio is addressed by the SHA-256 of its payload, with a
// per-key reference record linking the two. Writes go to a temp sibling and
// are promoted with an atomic rename, so readers never observe a partial
// entry.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scotusdata/harvester/internal/harvest"
	"github.com/scotusdata/harvester/internal/hash/sha256"
)

// Subdirectories of the cache root.
const (
	dirCases     = "cases"
	dirLists     = "lists"
	dirArguments = "arguments"
	dirAudio     = "audio"
	dirRefs      = "refs"
	dirTmp       = "tmp"
)

// Config captures the cache location.
type Config struct {
	BaseDir string `mapstructure:"base_dir"`
}

// entryMeta is the per-key reference record persisted next to the payload.
type entryMeta struct {
	Key         string    `json:"key"`
	Path        string    `json:"path"` // relative to BaseDir
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	FetchedAt   time.Time `json:"fetched_at"`
	ContentHash string    `json:"content_hash,omitempty"`
	Size        int64     `json:"size"`
}

// Store is the filesystem cache. Writes for distinct keys are independent;
// promotion via rename is the only cross-reader synchronization needed.
type Store struct {
	baseDir string
	clock   harvest.Clock
	logger  *zap.Logger
}

// New creates the cache directory structure and verifies writability.
func New(cfg Config, clock harvest.Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("cache base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, sub := range []string{dirCases, dirLists, dirArguments, dirAudio, dirRefs, dirTmp} {
		if err := os.MkdirAll(filepath.Join(cfg.BaseDir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", sub, err)
		}
	}
	probe := filepath.Join(cfg.BaseDir, dirTmp, ".writable")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("cache directory is not writable: %w", err)
	}
	_ = os.Remove(probe)
	return &Store{baseDir: cfg.BaseDir, clock: clock, logger: logger}, nil
}

// Exists reports whether an entry is visible for the key.
func (s *Store) Exists(_ context.Context, key harvest.WorkKey) bool {
	_, err := os.Stat(s.refPath(key))
	return err == nil
}

// Get returns the cached document for the key, or harvest.ErrCacheMiss.
// Re-read bytes are byte-identical to what Put stored.
func (s *Store) Get(_ context.Context, key harvest.WorkKey) (harvest.RawDocument, error) {
	meta, err := s.readMeta(key)
	if err != nil {
		return harvest.RawDocument{}, err
	}
	body, err := os.ReadFile(filepath.Join(s.baseDir, meta.Path))
	if err != nil {
		return harvest.RawDocument{}, &harvest.CacheError{Op: "read", Key: key, Err: err}
	}
	return harvest.RawDocument{
		Key:         key,
		Body:        body,
		StatusCode:  meta.StatusCode,
		ContentType: meta.ContentType,
		FetchedAt:   meta.FetchedAt,
		ContentHash: meta.ContentHash,
	}, nil
}

// Put stores a JSON document at the key-derived path.
func (s *Store) Put(_ context.Context, doc harvest.RawDocument) error {
	rel := s.docRelPath(doc.Key)
	if err := s.writeAtomic(filepath.Join(s.baseDir, rel), doc.Body); err != nil {
		return &harvest.CacheError{Op: "write", Key: doc.Key, Err: err}
	}
	meta := entryMeta{
		Key:         doc.Key.String(),
		Path:        rel,
		StatusCode:  doc.StatusCode,
		ContentType: doc.ContentType,
		FetchedAt:   doc.FetchedAt,
		ContentHash: sha256.Hash(doc.Body),
		Size:        int64(len(doc.Body)),
	}
	if err := s.writeMeta(doc.Key, meta); err != nil {
		return err
	}
	s.logger.Debug("cached document", zap.String("key", doc.Key.String()), zap.String("path", rel))
	return nil
}

// PutStream writes a binary payload incrementally, content-addressing the
// final blob by its SHA-256. The temp file is promoted only after the source
// is fully consumed; a failed source leaves nothing visible.
func (s *Store) PutStream(_ context.Context, key harvest.WorkKey, contentType string, r io.Reader) (string, error) {
	tmp := filepath.Join(s.baseDir, dirTmp, key.Slug()+"."+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", &harvest.CacheError{Op: "write", Key: key, Err: err}
	}

	tee := sha256.NewTee(f)
	_, copyErr := io.Copy(tee, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		err := copyErr
		if err == nil {
			err = closeErr
		}
		return "", &harvest.CacheError{Op: "write", Key: key, Err: err}
	}

	hash := tee.Sum()
	rel := filepath.Join(dirAudio, hash+extFor(contentType, key.URL))
	if err := os.Rename(tmp, filepath.Join(s.baseDir, rel)); err != nil {
		_ = os.Remove(tmp)
		return "", &harvest.CacheError{Op: "write", Key: key, Err: err}
	}

	meta := entryMeta{
		Key:         key.String(),
		Path:        rel,
		StatusCode:  200,
		ContentType: contentType,
		FetchedAt:   s.clock.Now(),
		ContentHash: hash,
		Size:        tee.Written(),
	}
	if err := s.writeMeta(key, meta); err != nil {
		return "", err
	}
	s.logger.Debug("cached blob",
		zap.String("key", key.String()),
		zap.String("hash", hash),
		zap.Int64("bytes", tee.Written()),
	)
	return hash, nil
}

// BlobPath resolves a cached entry to its absolute payload path, for handing
// a validated source file to the audio codec.
func (s *Store) BlobPath(_ context.Context, key harvest.WorkKey) (string, error) {
	meta, err := s.readMeta(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, meta.Path), nil
}

// Purge removes the entry for the key; the explicit refresh path, since
// cached entries carry no TTL.
func (s *Store) Purge(_ context.Context, key harvest.WorkKey) error {
	meta, err := s.readMeta(key)
	if err != nil {
		if errors.Is(err, harvest.ErrCacheMiss) {
			return nil
		}
		return err
	}
	if err := os.Remove(filepath.Join(s.baseDir, meta.Path)); err != nil && !os.IsNotExist(err) {
		return &harvest.CacheError{Op: "write", Key: key, Err: err}
	}
	if err := os.Remove(s.refPath(key)); err != nil && !os.IsNotExist(err) {
		return &harvest.CacheError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// Stats summarizes cache contents for progress reporting.
type Stats struct {
	Entries int
	Bytes   int64
}

// Stats walks the reference records and totals entries and payload bytes.
func (s *Store) Stats(_ context.Context) (Stats, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, dirRefs))
	if err != nil {
		return Stats{}, fmt.Errorf("read refs dir: %w", err)
	}
	st := Stats{}
	for _, e := range entries {
		raw, err := os.ReadFile(filepath.Join(s.baseDir, dirRefs, e.Name()))
		if err != nil {
			continue
		}
		var meta entryMeta
		if json.Unmarshal(raw, &meta) != nil {
			continue
		}
		st.Entries++
		st.Bytes += meta.Size
	}
	return st, nil
}

func (s *Store) docRelPath(key harvest.WorkKey) string {
	dir := dirCases
	switch key.Kind {
	case harvest.KindCaseList:
		dir = dirLists
	case harvest.KindArgument:
		dir = dirArguments
	}
	return filepath.Join(dir, key.Slug()+".json")
}

func (s *Store) refPath(key harvest.WorkKey) string {
	return filepath.Join(s.baseDir, dirRefs, sha256.HashString(key.String())+".json")
}

func (s *Store) readMeta(key harvest.WorkKey) (entryMeta, error) {
	raw, err := os.ReadFile(s.refPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return entryMeta{}, harvest.ErrCacheMiss
		}
		return entryMeta{}, &harvest.CacheError{Op: "read", Key: key, Err: err}
	}
	var meta entryMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return entryMeta{}, &harvest.CacheError{Op: "corrupt", Key: key, Err: err}
	}
	return meta, nil
}

func (s *Store) writeMeta(key harvest.WorkKey, meta entryMeta) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return &harvest.CacheError{Op: "write", Key: key, Err: err}
	}
	if err := s.writeAtomic(s.refPath(key), raw); err != nil {
		return &harvest.CacheError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func (s *Store) writeAtomic(dst string, data []byte) error {
	tmp := filepath.Join(s.baseDir, dirTmp, filepath.Base(dst)+"."+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("promote temp: %w", err)
	}
	return nil
}

func extFor(contentType, rawURL string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "audio/mpeg", "audio/mp3":
			return ".mp3"
		case "audio/flac":
			return ".flac"
		case "audio/wav", "audio/x-wav":
			return ".wav"
		case "audio/ogg":
			return ".ogg"
		}
	}
	if ext := strings.ToLower(filepath.Ext(strings.SplitN(rawURL, "?", 2)[0])); ext != "" {
		return ext
	}
	return ".bin"
}
