package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	IndexFileName = "index.json"
	SegmentDir    = "segments"

	DefaultCacheSize = 64
)

// ErrIndexNotFound is returned when no index file exists at the given path.
var ErrIndexNotFound = errors.New("index file not found")

// MissingBodyError reports a segment whose body file is absent.
type MissingBodyError struct {
	ID   int
	Path string
}

func (e *MissingBodyError) Error() string {
	return fmt.Sprintf("segment %d body missing: %s", e.ID+1, e.Path)
}

// BodyFileName is the file name of a segment body.
func BodyFileName(id int) string {
	return fmt.Sprintf("segment_%03d.txt", id+1)
}

// Save writes the index and one body file per segment under dir. bodies is
// indexed by segment id.
func Save(dir string, idx *ChunkIndex, bodies []string) error {
	if len(bodies) != len(idx.Segments) {
		return fmt.Errorf("save index: %d bodies for %d segments", len(bodies), len(idx.Segments))
	}
	segDir := filepath.Join(dir, SegmentDir)
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return fmt.Errorf("create segment dir: %w", err)
	}
	for _, seg := range idx.Segments {
		path := filepath.Join(segDir, BodyFileName(seg.ID))
		if err := os.WriteFile(path, []byte(bodies[seg.ID]), 0o644); err != nil {
			return fmt.Errorf("write segment %d: %w", seg.Number, err)
		}
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, IndexFileName), data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// LoadIndex reads and validates an index file.
func LoadIndex(path string) (*ChunkIndex, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var idx ChunkIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse index %s: %w", path, err)
	}
	seen := make(map[int]bool, len(idx.Segments))
	for _, s := range idx.Segments {
		if s.ID < 0 {
			return nil, fmt.Errorf("parse index %s: negative segment id %d", path, s.ID)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("parse index %s: duplicate segment id %d", path, s.ID)
		}
		seen[s.ID] = true
	}
	if idx.TotalSegments == 0 {
		idx.TotalSegments = len(idx.Segments)
	}
	return &idx, nil
}

// Store lazily loads segment bodies from disk, keeping a bounded number in
// memory.
type Store struct {
	dir   string
	cache *lru.Cache[int, string]
}

// NewStore opens the segment directory under chunksDir.
func NewStore(chunksDir string, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[int, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create body cache: %w", err)
	}
	return &Store{dir: filepath.Join(chunksDir, SegmentDir), cache: cache}, nil
}

// Path returns the body file path for a segment id.
func (s *Store) Path(id int) string {
	return filepath.Join(s.dir, BodyFileName(id))
}

// Body returns a segment's text. A missing file yields *MissingBodyError.
func (s *Store) Body(id int) (string, error) {
	if body, ok := s.cache.Get(id); ok {
		return body, nil
	}
	path := s.Path(id)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &MissingBodyError{ID: id, Path: path}
	}
	if err != nil {
		return "", fmt.Errorf("read segment %d: %w", id+1, err)
	}
	body := string(data)
	s.cache.Add(id, body)
	return body, nil
}

// Cached reports how many bodies are held in memory.
func (s *Store) Cached() int {
	return s.cache.Len()
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9-]`)
	slugDashes  = regexp.MustCompile(`-+`)
)

// Slugify converts a document name to a directory-safe slug.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugInvalid.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = strings.TrimRight(s[:50], "-")
	}
	if s == "" {
		s = "document"
	}
	return s
}
