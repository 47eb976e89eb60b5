// Package persist stores annotation records as one JSON file per video,
// keyed by record name.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/heimdex/heimdex-clipper/internal/annotation"
)

const recordExt = ".json"

// Adapter loads and saves annotation records.
type Adapter interface {
	LoadAll(ctx context.Context) (*LoadResult, error)
	Load(ctx context.Context, name string) (*annotation.Record, error)
	Save(ctx context.Context, rec *annotation.Record) error
}

// LoadResult carries the records that parsed and the files that did not.
type LoadResult struct {
	Records []*annotation.Record
	Failed  []*annotation.RecordParseError
}

// ByName indexes the loaded records.
func (r *LoadResult) ByName() map[string]*annotation.Record {
	m := make(map[string]*annotation.Record, len(r.Records))
	for _, rec := range r.Records {
		m[rec.Name] = rec
	}
	return m
}

// FileStore is the directory-backed Adapter.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	return &FileStore{dir: dir, logger: logger}
}

func (s *FileStore) Dir() string { return s.dir }

// LoadAll parses every record file in the directory. A malformed file is
// reported in Failed and does not stop the batch. When two files claim the
// same name, the later one in lexical order wins.
func (s *FileStore) LoadAll(ctx context.Context) (*LoadResult, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.EqualFold(filepath.Ext(e.Name()), recordExt) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	result := &LoadResult{}
	index := make(map[string]int, len(files))
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(s.dir, name)
		rec, err := readRecord(path)
		if err != nil {
			var perr *annotation.RecordParseError
			if !errors.As(err, &perr) {
				perr = &annotation.RecordParseError{File: path, Err: err}
			}
			result.Failed = append(result.Failed, perr)
			if s.logger != nil {
				s.logger.Warn("skipping annotation record", "file", name, "error", perr.Err)
			}
			continue
		}

		if i, dup := index[rec.Name]; dup {
			if s.logger != nil {
				s.logger.Warn("duplicate record name, later file wins", "name", rec.Name, "file", name)
			}
			result.Records[i] = rec
			continue
		}
		index[rec.Name] = len(result.Records)
		result.Records = append(result.Records, rec)
	}

	if s.logger != nil {
		s.logger.Info("annotation records loaded", "dir", s.dir, "records", len(result.Records), "failed", len(result.Failed))
	}
	return result, nil
}

// Load reads the record saved under name. It returns nil, nil when absent.
func (s *FileStore) Load(ctx context.Context, name string) (*annotation.Record, error) {
	path := filepath.Join(s.dir, fileName(name))
	rec, err := readRecord(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return rec, err
}

// Save replaces the whole file for rec.Name.
func (s *FileStore) Save(ctx context.Context, rec *annotation.Record) error {
	if rec.Name == "" {
		return errors.New("record has no name")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %q: %w", rec.Name, err)
	}
	if err := WriteFileAtomic(s.dir, fileName(rec.Name), data); err != nil {
		return fmt.Errorf("save record %q: %w", rec.Name, err)
	}

	if s.logger != nil {
		s.logger.Debug("annotation record saved", "name", rec.Name, "keys", rec.Len())
	}
	return nil
}

func readRecord(path string) (*annotation.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return annotation.Decode(path, data)
}

// fileName maps a record name to its file; separators cannot escape the dir.
func fileName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_")
	return r.Replace(name) + recordExt
}
