// Package rawstore persists harvest output as JSON files in one directory.
package rawstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TimestampLayout formats the run timestamp embedded in file names.
const TimestampLayout = "20060102_150405.000"

// File name prefixes.
const (
	SummaryPrefix = "movie_list_summary_"
	BatchPrefix   = "detailed_movies_batch_"
	DatasetPrefix = "raw_dataset_"
	FailedPrefix  = "failed_ids_"
)

// ErrNotFound is returned by Latest when no file matches.
var ErrNotFound = errors.New("rawstore: no matching file")

// Store writes files under dir.
type Store struct {
	dir string
}

// New creates dir if needed. A creation failure is returned as is and is
// fatal to a run.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create raw dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Timestamp renders t for file names.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Stamp returns the file name timestamp for a run starting at t. It moves
// forward a millisecond at a time until no dataset in the directory uses it,
// so a run never overwrites the files of an earlier one.
func (s *Store) Stamp(t time.Time) string {
	for {
		ts := Timestamp(t)
		if _, err := os.Stat(filepath.Join(s.dir, DatasetName(ts))); err != nil {
			return ts
		}
		t = t.Add(time.Millisecond)
	}
}

// SummaryName is the discovery summary file name.
func SummaryName(ts string) string {
	return SummaryPrefix + ts + ".json"
}

// BatchName is the name of batch n (starting at 1).
func BatchName(n int, ts string) string {
	return fmt.Sprintf("%s%d_%s.json", BatchPrefix, n, ts)
}

// DatasetName is the final dataset file name.
func DatasetName(ts string) string {
	return DatasetPrefix + ts + ".json"
}

// FailedName is the failure file name.
func FailedName(ts string) string {
	return FailedPrefix + ts + ".json"
}

// IsFailedName reports whether name is a bare failure file name as produced
// by FailedName.
func IsFailedName(name string) bool {
	if filepath.Base(name) != name || !strings.HasPrefix(name, FailedPrefix) {
		return false
	}
	_, ok := ParseTimestamp(strings.TrimPrefix(name, FailedPrefix))
	return ok
}

// SaveJSON writes v as indented JSON to name and returns the full path. The
// file is replaced atomically.
func (s *Store) SaveJSON(name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return path, nil
}

// LoadJSON decodes the file at path into v.
func LoadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Latest returns the path of the newest file named prefix<timestamp>.json.
// Names sort chronologically because the timestamp layout is fixed width.
func (s *Store) Latest(prefix string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, prefix+"*.json"))
	if err != nil {
		return "", fmt.Errorf("glob %s: %w", prefix, err)
	}

	var names []string
	for _, m := range matches {
		if _, ok := ParseTimestamp(strings.TrimPrefix(filepath.Base(m), prefix)); ok {
			names = append(names, m)
		}
	}
	if len(names) == 0 {
		return "", ErrNotFound
	}
	sort.Strings(names)
	return names[len(names)-1], nil
}

// ParseTimestamp reads the timestamp of a file name suffix such as
// "20260102_030405.000.json".
func ParseTimestamp(suffix string) (time.Time, bool) {
	t, err := time.Parse(TimestampLayout, strings.TrimSuffix(suffix, ".json"))
	return t, err == nil
}
