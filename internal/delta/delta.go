// Package delta implements the transactional commit log behind the
// table storage layer: versioned manifests of parquet data files, time
// travel by version or timestamp, commit history, and vacuum of
// unreferenced files. Tables carry their log with them, one JSON commit
// per version under <table>/_log/, so a table is self-describing
// whether it lives on local disk or in an object store.
package delta

import (
	"errors"
	"time"
)

var (
	// ErrNoSnapshot means the location holds no committed version.
	ErrNoSnapshot = errors.New("delta: no committed snapshot")
	// ErrInvalidSnapshot means the version/timestamp selector is
	// conflicting or does not resolve to a committed version.
	ErrInvalidSnapshot = errors.New("delta: invalid snapshot selector")
	// ErrCommitConflict means another writer claimed the version.
	ErrCommitConflict = errors.New("delta: commit conflict")
)

const (
	OperationWrite    = "WRITE"
	OperationOptimize = "OPTIMIZE"

	ModeOverwrite = "overwrite"
	ModeAppend    = "append"
)

// Selector picks a snapshot. At most one field may be set; zero value
// selects the latest committed version.
type Selector struct {
	Version   *int64
	Timestamp *time.Time
}

func (s Selector) validate() error {
	if s.Version != nil && s.Timestamp != nil {
		return ErrInvalidSnapshot
	}
	if s.Version != nil && *s.Version < 0 {
		return ErrInvalidSnapshot
	}
	return nil
}

// FileEntry is one data file in a snapshot manifest. Paths are relative
// to the table root.
type FileEntry struct {
	Path            string            `json:"path"`
	SizeBytes       int64             `json:"size_bytes"`
	RecordCount     int64             `json:"record_count"`
	PartitionValues map[string]string `json:"partition_values,omitempty"`
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema is the serializable structural form of a table schema.
type Schema struct {
	Columns []Column `json:"columns"`
}

// CommitInfo is one entry of a table's history.
type CommitInfo struct {
	Version      int64     `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
	Operation    string    `json:"operation"`
	Mode         string    `json:"mode,omitempty"`
	AddedFiles   int       `json:"added_files"`
	RemovedFiles int       `json:"removed_files"`
}

// Metadata describes the table as of a snapshot.
type Metadata struct {
	PartitionColumns []string  `json:"partition_columns"`
	CreatedAt        time.Time `json:"created_at"`
	NumFiles         int       `json:"num_files"`
	SizeBytes        int64     `json:"size_bytes"`
}

// CommitInput describes a new snapshot to append to the log.
type CommitInput struct {
	Operation        string
	Mode             string
	AddFiles         []FileEntry
	RemoveFiles      []string
	Schema           *Schema
	PartitionColumns []string
	Timestamp        time.Time
}

// commitRecord is the on-disk form of one log entry.
type commitRecord struct {
	Version          int64       `json:"version"`
	TimestampUnixMs  int64       `json:"timestamp_unix_ms"`
	Operation        string      `json:"operation"`
	Mode             string      `json:"mode,omitempty"`
	Add              []FileEntry `json:"add,omitempty"`
	Remove           []string    `json:"remove,omitempty"`
	Schema           *Schema     `json:"schema,omitempty"`
	PartitionColumns []string    `json:"partition_columns,omitempty"`
}

func (r commitRecord) time() time.Time {
	return time.UnixMilli(r.TimestampUnixMs).UTC()
}
