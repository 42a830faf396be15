package delta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/minilake/minilake/internal/objstore"
)

const logDir = "_log"

// Table is an immutable view of one snapshot plus the full log it was
// selected from.
type Table struct {
	records []commitRecord // full log, ascending by version
	version int64          // selected snapshot
}

// Open loads the log and selects the latest snapshot.
func Open(ctx context.Context, store objstore.Store) (*Table, error) {
	return OpenAt(ctx, store, Selector{})
}

// OpenAt loads the log and selects the snapshot the selector names.
func OpenAt(ctx context.Context, store objstore.Store, sel Selector) (*Table, error) {
	if err := sel.validate(); err != nil {
		return nil, err
	}

	records, err := readLog(ctx, store)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoSnapshot
	}

	latest := records[len(records)-1].Version
	selected := latest
	switch {
	case sel.Version != nil:
		if *sel.Version > latest {
			return nil, fmt.Errorf("%w: version %d does not exist (latest is %d)", ErrInvalidSnapshot, *sel.Version, latest)
		}
		selected = *sel.Version
	case sel.Timestamp != nil:
		found := false
		for _, record := range records {
			if !record.time().After(*sel.Timestamp) {
				selected = record.Version
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: no commit at or before %s", ErrInvalidSnapshot, sel.Timestamp.UTC().Format(time.RFC3339))
		}
	}

	return &Table{records: records, version: selected}, nil
}

// Version returns the selected snapshot version.
func (t *Table) Version() int64 {
	return t.version
}

// Files returns the manifest of the selected snapshot in add order.
func (t *Table) Files() []string {
	manifest, _ := replay(t.records, t.version)
	files := make([]string, 0, len(manifest))
	for _, entry := range manifest {
		files = append(files, entry.Path)
	}
	return files
}

// FileEntries is Files with sizes and record counts.
func (t *Table) FileEntries() []FileEntry {
	manifest, _ := replay(t.records, t.version)
	return manifest
}

// Schema returns the schema as of the selected snapshot.
func (t *Table) Schema() Schema {
	var schema Schema
	for _, record := range t.records {
		if record.Version > t.version {
			break
		}
		if record.Schema != nil {
			schema = *record.Schema
		}
	}
	return schema
}

// Metadata describes the selected snapshot.
func (t *Table) Metadata() Metadata {
	manifest, _ := replay(t.records, t.version)
	meta := Metadata{
		CreatedAt:        t.records[0].time(),
		PartitionColumns: []string{},
		NumFiles:         len(manifest),
	}
	for _, entry := range manifest {
		meta.SizeBytes += entry.SizeBytes
	}
	for _, record := range t.records {
		if record.Version > t.version {
			break
		}
		if len(record.PartitionColumns) > 0 {
			meta.PartitionColumns = record.PartitionColumns
		}
	}
	return meta
}

// History lists commits up to the selected snapshot, newest first.
func (t *Table) History() []CommitInfo {
	history := make([]CommitInfo, 0, len(t.records))
	for _, record := range t.records {
		if record.Version > t.version {
			break
		}
		history = append(history, CommitInfo{
			Version:      record.Version,
			Timestamp:    record.time(),
			Operation:    record.Operation,
			Mode:         record.Mode,
			AddedFiles:   len(record.Add),
			RemovedFiles: removedCount(record),
		})
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Version > history[j].Version })
	return history
}

// Commit appends a new version to the log. The version object is
// written create-exclusive, so two racing committers cannot both win
// the same version number.
func Commit(ctx context.Context, store objstore.Store, in CommitInput) (int64, error) {
	if in.Operation == "" {
		return 0, fmt.Errorf("commit operation is required")
	}

	records, err := readLog(ctx, store)
	if err != nil {
		return 0, err
	}
	next := int64(0)
	if len(records) > 0 {
		next = records[len(records)-1].Version + 1
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	record := commitRecord{
		Version:          next,
		TimestampUnixMs:  ts.UTC().UnixMilli(),
		Operation:        in.Operation,
		Mode:             in.Mode,
		Add:              in.AddFiles,
		Remove:           in.RemoveFiles,
		Schema:           in.Schema,
		PartitionColumns: in.PartitionColumns,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("encode commit %d: %w", next, err)
	}

	key := versionKey(next)
	if _, err := store.PutIfAbsent(ctx, key, bytes.NewReader(encoded), int64(len(encoded))); err != nil {
		if errors.Is(err, objstore.ErrObjectExists) {
			return 0, fmt.Errorf("%w: version %d was committed concurrently", ErrCommitConflict, next)
		}
		return 0, fmt.Errorf("write commit %d: %w", next, err)
	}
	return next, nil
}

// Vacuum deletes data files that are tombstoned in every snapshot and
// whose removing commit is older than the retention window. Retention
// below 168 hours is raised to 168: a concurrent reader mid-time-travel
// may still hold references to recently removed files.
func Vacuum(ctx context.Context, store objstore.Store, retentionHours int, now time.Time) (int, error) {
	if retentionHours < 168 {
		retentionHours = 168
	}
	cutoff := now.UTC().Add(-time.Duration(retentionHours) * time.Hour)

	records, err := readLog(ctx, store)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, ErrNoSnapshot
	}

	latest := records[len(records)-1].Version
	manifest, tombstones := replay(records, latest)
	live := make(map[string]struct{}, len(manifest))
	for _, entry := range manifest {
		live[entry.Path] = struct{}{}
	}

	removed := 0
	for path, removedAt := range tombstones {
		if _, ok := live[path]; ok {
			continue
		}
		if !removedAt.Before(cutoff) {
			continue
		}
		if err := store.Delete(ctx, path); err != nil {
			return removed, fmt.Errorf("vacuum delete %q: %w", path, err)
		}
		removed++
	}
	return removed, nil
}

// replay folds the log up to version into the live manifest plus a map
// of tombstoned paths to the time of the commit that removed them.
func replay(records []commitRecord, version int64) ([]FileEntry, map[string]time.Time) {
	manifest := make([]FileEntry, 0)
	tombstones := make(map[string]time.Time)

	for _, record := range records {
		if record.Version > version {
			break
		}
		if record.Operation == OperationWrite && record.Mode == ModeOverwrite {
			for _, entry := range manifest {
				tombstones[entry.Path] = record.time()
			}
			manifest = manifest[:0]
		}
		if len(record.Remove) > 0 {
			removeSet := make(map[string]struct{}, len(record.Remove))
			for _, path := range record.Remove {
				removeSet[path] = struct{}{}
				tombstones[path] = record.time()
			}
			kept := manifest[:0]
			for _, entry := range manifest {
				if _, drop := removeSet[entry.Path]; !drop {
					kept = append(kept, entry)
				}
			}
			manifest = kept
		}
		for _, entry := range record.Add {
			manifest = append(manifest, entry)
			delete(tombstones, entry.Path)
		}
	}
	return manifest, tombstones
}

func removedCount(record commitRecord) int {
	return len(record.Remove)
}

func readLog(ctx context.Context, store objstore.Store) ([]commitRecord, error) {
	objects, err := store.List(ctx, logDir)
	if err != nil {
		return nil, fmt.Errorf("list commit log: %w", err)
	}

	records := make([]commitRecord, 0, len(objects))
	for _, object := range objects {
		version, ok := parseVersionKey(object.Key)
		if !ok {
			continue
		}
		record, err := readCommit(ctx, store, object.Key)
		if err != nil {
			return nil, err
		}
		if record.Version != version {
			return nil, fmt.Errorf("commit log corrupt: %q declares version %d", object.Key, record.Version)
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Version < records[j].Version })

	for i, record := range records {
		if record.Version != int64(i) {
			return nil, fmt.Errorf("commit log corrupt: missing version %d", i)
		}
	}
	return records, nil
}

func readCommit(ctx context.Context, store objstore.Store, key string) (commitRecord, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return commitRecord{}, fmt.Errorf("read commit %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return commitRecord{}, fmt.Errorf("read commit %q: %w", key, err)
	}
	var record commitRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return commitRecord{}, fmt.Errorf("decode commit %q: %w", key, err)
	}
	return record, nil
}

func versionKey(version int64) string {
	return fmt.Sprintf("%s/%020d.json", logDir, version)
}

func parseVersionKey(key string) (int64, bool) {
	name := strings.TrimPrefix(key, logDir+"/")
	if name == key || !strings.HasSuffix(name, ".json") || strings.Contains(name, "/") {
		return 0, false
	}
	version, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
	if err != nil {
		return 0, false
	}
	return version, true
}
