package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minilake/minilake/internal/delta"
	"github.com/minilake/minilake/internal/engine"
	"github.com/minilake/minilake/internal/objstore"
	"github.com/minilake/minilake/internal/observability"
)

// Store implements the table operations shared by every backend:
// create from a session relation, read with time travel, info, vacuum
// and optimize. Path resolution and manifest access are delegated to
// the backend; bulk data movement goes through the engine session.
type Store struct {
	backend *Backend
	session *engine.Session
	logger  *slog.Logger
}

// Backend exposes the active backend, mostly for callers that need
// Resolve or LoadFiles directly.
func (s *Store) Backend() *Backend {
	return s.backend
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type CreateOptions struct {
	PartitionBy []string
	// Schema, when set, casts the source relation to these columns
	// and types before the write.
	Schema []Column
	// Mode is "overwrite" (default) or "append".
	Mode string
}

// TableInfo is the read-only reflection result for one table.
type TableInfo struct {
	Path     string             `json:"path"`
	Version  int64              `json:"version"`
	Metadata delta.Metadata     `json:"metadata"`
	Files    []string           `json:"files"`
	History  []delta.CommitInfo `json:"history"`
	Schema   delta.Schema       `json:"schema"`
}

// CreateTable materializes a session relation as a new snapshot at the
// logical path and returns the committed version. On any failure no
// new version becomes visible and nothing is registered in the
// session.
func (s *Store) CreateTable(ctx context.Context, sourceRelation, logical string, opts CreateOptions) (int64, error) {
	const op = "create_table"
	start := time.Now()
	version, err := s.createTable(ctx, sourceRelation, logical, opts)
	observability.ObserveTableOperation(op, err == nil, time.Since(start))
	return version, opErr(op, logical, err)
}

func (s *Store) createTable(ctx context.Context, sourceRelation, logical string, opts CreateOptions) (int64, error) {
	mode := opts.Mode
	if mode == "" {
		mode = delta.ModeOverwrite
	}
	if mode != delta.ModeOverwrite && mode != delta.ModeAppend {
		return 0, fmt.Errorf("invalid mode %q", opts.Mode)
	}
	if strings.TrimSpace(sourceRelation) == "" {
		return 0, fmt.Errorf("source relation is required")
	}

	resolved, err := s.backend.Resolve(logical)
	if err != nil {
		return 0, err
	}
	if err := s.backend.EnsureSession(ctx); err != nil {
		return 0, err
	}
	store, err := s.backend.tableStore(logical)
	if err != nil {
		return 0, err
	}

	selectSQL, err := s.sourceSelect(ctx, sourceRelation, opts.Schema)
	if err != nil {
		return 0, err
	}
	schema, err := s.describeSchema(ctx, selectSQL)
	if err != nil {
		return 0, err
	}

	writeID, err := newWriteID()
	if err != nil {
		return 0, err
	}

	var added []delta.FileEntry
	if len(opts.PartitionBy) == 0 {
		added, err = s.writeSingleFile(ctx, selectSQL, resolved, store, writeID)
	} else {
		added, err = s.writePartitioned(ctx, selectSQL, resolved, store, writeID, opts.PartitionBy)
	}
	if err != nil {
		return 0, err
	}

	version, err := delta.Commit(ctx, store, delta.CommitInput{
		Operation:        delta.OperationWrite,
		Mode:             mode,
		AddFiles:         added,
		Schema:           &schema,
		PartitionColumns: opts.PartitionBy,
	})
	if err != nil {
		return 0, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "table snapshot committed",
			slog.String("path", logical),
			slog.Int64("version", version),
			slog.String("mode", mode),
			slog.Int("files", len(added)),
		)
	}
	return version, nil
}

// writeSingleFile copies the selection into one parquet file at the
// table root.
func (s *Store) writeSingleFile(ctx context.Context, selectSQL, resolved string, store objstore.Store, writeID string) ([]delta.FileEntry, error) {
	var records int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM (%s)", selectSQL)
	if err := s.session.QueryRow(ctx, countSQL).Scan(&records); err != nil {
		return nil, fmt.Errorf("count source rows: %w", err)
	}

	rel := fmt.Sprintf("part-%s-00000.parquet", writeID)
	target := s.backend.absoluteRef(resolved, rel)
	copySQL := fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET, COMPRESSION ZSTD)", selectSQL, engine.QuoteString(target))
	if err := s.session.Exec(ctx, copySQL); err != nil {
		return nil, fmt.Errorf("write parquet file: %w", err)
	}

	info, err := store.Stat(ctx, rel)
	if err != nil {
		return nil, fmt.Errorf("stat written file %q: %w", rel, err)
	}
	return []delta.FileEntry{{Path: rel, SizeBytes: info.Size, RecordCount: records}}, nil
}

// writePartitioned copies the selection into hive-partitioned parquet
// files, then discovers the written set by listing for the write id.
func (s *Store) writePartitioned(ctx context.Context, selectSQL, resolved string, store objstore.Store, writeID string, partitionBy []string) ([]delta.FileEntry, error) {
	idents := make([]string, 0, len(partitionBy))
	for _, column := range partitionBy {
		idents = append(idents, engine.QuoteIdent(column))
	}
	copySQL := fmt.Sprintf(
		"COPY (%s) TO %s (FORMAT PARQUET, COMPRESSION ZSTD, PARTITION_BY (%s), APPEND true, FILENAME_PATTERN 'part-%s-{uuid}')",
		selectSQL,
		engine.QuoteString(resolved),
		strings.Join(idents, ","),
		writeID,
	)
	if err := s.session.Exec(ctx, copySQL); err != nil {
		return nil, fmt.Errorf("write partitioned parquet files: %w", err)
	}

	objects, err := store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	prefix := "part-" + writeID + "-"
	entries := make([]delta.FileEntry, 0)
	for _, object := range objects {
		if !strings.HasPrefix(path.Base(object.Key), prefix) {
			continue
		}
		records, err := s.countFileRows(ctx, s.backend.absoluteRef(resolved, object.Key))
		if err != nil {
			return nil, err
		}
		entries = append(entries, delta.FileEntry{
			Path:            object.Key,
			SizeBytes:       object.Size,
			RecordCount:     records,
			PartitionValues: partitionValuesFromPath(object.Key),
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("partitioned write produced no files")
	}
	return entries, nil
}

// ReadToSession loads a snapshot into the engine session as a relation
// named target, replacing any existing relation of that name. Files
// are unioned in manifest order: the first defines the relation, each
// subsequent one is appended. On failure the target relation is
// dropped before the error returns.
func (s *Store) ReadToSession(ctx context.Context, logical, target string, sel delta.Selector) error {
	const op = "read_to_session"
	start := time.Now()
	err := s.readToSession(ctx, logical, target, sel)
	observability.ObserveTableOperation(op, err == nil, time.Since(start))
	return opErr(op, logical, err)
}

func (s *Store) readToSession(ctx context.Context, logical, target string, sel delta.Selector) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("target relation name is required")
	}

	files, err := s.backend.LoadFiles(ctx, logical, sel)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found in table")
	}

	ident := engine.QuoteIdent(target)
	createSQL := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM read_parquet(%s)", ident, engine.QuoteString(files[0]))
	if err := s.session.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("load file into session: %w", err)
	}
	for _, file := range files[1:] {
		insertSQL := fmt.Sprintf("INSERT INTO %s SELECT * FROM read_parquet(%s)", ident, engine.QuoteString(file))
		if err := s.session.Exec(ctx, insertSQL); err != nil {
			_ = s.session.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", ident))
			return fmt.Errorf("append file into session: %w", err)
		}
	}
	return nil
}

// TableInfo reflects over the commit log. Read-only: it never touches
// the engine session.
func (s *Store) TableInfo(ctx context.Context, logical string) (TableInfo, error) {
	const op = "get_table_info"
	start := time.Now()
	info, err := s.tableInfo(ctx, logical)
	observability.ObserveTableOperation(op, err == nil, time.Since(start))
	return info, opErr(op, logical, err)
}

func (s *Store) tableInfo(ctx context.Context, logical string) (TableInfo, error) {
	store, err := s.backend.tableStore(logical)
	if err != nil {
		return TableInfo{}, err
	}
	table, err := delta.Open(ctx, store)
	if err != nil {
		return TableInfo{}, err
	}
	return TableInfo{
		Path:     logical,
		Version:  table.Version(),
		Metadata: table.Metadata(),
		Files:    table.Files(),
		History:  table.History(),
		Schema:   table.Schema(),
	}, nil
}

// Vacuum removes data files no retained snapshot references. The
// effective retention never drops below 168 hours regardless of the
// request.
func (s *Store) Vacuum(ctx context.Context, logical string, retentionHours int) (int, error) {
	const op = "vacuum"
	start := time.Now()
	removed, err := s.vacuum(ctx, logical, retentionHours)
	observability.ObserveTableOperation(op, err == nil, time.Since(start))
	return removed, opErr(op, logical, err)
}

func (s *Store) vacuum(ctx context.Context, logical string, retentionHours int) (int, error) {
	if retentionHours < 168 && s.logger != nil {
		s.logger.WarnContext(ctx, "vacuum retention below floor, clamping to 168h",
			slog.String("path", logical),
			slog.Int("requested_hours", retentionHours),
		)
	}
	store, err := s.backend.tableStore(logical)
	if err != nil {
		return 0, err
	}
	return delta.Vacuum(ctx, store, retentionHours, time.Now().UTC())
}

// Optimize compacts each partition's files into one and, when
// clusterBy is given, rewrites rows ordered by those columns.
// Compaction always runs; clustering only changes the rewrite order.
func (s *Store) Optimize(ctx context.Context, logical string, clusterBy []string) error {
	const op = "optimize"
	start := time.Now()
	err := s.optimize(ctx, logical, clusterBy)
	observability.ObserveTableOperation(op, err == nil, time.Since(start))
	return opErr(op, logical, err)
}

func (s *Store) optimize(ctx context.Context, logical string, clusterBy []string) error {
	resolved, err := s.backend.Resolve(logical)
	if err != nil {
		return err
	}
	if err := s.backend.EnsureSession(ctx); err != nil {
		return err
	}
	store, err := s.backend.tableStore(logical)
	if err != nil {
		return err
	}
	table, err := delta.Open(ctx, store)
	if err != nil {
		return err
	}

	groups := groupByPartition(table.FileEntries())
	writeID, err := newWriteID()
	if err != nil {
		return err
	}

	var added []delta.FileEntry
	var removed []string
	sequence := 0
	for _, group := range groups {
		// A lone file is already compact; only rewrite it when a
		// clustering order was requested.
		if len(group.entries) == 1 && len(clusterBy) == 0 {
			continue
		}

		inputs := make([]string, 0, len(group.entries))
		var records int64
		for _, entry := range group.entries {
			inputs = append(inputs, s.backend.absoluteRef(resolved, entry.Path))
			records += entry.RecordCount
			removed = append(removed, entry.Path)
		}

		rel := fmt.Sprintf("part-%s-%05d.parquet", writeID, sequence)
		if group.dir != "" {
			rel = group.dir + "/" + rel
		}
		sequence++

		selectSQL := fmt.Sprintf("SELECT * FROM read_parquet(%s)", engine.QuoteStringArray(inputs))
		if len(clusterBy) > 0 {
			idents := make([]string, 0, len(clusterBy))
			for _, column := range clusterBy {
				idents = append(idents, engine.QuoteIdent(column))
			}
			selectSQL += " ORDER BY " + strings.Join(idents, ",")
		}
		target := s.backend.absoluteRef(resolved, rel)
		copySQL := fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET, COMPRESSION ZSTD)", selectSQL, engine.QuoteString(target))
		if err := s.session.Exec(ctx, copySQL); err != nil {
			return fmt.Errorf("write compacted parquet: %w", err)
		}

		info, err := store.Stat(ctx, rel)
		if err != nil {
			return fmt.Errorf("stat compacted file %q: %w", rel, err)
		}
		added = append(added, delta.FileEntry{
			Path:            rel,
			SizeBytes:       info.Size,
			RecordCount:     records,
			PartitionValues: partitionValuesFromPath(rel),
		})
	}

	if len(added) == 0 {
		return nil
	}

	version, err := delta.Commit(ctx, store, delta.CommitInput{
		Operation:        delta.OperationOptimize,
		AddFiles:         added,
		RemoveFiles:      removed,
		PartitionColumns: table.Metadata().PartitionColumns,
	})
	if err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "table optimized",
			slog.String("path", logical),
			slog.Int64("version", version),
			slog.Int("input_files", len(removed)),
			slog.Int("output_files", len(added)),
		)
	}
	return nil
}

// sourceSelect renders the materializing SELECT, casting to the
// requested schema when one was supplied.
func (s *Store) sourceSelect(_ context.Context, sourceRelation string, schema []Column) (string, error) {
	ident := engine.QuoteIdent(sourceRelation)
	if len(schema) == 0 {
		return "SELECT * FROM " + ident, nil
	}
	projections := make([]string, 0, len(schema))
	for _, column := range schema {
		if strings.TrimSpace(column.Name) == "" || strings.TrimSpace(column.Type) == "" {
			return "", fmt.Errorf("schema columns need both name and type")
		}
		if !validTypeExpr(column.Type) {
			return "", fmt.Errorf("invalid schema type %q", column.Type)
		}
		projections = append(projections, fmt.Sprintf("CAST(%s AS %s) AS %s",
			engine.QuoteIdent(column.Name), column.Type, engine.QuoteIdent(column.Name)))
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(projections, ", "), ident), nil
}

// describeSchema captures the result schema of the materializing
// SELECT for the commit record.
func (s *Store) describeSchema(ctx context.Context, selectSQL string) (delta.Schema, error) {
	rows, err := s.session.Query(ctx, fmt.Sprintf("SELECT column_name, column_type FROM (DESCRIBE %s)", selectSQL))
	if err != nil {
		return delta.Schema{}, fmt.Errorf("describe source relation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var schema delta.Schema
	for rows.Next() {
		var column delta.Column
		if err := rows.Scan(&column.Name, &column.Type); err != nil {
			return delta.Schema{}, fmt.Errorf("scan schema row: %w", err)
		}
		schema.Columns = append(schema.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return delta.Schema{}, fmt.Errorf("iterate schema rows: %w", err)
	}
	return schema, nil
}

func (s *Store) countFileRows(ctx context.Context, absolute string) (int64, error) {
	var records int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM read_parquet(%s)", engine.QuoteString(absolute))
	if err := s.session.QueryRow(ctx, countSQL).Scan(&records); err != nil {
		return 0, fmt.Errorf("count rows of %q: %w", absolute, err)
	}
	return records, nil
}

type partitionGroup struct {
	dir     string
	entries []delta.FileEntry
}

func groupByPartition(entries []delta.FileEntry) []partitionGroup {
	byDir := make(map[string][]delta.FileEntry)
	for _, entry := range entries {
		dir := path.Dir(entry.Path)
		if dir == "." {
			dir = ""
		}
		byDir[dir] = append(byDir[dir], entry)
	}
	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	groups := make([]partitionGroup, 0, len(dirs))
	for _, dir := range dirs {
		groups = append(groups, partitionGroup{dir: dir, entries: byDir[dir]})
	}
	return groups
}

// partitionValuesFromPath parses hive-style key=value directory
// components out of a manifest-relative path.
func partitionValuesFromPath(rel string) map[string]string {
	dir := path.Dir(rel)
	if dir == "." {
		return nil
	}
	values := make(map[string]string)
	for _, component := range strings.Split(dir, "/") {
		if key, value, ok := strings.Cut(component, "="); ok {
			values[key] = value
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func newWriteID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate write id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func validTypeExpr(value string) bool {
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ' ', r == '(', r == ')', r == ',', r == '_':
		default:
			return false
		}
	}
	return true
}
