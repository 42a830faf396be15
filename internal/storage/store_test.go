package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/minilake/minilake/internal/delta"
	"github.com/minilake/minilake/internal/engine"
)

func newLocalStore(t *testing.T) (*Store, *engine.Session) {
	t.Helper()
	session, err := engine.Open("")
	if err != nil {
		t.Fatalf("engine.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })

	backend := &Backend{kind: KindLocal, session: session, root: t.TempDir()}
	return newStoreWith(backend, session, nil), session
}

func seedOrders(t *testing.T, session *engine.Session, name string, rows string) {
	t.Helper()
	ddl := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM (VALUES %s) AS v(id, region, amount)", engine.QuoteIdent(name), rows)
	if err := session.Exec(context.Background(), ddl); err != nil {
		t.Fatalf("seed %s error = %v", name, err)
	}
}

func countRows(t *testing.T, session *engine.Session, relation string) int64 {
	t.Helper()
	var n int64
	if err := session.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+engine.QuoteIdent(relation)).Scan(&n); err != nil {
		t.Fatalf("count %s error = %v", relation, err)
	}
	return n
}

func TestCreateReadRoundtripWithTimeTravel(t *testing.T) {
	store, session := newLocalStore(t)
	ctx := context.Background()

	seedOrders(t, session, "orders_src", "(1, 'eu', 9.50), (2, 'us', 3.25)")
	version, err := store.CreateTable(ctx, "orders_src", "sales/orders", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	if version != 0 {
		t.Fatalf("CreateTable() version = %d, want 0", version)
	}

	seedOrders(t, session, "orders_src", "(3, 'eu', 12.00)")
	version, err = store.CreateTable(ctx, "orders_src", "sales/orders", CreateOptions{Mode: delta.ModeAppend})
	if err != nil {
		t.Fatalf("CreateTable() append error = %v", err)
	}
	if version != 1 {
		t.Fatalf("CreateTable() append version = %d, want 1", version)
	}

	if err := store.ReadToSession(ctx, "sales/orders", "orders_latest", delta.Selector{}); err != nil {
		t.Fatalf("ReadToSession() error = %v", err)
	}
	if n := countRows(t, session, "orders_latest"); n != 3 {
		t.Fatalf("latest row count = %d, want 3", n)
	}

	v0 := int64(0)
	if err := store.ReadToSession(ctx, "sales/orders", "orders_v0", delta.Selector{Version: &v0}); err != nil {
		t.Fatalf("ReadToSession() at version 0 error = %v", err)
	}
	if n := countRows(t, session, "orders_v0"); n != 2 {
		t.Fatalf("version 0 row count = %d, want 2", n)
	}
}

func TestCreateOverwriteReplacesSnapshot(t *testing.T) {
	store, session := newLocalStore(t)
	ctx := context.Background()

	seedOrders(t, session, "src", "(1, 'eu', 1.0), (2, 'us', 2.0)")
	if _, err := store.CreateTable(ctx, "src", "t", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}

	seedOrders(t, session, "src", "(9, 'apac', 9.0)")
	if _, err := store.CreateTable(ctx, "src", "t", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable() overwrite error = %v", err)
	}

	if err := store.ReadToSession(ctx, "t", "t_now", delta.Selector{}); err != nil {
		t.Fatalf("ReadToSession() error = %v", err)
	}
	if n := countRows(t, session, "t_now"); n != 1 {
		t.Fatalf("row count after overwrite = %d, want 1", n)
	}

	info, err := store.TableInfo(ctx, "t")
	if err != nil {
		t.Fatalf("TableInfo() error = %v", err)
	}
	if info.Version != 1 || info.Metadata.NumFiles != 1 {
		t.Fatalf("TableInfo() = version %d, files %d", info.Version, info.Metadata.NumFiles)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	store, session := newLocalStore(t)
	ctx := context.Background()
	seedOrders(t, session, "src", "(1, 'eu', 1.0)")

	if _, err := store.CreateTable(ctx, "src", "t", CreateOptions{Mode: "merge"}); err == nil {
		t.Fatal("CreateTable() expected error for invalid mode")
	}
	if _, err := store.CreateTable(ctx, "  ", "t", CreateOptions{}); err == nil {
		t.Fatal("CreateTable() expected error for blank source relation")
	}
	if _, err := store.CreateTable(ctx, "src", "s3://bucket/t", CreateOptions{}); err == nil {
		t.Fatal("CreateTable() expected error for scheme-qualified path")
	}
	if _, err := store.CreateTable(ctx, "src", "t", CreateOptions{Schema: []Column{{Name: "id", Type: "BIGINT; DROP TABLE x"}}}); err == nil {
		t.Fatal("CreateTable() expected error for malformed schema type")
	}
}

func TestCreateWithExplicitSchemaCasts(t *testing.T) {
	store, session := newLocalStore(t)
	ctx := context.Background()

	seedOrders(t, session, "src", "(1, 'eu', 1.5)")
	_, err := store.CreateTable(ctx, "src", "typed", CreateOptions{
		Schema: []Column{{Name: "id", Type: "BIGINT"}, {Name: "amount", Type: "DOUBLE"}},
	})
	if err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}

	info, err := store.TableInfo(ctx, "typed")
	if err != nil {
		t.Fatalf("TableInfo() error = %v", err)
	}
	if len(info.Schema.Columns) != 2 {
		t.Fatalf("schema columns = %d, want the projected 2", len(info.Schema.Columns))
	}
	if info.Schema.Columns[0].Name != "id" || info.Schema.Columns[0].Type != "BIGINT" {
		t.Fatalf("schema[0] = %+v", info.Schema.Columns[0])
	}
}

func TestCreatePartitionedWritesHiveLayout(t *testing.T) {
	store, session := newLocalStore(t)
	ctx := context.Background()

	seedOrders(t, session, "src", "(1, 'eu', 1.0), (2, 'us', 2.0), (3, 'eu', 3.0)")
	if _, err := store.CreateTable(ctx, "src", "part", CreateOptions{PartitionBy: []string{"region"}}); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}

	info, err := store.TableInfo(ctx, "part")
	if err != nil {
		t.Fatalf("TableInfo() error = %v", err)
	}
	if len(info.Files) != 2 {
		t.Fatalf("files = %v, want one per region", info.Files)
	}
	if len(info.Metadata.PartitionColumns) != 1 || info.Metadata.PartitionColumns[0] != "region" {
		t.Fatalf("partition columns = %v", info.Metadata.PartitionColumns)
	}

	if err := store.ReadToSession(ctx, "part", "part_all", delta.Selector{}); err != nil {
		t.Fatalf("ReadToSession() error = %v", err)
	}
	if n := countRows(t, session, "part_all"); n != 3 {
		t.Fatalf("row count = %d, want 3", n)
	}
}

func TestReadMissingTableWrapsNoSnapshot(t *testing.T) {
	store, _ := newLocalStore(t)

	err := store.ReadToSession(context.Background(), "missing/table", "out", delta.Selector{})
	if !errors.Is(err, delta.ErrNoSnapshot) {
		t.Fatalf("ReadToSession() error = %v, want ErrNoSnapshot", err)
	}

	var opError *OpError
	if !errors.As(err, &opError) {
		t.Fatalf("ReadToSession() error = %T, want *OpError", err)
	}
	if opError.Op != "read_to_session" || opError.Path != "missing/table" {
		t.Fatalf("OpError = %+v", opError)
	}
}

func TestTableInfoMissingTableWrapsNoSnapshot(t *testing.T) {
	store, _ := newLocalStore(t)

	_, err := store.TableInfo(context.Background(), "never/created")
	if !errors.Is(err, delta.ErrNoSnapshot) {
		t.Fatalf("TableInfo() error = %v, want ErrNoSnapshot", err)
	}
}

func TestReadTimeTravelBeforeFirstCommit(t *testing.T) {
	store, session := newLocalStore(t)
	ctx := context.Background()

	seedOrders(t, session, "src", "(1, 'eu', 1.0)")
	if _, err := store.CreateTable(ctx, "src", "t", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}

	early := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	err := store.ReadToSession(ctx, "t", "out", delta.Selector{Timestamp: &early})
	if !errors.Is(err, delta.ErrInvalidSnapshot) {
		t.Fatalf("ReadToSession() error = %v, want ErrInvalidSnapshot", err)
	}
}

func TestTableInfoHistoryNewestFirst(t *testing.T) {
	store, session := newLocalStore(t)
	ctx := context.Background()

	seedOrders(t, session, "src", "(1, 'eu', 1.0)")
	if _, err := store.CreateTable(ctx, "src", "t", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	seedOrders(t, session, "src", "(2, 'us', 2.0)")
	if _, err := store.CreateTable(ctx, "src", "t", CreateOptions{Mode: delta.ModeAppend}); err != nil {
		t.Fatalf("CreateTable() append error = %v", err)
	}

	info, err := store.TableInfo(ctx, "t")
	if err != nil {
		t.Fatalf("TableInfo() error = %v", err)
	}
	if len(info.History) != 2 {
		t.Fatalf("history = %d entries, want 2", len(info.History))
	}
	if info.History[0].Version != 1 || info.History[1].Version != 0 {
		t.Fatalf("history order = %d, %d", info.History[0].Version, info.History[1].Version)
	}
	if info.History[0].Mode != delta.ModeAppend {
		t.Fatalf("history[0].Mode = %q", info.History[0].Mode)
	}
}

func TestVacuumKeepsFilesInsideRetention(t *testing.T) {
	store, session := newLocalStore(t)
	ctx := context.Background()

	seedOrders(t, session, "src", "(1, 'eu', 1.0)")
	if _, err := store.CreateTable(ctx, "src", "t", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	seedOrders(t, session, "src", "(2, 'us', 2.0)")
	if _, err := store.CreateTable(ctx, "src", "t", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable() overwrite error = %v", err)
	}

	// Version 0's file is tombstoned but the removing commit is fresh,
	// so even a zero retention request deletes nothing.
	removed, err := store.Vacuum(ctx, "t", 0)
	if err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
	if removed != 0 {
		t.Fatalf("Vacuum() removed = %d, want 0", removed)
	}

	v0 := int64(0)
	if err := store.ReadToSession(ctx, "t", "old", delta.Selector{Version: &v0}); err != nil {
		t.Fatalf("ReadToSession() at version 0 error = %v, want time travel to survive vacuum", err)
	}
}

func TestOptimizeCompactsAppendedFiles(t *testing.T) {
	store, session := newLocalStore(t)
	ctx := context.Background()

	seedOrders(t, session, "src", "(1, 'eu', 1.0), (2, 'us', 2.0)")
	if _, err := store.CreateTable(ctx, "src", "t", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	seedOrders(t, session, "src", "(3, 'eu', 3.0)")
	if _, err := store.CreateTable(ctx, "src", "t", CreateOptions{Mode: delta.ModeAppend}); err != nil {
		t.Fatalf("CreateTable() append error = %v", err)
	}

	if err := store.Optimize(ctx, "t", nil); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}

	info, err := store.TableInfo(ctx, "t")
	if err != nil {
		t.Fatalf("TableInfo() error = %v", err)
	}
	if info.Version != 2 {
		t.Fatalf("version after optimize = %d, want 2", info.Version)
	}
	if len(info.Files) != 1 {
		t.Fatalf("files after optimize = %v, want one compacted file", info.Files)
	}
	if info.History[0].Operation != delta.OperationOptimize {
		t.Fatalf("history[0].Operation = %q", info.History[0].Operation)
	}

	if err := store.ReadToSession(ctx, "t", "compacted", delta.Selector{}); err != nil {
		t.Fatalf("ReadToSession() error = %v", err)
	}
	if n := countRows(t, session, "compacted"); n != 3 {
		t.Fatalf("row count after optimize = %d, want 3", n)
	}
}

func TestOptimizeSingleFileIsNoOpWithoutClustering(t *testing.T) {
	store, session := newLocalStore(t)
	ctx := context.Background()

	seedOrders(t, session, "src", "(1, 'eu', 1.0)")
	if _, err := store.CreateTable(ctx, "src", "t", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}

	if err := store.Optimize(ctx, "t", nil); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	info, err := store.TableInfo(ctx, "t")
	if err != nil {
		t.Fatalf("TableInfo() error = %v", err)
	}
	if info.Version != 0 {
		t.Fatalf("version = %d, want no new commit for an already compact table", info.Version)
	}

	if err := store.Optimize(ctx, "t", []string{"region"}); err != nil {
		t.Fatalf("Optimize() with clustering error = %v", err)
	}
	info, err = store.TableInfo(ctx, "t")
	if err != nil {
		t.Fatalf("TableInfo() error = %v", err)
	}
	if info.Version != 1 {
		t.Fatalf("version = %d, want clustering rewrite to commit", info.Version)
	}
}

func TestPartitionValuesFromPath(t *testing.T) {
	values := partitionValuesFromPath("region=eu/year=2026/part-abc-00000.parquet")
	if len(values) != 2 || values["region"] != "eu" || values["year"] != "2026" {
		t.Fatalf("partitionValuesFromPath() = %v", values)
	}
	if got := partitionValuesFromPath("part-abc-00000.parquet"); got != nil {
		t.Fatalf("partitionValuesFromPath() = %v, want nil for unpartitioned path", got)
	}
}

func TestGroupByPartitionSortsDirectories(t *testing.T) {
	groups := groupByPartition([]delta.FileEntry{
		{Path: "region=us/a.parquet"},
		{Path: "region=eu/b.parquet"},
		{Path: "region=eu/c.parquet"},
		{Path: "root.parquet"},
	})
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	if groups[0].dir != "" || groups[1].dir != "region=eu" || groups[2].dir != "region=us" {
		t.Fatalf("group dirs = %q, %q, %q", groups[0].dir, groups[1].dir, groups[2].dir)
	}
	if len(groups[1].entries) != 2 {
		t.Fatalf("region=eu entries = %d, want 2", len(groups[1].entries))
	}
}
