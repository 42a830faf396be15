// Package ingest loads data files into the engine session as named
// relations, using DuckDB's own readers for parsing.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minilake/minilake/internal/engine"
	"github.com/minilake/minilake/internal/observability"
)

type Column struct {
	Name string
	Type string
}

type Options struct {
	// Columns, when set, declares the relation schema explicitly
	// instead of letting the reader infer it.
	Columns []Column
}

// File loads a parquet, CSV or JSON file into the session under the
// given relation name, replacing any existing relation of that name.
func File(ctx context.Context, session *engine.Session, filePath, relation string, opts Options) error {
	format, err := formatFor(filePath)
	if err != nil {
		return err
	}
	err = ingest(ctx, session, filePath, relation, format, opts)
	observability.ObserveIngestFile(format, err == nil)
	return err
}

func ingest(ctx context.Context, session *engine.Session, filePath, relation, format string, opts Options) error {
	if strings.TrimSpace(relation) == "" {
		return fmt.Errorf("relation name is required")
	}
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("source file %q: %w", filePath, err)
	}

	scan := fmt.Sprintf("%s(%s)", readerFor(format), engine.QuoteString(filePath))
	ident := engine.QuoteIdent(relation)

	if len(opts.Columns) == 0 {
		createSQL := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s", ident, scan)
		if err := session.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("ingest %s file %q: %w", format, filePath, err)
		}
		return nil
	}

	defs := make([]string, 0, len(opts.Columns))
	for _, column := range opts.Columns {
		if strings.TrimSpace(column.Name) == "" || strings.TrimSpace(column.Type) == "" {
			return fmt.Errorf("columns need both name and type")
		}
		defs = append(defs, fmt.Sprintf("%s %s", engine.QuoteIdent(column.Name), column.Type))
	}
	createSQL := fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", ident, strings.Join(defs, ", "))
	if err := session.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("create relation %q: %w", relation, err)
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", ident, scan)
	if err := session.Exec(ctx, insertSQL); err != nil {
		_ = session.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", ident))
		return fmt.Errorf("ingest %s file %q: %w", format, filePath, err)
	}
	return nil
}

func formatFor(filePath string) (string, error) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".parquet":
		return "parquet", nil
	case ".csv", ".txt":
		return "csv", nil
	case ".json":
		return "json", nil
	default:
		return "", fmt.Errorf("unsupported file format %q", filepath.Ext(filePath))
	}
}

func readerFor(format string) string {
	switch format {
	case "parquet":
		return "read_parquet"
	case "csv":
		return "read_csv_auto"
	default:
		return "read_json_auto"
	}
}
