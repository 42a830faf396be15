package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/minilake/minilake/internal/engine"
)

// QueryExecutor runs read queries against the shared engine session.
type QueryExecutor interface {
	RunQuery(ctx context.Context, sqlText string, rowLimit int) (engine.QueryResult, error)
}

type queryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

type queryResponse struct {
	Columns []string       `json:"columns"`
	Rows    [][]any        `json:"rows"`
	Stats   map[string]any `json:"stats"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Query == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query execution is not configured", false, nil)
		return
	}
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if !isReadOnlySQL(req.SQL) {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only SELECT and WITH statements are allowed", false, nil)
		return
	}
	if req.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "row_limit must not be negative", false, nil)
		return
	}

	result, err := deps.Query.RunQuery(r.Context(), req.SQL, req.RowLimit)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_FAILED", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Columns: result.Columns,
		Rows:    result.Rows,
		Stats: map[string]any{
			"row_count":  len(result.Rows),
			"elapsed_ms": result.Elapsed.Milliseconds(),
		},
	})
}

// isReadOnlySQL keeps mutating statements off the query endpoint.
// Table writes go through the dedicated table operations instead.
func isReadOnlySQL(sqlText string) bool {
	normalized := strings.ToLower(strings.TrimSpace(sqlText))
	return strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with")
}
