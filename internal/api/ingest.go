package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/minilake/minilake/internal/storage"
)

// Ingestor loads a data file into the engine session as a named
// relation.
type Ingestor interface {
	IngestFile(ctx context.Context, filePath, relation string, columns []storage.Column) error
}

// IngestorFunc adapts a plain function to the Ingestor interface.
type IngestorFunc func(ctx context.Context, filePath, relation string, columns []storage.Column) error

func (f IngestorFunc) IngestFile(ctx context.Context, filePath, relation string, columns []storage.Column) error {
	return f(ctx, filePath, relation, columns)
}

type ingestRequest struct {
	File     string           `json:"file"`
	Relation string           `json:"relation"`
	Columns  []storage.Column `json:"columns"`
}

func handleIngest(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Ingest == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INGEST_NOT_CONFIGURED", "file ingestion is not configured", false, nil)
		return
	}
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(req.File) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "source file path is required", false, nil)
		return
	}
	if strings.TrimSpace(req.Relation) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "RELATION_REQUIRED", "relation name is required", false, nil)
		return
	}

	if err := deps.Ingest.IngestFile(r.Context(), req.File, req.Relation, req.Columns); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INGEST_FAILED", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"relation": req.Relation,
		"file":     req.File,
	})
}
