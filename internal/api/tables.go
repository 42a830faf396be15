package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/minilake/minilake/internal/delta"
	"github.com/minilake/minilake/internal/storage"
)

// TableService is the slice of the storage core the API needs.
type TableService interface {
	CreateTable(ctx context.Context, sourceRelation, logical string, opts storage.CreateOptions) (int64, error)
	TableInfo(ctx context.Context, logical string) (storage.TableInfo, error)
	ReadToSession(ctx context.Context, logical, target string, sel delta.Selector) error
	Vacuum(ctx context.Context, logical string, retentionHours int) (int, error)
	Optimize(ctx context.Context, logical string, clusterBy []string) error
}

type createRequest struct {
	Path        string           `json:"path"`
	Source      string           `json:"source"`
	PartitionBy []string         `json:"partition_by"`
	Schema      []storage.Column `json:"schema"`
	Mode        string           `json:"mode"`
}

type readRequest struct {
	Path      string `json:"path"`
	Target    string `json:"target"`
	Version   *int64 `json:"version"`
	Timestamp string `json:"timestamp"`
}

type vacuumRequest struct {
	Path           string `json:"path"`
	RetentionHours *int   `json:"retention_hours"`
}

type optimizeRequest struct {
	Path      string   `json:"path"`
	ClusterBy []string `json:"cluster_by"`
}

func handleTableCreate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Tables == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "STORAGE_NOT_CONFIGURED", "table storage is not configured", false, nil)
		return
	}
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	if req.Source == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "source relation name is required", false, nil)
		return
	}

	version, err := deps.Tables.CreateTable(r.Context(), req.Source, req.Path, storage.CreateOptions{
		PartitionBy: req.PartitionBy,
		Schema:      req.Schema,
		Mode:        req.Mode,
	})
	if err != nil {
		writeStorageError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    req.Path,
		"version": version,
	})
}

func handleTableInfo(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Tables == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "STORAGE_NOT_CONFIGURED", "table storage is not configured", false, nil)
		return
	}
	logical := r.PathValue("path")
	info, err := deps.Tables.TableInfo(r.Context(), logical)
	if err != nil {
		writeStorageError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func handleTableRead(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Tables == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "STORAGE_NOT_CONFIGURED", "table storage is not configured", false, nil)
		return
	}
	var req readRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	target := req.Target
	if target == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "target relation name is required", false, nil)
		return
	}

	sel := delta.Selector{Version: req.Version}
	if req.Timestamp != "" {
		at, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid timestamp: %v", err), false, nil)
			return
		}
		sel.Timestamp = &at
	}

	if err := deps.Tables.ReadToSession(r.Context(), req.Path, target, sel); err != nil {
		writeStorageError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":   req.Path,
		"target": target,
	})
}

func handleTableVacuum(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Tables == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "STORAGE_NOT_CONFIGURED", "table storage is not configured", false, nil)
		return
	}
	var req vacuumRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	retention := 168
	if req.RetentionHours != nil {
		retention = *req.RetentionHours
	}

	removed, err := deps.Tables.Vacuum(r.Context(), req.Path, retention)
	if err != nil {
		writeStorageError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":          req.Path,
		"files_removed": removed,
	})
}

func handleTableOptimize(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Tables == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "STORAGE_NOT_CONFIGURED", "table storage is not configured", false, nil)
		return
	}
	var req optimizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	if err := deps.Tables.Optimize(r.Context(), req.Path, req.ClusterBy); err != nil {
		writeStorageError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":      req.Path,
		"optimized": true,
	})
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeStorageError maps the storage error taxonomy onto HTTP status
// codes.
func writeStorageError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, delta.ErrNoSnapshot):
		writeError(ctx, w, http.StatusNotFound, "TABLE_NOT_FOUND", err.Error(), false, nil)
	case errors.Is(err, delta.ErrCommitConflict):
		writeError(ctx, w, http.StatusConflict, "COMMIT_CONFLICT", err.Error(), true, nil)
	case errors.Is(err, delta.ErrInvalidSnapshot):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_SNAPSHOT", err.Error(), false, nil)
	case errors.Is(err, storage.ErrConfiguration):
		writeError(ctx, w, http.StatusInternalServerError, "STORAGE_NOT_CONFIGURED", err.Error(), false, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "STORAGE_ERROR", err.Error(), true, nil)
	}
}
