package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/minilake/minilake/internal/config"
	"github.com/minilake/minilake/internal/storage"
)

type fakeIngestor struct {
	err error

	lastFile     string
	lastRelation string
	lastColumns  []storage.Column
}

func (f *fakeIngestor) IngestFile(_ context.Context, filePath, relation string, columns []storage.Column) error {
	f.lastFile = filePath
	f.lastRelation = relation
	f.lastColumns = columns
	return f.err
}

func newIngestHandler(ingestor Ingestor) http.Handler {
	cfg, _ := config.Load("minilake-api", func(string) (string, bool) { return "", false })
	return NewHandler(cfg, Dependencies{Ingest: ingestor})
}

func TestIngestForwardsFileAndColumns(t *testing.T) {
	fake := &fakeIngestor{}
	handler := newIngestHandler(fake)

	body := `{"file":"/data/orders.csv","relation":"staging_orders","columns":[{"name":"id","type":"BIGINT"},{"name":"region","type":"VARCHAR"}]}`
	recorder := doRequest(t, handler, http.MethodPost, "/v1/ingest", body)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	if fake.lastFile != "/data/orders.csv" || fake.lastRelation != "staging_orders" {
		t.Fatalf("file = %q, relation = %q", fake.lastFile, fake.lastRelation)
	}
	if len(fake.lastColumns) != 2 || fake.lastColumns[1].Name != "region" {
		t.Fatalf("columns = %v", fake.lastColumns)
	}
	payload := decodeResponse(t, recorder)
	if payload["relation"] != "staging_orders" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestIngestRejectsBadInput(t *testing.T) {
	handler := newIngestHandler(&fakeIngestor{})

	cases := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"missing file", `{"relation":"orders"}`, "FILE_REQUIRED"},
		{"missing relation", `{"file":"/data/orders.csv"}`, "RELATION_REQUIRED"},
		{"unknown field", `{"file":"/data/orders.csv","relation":"orders","format":"csv"}`, "INVALID_REQUEST"},
		{"malformed json", `{`, "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := doRequest(t, handler, http.MethodPost, "/v1/ingest", tc.body)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
			}
			payload := decodeResponse(t, recorder)
			if payload["error_code"] != tc.wantCode {
				t.Fatalf("error_code = %v, want %s", payload["error_code"], tc.wantCode)
			}
		})
	}
}

func TestIngestFailureIs400(t *testing.T) {
	fake := &fakeIngestor{err: fmt.Errorf(`source file "/data/missing.csv": no such file`)}
	handler := newIngestHandler(fake)

	recorder := doRequest(t, handler, http.MethodPost, "/v1/ingest", `{"file":"/data/missing.csv","relation":"orders"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["error_code"] != "INGEST_FAILED" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestIngestWithoutIngestorIs501(t *testing.T) {
	cfg, _ := config.Load("minilake-api", func(string) (string, bool) { return "", false })
	handler := NewHandler(cfg, Dependencies{})

	recorder := doRequest(t, handler, http.MethodPost, "/v1/ingest", `{"file":"/data/orders.csv","relation":"orders"}`)
	if recorder.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["error_code"] != "INGEST_NOT_CONFIGURED" {
		t.Fatalf("payload = %v", payload)
	}
}
