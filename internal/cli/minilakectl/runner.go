package minilakectl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("minilakectl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "MiniLake API base URL")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]

	method := ""
	path := ""
	var body any

	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "info":
		if len(rest) < 1 {
			_, _ = fmt.Fprintln(stderr, "usage: minilakectl info <path>")
			return 2
		}
		method, path = http.MethodGet, "/v1/tables/"+escapeTablePath(rest[0])
	case "create":
		sub := flag.NewFlagSet("create", flag.ContinueOnError)
		sub.SetOutput(stderr)
		partitionBy := sub.String("partition-by", "", "comma-separated partition columns")
		mode := sub.String("mode", "", "write mode: overwrite or append")
		if err := sub.Parse(rest); err != nil {
			return 2
		}
		if sub.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "usage: minilakectl create [flags] <path> <source>")
			return 2
		}
		payload := map[string]any{"path": sub.Arg(0), "source": sub.Arg(1)}
		if *partitionBy != "" {
			payload["partition_by"] = strings.Split(*partitionBy, ",")
		}
		if *mode != "" {
			payload["mode"] = *mode
		}
		method, path, body = http.MethodPost, "/v1/tables", payload
	case "ingest":
		sub := flag.NewFlagSet("ingest", flag.ContinueOnError)
		sub.SetOutput(stderr)
		columns := sub.String("columns", "", "explicit schema as name:type pairs, comma-separated")
		if err := sub.Parse(rest); err != nil {
			return 2
		}
		if sub.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "usage: minilakectl ingest [flags] <file> <relation>")
			return 2
		}
		payload := map[string]any{"file": sub.Arg(0), "relation": sub.Arg(1)}
		if *columns != "" {
			parsed, err := parseColumns(*columns)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "invalid -columns: %v\n", err)
				return 2
			}
			payload["columns"] = parsed
		}
		method, path, body = http.MethodPost, "/v1/ingest", payload
	case "query":
		sub := flag.NewFlagSet("query", flag.ContinueOnError)
		sub.SetOutput(stderr)
		limit := sub.Int("limit", 0, "maximum rows to return (0 = unlimited)")
		if err := sub.Parse(rest); err != nil {
			return 2
		}
		if sub.NArg() < 1 {
			_, _ = fmt.Fprintln(stderr, "usage: minilakectl query [flags] <sql>")
			return 2
		}
		payload := map[string]any{"sql": strings.Join(sub.Args(), " ")}
		if *limit > 0 {
			payload["row_limit"] = *limit
		}
		method, path, body = http.MethodPost, "/v1/query", payload
	case "read":
		sub := flag.NewFlagSet("read", flag.ContinueOnError)
		sub.SetOutput(stderr)
		version := sub.Int64("version", -1, "snapshot version to read")
		timestamp := sub.String("timestamp", "", "read as of RFC 3339 timestamp")
		if err := sub.Parse(rest); err != nil {
			return 2
		}
		if sub.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "usage: minilakectl read [flags] <path> <target>")
			return 2
		}
		payload := map[string]any{"path": sub.Arg(0), "target": sub.Arg(1)}
		if *version >= 0 {
			payload["version"] = *version
		}
		if *timestamp != "" {
			payload["timestamp"] = *timestamp
		}
		method, path, body = http.MethodPost, "/v1/read", payload
	case "vacuum":
		sub := flag.NewFlagSet("vacuum", flag.ContinueOnError)
		sub.SetOutput(stderr)
		retention := sub.Int("retention-hours", 168, "retention window in hours (floor 168)")
		if err := sub.Parse(rest); err != nil {
			return 2
		}
		if sub.NArg() < 1 {
			_, _ = fmt.Fprintln(stderr, "usage: minilakectl vacuum [flags] <path>")
			return 2
		}
		method, path = http.MethodPost, "/v1/vacuum"
		body = map[string]any{"path": sub.Arg(0), "retention_hours": *retention}
	case "optimize":
		sub := flag.NewFlagSet("optimize", flag.ContinueOnError)
		sub.SetOutput(stderr)
		clusterBy := sub.String("cluster-by", "", "comma-separated clustering columns")
		if err := sub.Parse(rest); err != nil {
			return 2
		}
		if sub.NArg() < 1 {
			_, _ = fmt.Fprintln(stderr, "usage: minilakectl optimize [flags] <path>")
			return 2
		}
		payload := map[string]any{"path": sub.Arg(0)}
		if *clusterBy != "" {
			payload["cluster_by"] = strings.Split(*clusterBy, ",")
		}
		method, path, body = http.MethodPost, "/v1/optimize", payload
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func escapeTablePath(logical string) string {
	segments := strings.Split(strings.Trim(logical, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func parseColumns(raw string) ([]map[string]string, error) {
	parts := strings.Split(raw, ",")
	columns := make([]map[string]string, 0, len(parts))
	for _, part := range parts {
		name, columnType, found := strings.Cut(strings.TrimSpace(part), ":")
		if !found || name == "" || columnType == "" {
			return nil, fmt.Errorf("expected name:type, got %q", part)
		}
		columns = append(columns, map[string]string{"name": name, "type": columnType})
	}
	return columns, nil
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: minilakectl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                            service liveness")
	_, _ = fmt.Fprintln(w, "  ready                             service readiness")
	_, _ = fmt.Fprintln(w, "  info <path>                       table version, files, history, schema")
	_, _ = fmt.Fprintln(w, "  create [flags] <path> <source>    snapshot a session relation as a table")
	_, _ = fmt.Fprintln(w, "  ingest [flags] <file> <relation>  load a data file into the session")
	_, _ = fmt.Fprintln(w, "  query [flags] <sql>               run a read query against the session")
	_, _ = fmt.Fprintln(w, "  read [flags] <path> <target>      load a snapshot into the session")
	_, _ = fmt.Fprintln(w, "  vacuum [flags] <path>             remove unreferenced data files")
	_, _ = fmt.Fprintln(w, "  optimize [flags] <path>           compact and optionally cluster")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "flags:")
	_, _ = fmt.Fprintln(w, "  -base-url   API base URL (default http://localhost:8080)")
	_, _ = fmt.Fprintln(w, "  -timeout    HTTP timeout (default 30s)")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
