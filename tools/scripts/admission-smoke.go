// Package main provides a CI-friendly smoke test for a running roomgate server.
//
// It validates:
//   - admin code creation
//   - admission with primary credentials
//   - room conflict for a second room
//   - heartbeat and leave
//   - re-admission into the other room after leave
//   - the sweep endpoint
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const maxReadBytes = 1 << 20

type smokeClient struct {
	base    *url.URL
	apiKey  string
	http    *http.Client
	verbose bool
}

func main() {
	var (
		server  = flag.String("url", "http://127.0.0.1:8080", "roomgate base URL")
		apiKey  = flag.String("api-key", os.Getenv("ROOMGATE_ADMIN_API_KEY"), "admin API key (X-API-Key)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*server)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	c := &smokeClient{base: base, apiKey: *apiKey, http: &http.Client{Timeout: *timeout}, verbose: *verbose}
	ctx := context.Background()

	suffix := strings.ToLower(ulid.Make().String()[20:])
	roomA, roomB := "smoke-a-"+suffix, "smoke-b-"+suffix

	var created struct {
		Code struct {
			Code string `json:"code"`
		} `json:"code"`
	}
	c.mustDo(ctx, http.MethodPost, "/api/admin/codes", nil, map[string]any{"holder_id": 1, "note": "smoke"}, http.StatusCreated, &created)
	code := created.Code.Code
	if code == "" {
		fatalf("create: empty code")
	}
	defer c.mustDo(ctx, http.MethodDelete, "/api/admin/codes", url.Values{"code": {code}}, nil, http.StatusOK, nil)

	var details struct {
		ServerURL        string `json:"server_url"`
		ParticipantToken string `json:"participant_token"`
		RoomName         string `json:"room_name"`
	}
	c.mustDo(ctx, http.MethodGet, "/api/connection-details", admissionQuery(roomA, "smoke-a", code), nil, http.StatusOK, &details)
	if details.ServerURL == "" || details.ParticipantToken == "" || details.RoomName != roomA {
		fatalf("connection-details: unexpected body %+v", details)
	}

	var conflict struct {
		Error struct {
			Code string `json:"code"`
			Room string `json:"room"`
		} `json:"error"`
	}
	c.mustDo(ctx, http.MethodGet, "/api/connection-details", admissionQuery(roomB, "smoke-b", code), nil, http.StatusConflict, &conflict)
	if conflict.Error.Code != "room_conflict" || conflict.Error.Room != roomA {
		fatalf("conflict: unexpected body %+v", conflict)
	}

	c.mustDo(ctx, http.MethodPost, "/api/heartbeat", nil, map[string]string{"auth_code": code}, http.StatusOK, nil)
	c.mustDo(ctx, http.MethodPost, "/api/leave", nil, map[string]string{"auth_code": code}, http.StatusOK, nil)
	c.mustDo(ctx, http.MethodGet, "/api/connection-details", admissionQuery(roomB, "smoke-b", code), nil, http.StatusOK, nil)
	c.mustDo(ctx, http.MethodPost, "/api/leave", nil, map[string]string{"auth_code": code}, http.StatusOK, nil)

	var health struct {
		Status string `json:"status"`
	}
	c.mustDo(ctx, http.MethodGet, "/api/health", nil, nil, http.StatusOK, &health)
	if health.Status != "ok" {
		fatalf("health: status=%q", health.Status)
	}

	fmt.Println("OK: admission smoke passed")
}

func admissionQuery(room, name, code string) url.Values {
	return url.Values{"roomName": {room}, "participantName": {name}, "authCode": {code}}
}

func (c *smokeClient) mustDo(ctx context.Context, method, path string, q url.Values, body any, wantStatus int, out any) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			fatalf("%s %s: marshal: %v", method, path, err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" && strings.HasPrefix(path, "/api/admin/") {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read: %v", method, path, err)
	}
	if c.verbose {
		fmt.Printf("%s %s -> %d %s\n", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, wantStatus, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
