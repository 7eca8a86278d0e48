package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 64 << 10

// HTTPAdmission talks to the gateway's admission and heartbeat routes.
type HTTPAdmission struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPAdmission builds an Admission for the gateway at baseURL. A nil client gets a 15s timeout.
func NewHTTPAdmission(baseURL string, client *http.Client) (*HTTPAdmission, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPAdmission{base: u, client: client}, nil
}

type connectionDetails struct {
	ServerURL                string `json:"server_url"`
	ParticipantToken         string `json:"participant_token"`
	ParticipantName          string `json:"participant_name"`
	RoomName                 string `json:"room_name"`
	FallbackServerURL        string `json:"fallback_server_url"`
	FallbackParticipantToken string `json:"fallback_participant_token"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Room    string `json:"room"`
	} `json:"error"`
}

// Request asks for admission and both credentials. Rejections come back as *RejectedError.
func (a *HTTPAdmission) Request(ctx context.Context, req Request) (Grant, error) {
	q := url.Values{}
	q.Set("roomName", req.Room)
	q.Set("participantName", req.Identity)
	q.Set("authCode", req.Code)
	u := a.endpoint("/api/connection-details")
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Grant{}, err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Grant{}, fmt.Errorf("admission request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Grant{}, fmt.Errorf("admission read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Grant{}, rejection(resp.StatusCode, body)
	}

	var cd connectionDetails
	if err := json.Unmarshal(body, &cd); err != nil {
		return Grant{}, fmt.Errorf("admission decode: %w", err)
	}
	if cd.ServerURL == "" || cd.ParticipantToken == "" {
		return Grant{}, errors.New("admission response missing primary credential")
	}
	g := Grant{Primary: Endpoint{URL: cd.ServerURL, Token: cd.ParticipantToken}}
	if cd.FallbackServerURL != "" && cd.FallbackParticipantToken != "" {
		g.Fallback = &Endpoint{URL: cd.FallbackServerURL, Token: cd.FallbackParticipantToken}
	}
	return g, nil
}

// Renew posts one heartbeat for code.
func (a *HTTPAdmission) Renew(ctx context.Context, code string) error {
	return postCode(ctx, a.client, a.endpoint("/api/heartbeat").String(), code)
}

func (a *HTTPAdmission) endpoint(path string) *url.URL {
	u := *a.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return &u
}

func rejection(status int, body []byte) error {
	rej := &RejectedError{Status: status}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		rej.Code = env.Error.Code
		rej.Reason = env.Error.Message
		rej.Room = env.Error.Room
	}
	if rej.Reason == "" {
		rej.Reason = http.StatusText(status)
	}
	return rej
}

func postCode(ctx context.Context, client *http.Client, target, code string) error {
	payload, err := json.Marshal(struct {
		AuthCode string `json:"auth_code"`
	}{AuthCode: code})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: unexpected status %d", target, resp.StatusCode)
	}
	return nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: want http(s)://host", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
