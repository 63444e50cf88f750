package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tally-go/internal/tally"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 1 << 20

// envelope is the response wrapper the API returns for every call.
type envelope struct {
	IsSuccess bool            `json:"is_success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// HTTPRemote implements tally.Remote against the JSON REST API.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
	logger  tally.Logger

	mu    sync.RWMutex
	token string
}

var _ tally.Remote = (*HTTPRemote)(nil)

// NewHTTPRemote creates a remote rooted at baseURL. Each request is bounded
// by timeout.
func NewHTTPRemote(baseURL string, timeout time.Duration, logger tally.Logger) *HTTPRemote {
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// SetToken sets the bearer token sent with subsequent requests.
func (r *HTTPRemote) SetToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = token
}

func (r *HTTPRemote) bearer() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.token
}

// Create posts payload to the kind's collection and returns data.id.
func (r *HTTPRemote) Create(ctx context.Context, kind tally.Kind, payload json.RawMessage, refs map[string]string) (string, error) {
	body, err := withRefs(payload, refs)
	if err != nil {
		return "", err
	}

	env, err := r.do(ctx, http.MethodPost, "/"+kind.Endpoint(), body)
	if err != nil {
		return "", err
	}

	var created struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		return "", &tally.RejectionError{Message: "create response has no id"}
	}
	id := serverID(created.ID)
	if id == "" {
		return "", &tally.RejectionError{Message: "create response has no id"}
	}
	return id, nil
}

// serverID accepts both string and numeric ids.
func serverID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Update replaces the entity stored under serverID.
func (r *HTTPRemote) Update(ctx context.Context, kind tally.Kind, serverID string, payload json.RawMessage, refs map[string]string) error {
	body, err := withRefs(payload, refs)
	if err != nil {
		return err
	}
	_, err = r.do(ctx, http.MethodPut, "/"+kind.Endpoint()+"/"+serverID, body)
	return err
}

// Delete removes the entity stored under serverID. A 404 means it is already
// gone and counts as success.
func (r *HTTPRemote) Delete(ctx context.Context, kind tally.Kind, serverID string) error {
	_, err := r.do(ctx, http.MethodDelete, "/"+kind.Endpoint()+"/"+serverID, nil)
	var rej *tally.RejectionError
	if errors.As(err, &rej) && rej.Status == http.StatusNotFound {
		return nil
	}
	return err
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token and starts sending it.
func (r *HTTPRemote) Login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		return "", fmt.Errorf("encoding credentials: %w", err)
	}

	env, err := r.do(ctx, http.MethodPost, "/auth/login", body)
	if err != nil {
		return "", err
	}

	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		return "", &tally.RejectionError{Message: "login response has no token"}
	}

	r.SetToken(data.Token)
	r.logger.Info("signed in", "username", username)
	return data.Token, nil
}

// Logout invalidates the token on the server and stops sending it.
func (r *HTTPRemote) Logout(ctx context.Context) error {
	_, err := r.do(ctx, http.MethodPost, "/auth/logout", nil)
	r.SetToken("")
	return err
}

// do sends one request and classifies the outcome.
func (r *HTTPRemote) do(ctx context.Context, method, path string, body []byte) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := r.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, tally.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: reading response: %w", method, path, tally.ErrConnectivity, err)
	}

	r.logger.Debug("remote call", "method", method, "path", path, "status", resp.StatusCode)

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s %s: %w", method, path, tally.ErrAuth)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s %s: %w: status %d", method, path, tally.ErrConnectivity, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &tally.RejectionError{Status: resp.StatusCode, Message: msg}
	case decodeErr != nil:
		return nil, fmt.Errorf("%s %s: %w: malformed response: %w", method, path, tally.ErrConnectivity, decodeErr)
	case !env.IsSuccess:
		return nil, &tally.RejectionError{Status: resp.StatusCode, Message: env.Message}
	}
	return &env, nil
}

// withRefs adds resolved reference fields to a JSON object payload.
func withRefs(payload json.RawMessage, refs map[string]string) ([]byte, error) {
	if len(refs) == 0 {
		return payload, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	if obj == nil {
		obj = make(map[string]json.RawMessage, len(refs))
	}
	for field, serverID := range refs {
		v, err := json.Marshal(serverID)
		if err != nil {
			return nil, fmt.Errorf("encoding reference %s: %w", field, err)
		}
		obj[field] = v
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return out, nil
}
