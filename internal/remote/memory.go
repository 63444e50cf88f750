package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tally-go/internal/tally"
)

// Op names a remote operation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Call describes one entity request received by a MemoryRemote.
type Call struct {
	Op       Op
	Kind     tally.Kind
	ServerID string
	Payload  json.RawMessage
}

// MemoryRemote is an in-process remote API. It keeps records in maps, issues
// signed tokens, and can be told to reject, drop, or refuse requests.
type MemoryRemote struct {
	clock    tally.Clock
	secret   []byte
	tokenTTL time.Duration

	mu        sync.Mutex
	records   map[tally.Kind]map[string]json.RawMessage
	nextID    int
	issued    int
	users     map[string]string
	token     string
	revoked   map[string]bool
	offline   bool
	intercept func(Call) error
	calls     []Call
}

var _ tally.Remote = (*MemoryRemote)(nil)

// NewMemoryRemote creates an empty in-process remote.
func NewMemoryRemote(clock tally.Clock) *MemoryRemote {
	return &MemoryRemote{
		clock:    clock,
		secret:   []byte("tally-memory-remote"),
		tokenTTL: 24 * time.Hour,
		records:  make(map[tally.Kind]map[string]json.RawMessage),
		users:    make(map[string]string),
		revoked:  make(map[string]bool),
	}
}

// AddUser registers credentials. With no users registered any non-empty
// username is accepted.
func (m *MemoryRemote) AddUser(username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[username] = password
}

// SetTokenTTL sets the lifetime of tokens issued by Login.
func (m *MemoryRemote) SetTokenTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenTTL = ttl
}

// SetOffline makes every request fail with tally.ErrConnectivity.
func (m *MemoryRemote) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Intercept installs fn to run before each entity request. A non-nil error is
// returned to the caller and the request is not applied. fn runs with the
// remote locked and must not call back into it.
func (m *MemoryRemote) Intercept(fn func(Call) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intercept = fn
}

// RevokeToken invalidates the current token so later requests fail with
// tally.ErrAuth.
func (m *MemoryRemote) RevokeToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[m.token] = true
}

// SetToken sets the token presented with subsequent requests.
func (m *MemoryRemote) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// Login checks credentials and returns a signed token carrying an expiry.
func (m *MemoryRemote) Login(ctx context.Context, username, password string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offline {
		return "", fmt.Errorf("login: %w", tally.ErrConnectivity)
	}
	if username == "" {
		return "", &tally.RejectionError{Status: 400, Message: "username required"}
	}
	if len(m.users) > 0 {
		if want, ok := m.users[username]; !ok || want != password {
			return "", fmt.Errorf("login %s: %w", username, tally.ErrAuth)
		}
	}

	now := m.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		ID:        fmt.Sprintf("%d", m.issued),
	}
	m.issued++

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	m.token = token
	return token, nil
}

// Logout revokes the current token.
func (m *MemoryRemote) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offline {
		return fmt.Errorf("logout: %w", tally.ErrConnectivity)
	}
	if m.token != "" {
		m.revoked[m.token] = true
	}
	m.token = ""
	return nil
}

// Create stores payload under a new numeric server id.
func (m *MemoryRemote) Create(ctx context.Context, kind tally.Kind, payload json.RawMessage, refs map[string]string) (string, error) {
	body, err := withRefs(payload, refs)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.admit(Call{Op: OpCreate, Kind: kind, Payload: body}); err != nil {
		return "", err
	}

	m.nextID++
	id := fmt.Sprintf("%d", m.nextID)
	m.table(kind)[id] = body
	return id, nil
}

// Update replaces the record stored under serverID.
func (m *MemoryRemote) Update(ctx context.Context, kind tally.Kind, serverID string, payload json.RawMessage, refs map[string]string) error {
	body, err := withRefs(payload, refs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.admit(Call{Op: OpUpdate, Kind: kind, ServerID: serverID, Payload: body}); err != nil {
		return err
	}

	records := m.table(kind)
	if _, ok := records[serverID]; !ok {
		return &tally.RejectionError{Status: 404, Message: fmt.Sprintf("%s %s not found", kind, serverID)}
	}
	records[serverID] = body
	return nil
}

// Delete removes the record stored under serverID, if any.
func (m *MemoryRemote) Delete(ctx context.Context, kind tally.Kind, serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.admit(Call{Op: OpDelete, Kind: kind, ServerID: serverID}); err != nil {
		return err
	}
	delete(m.table(kind), serverID)
	return nil
}

// admit applies connectivity, auth, and interceptor checks. Caller holds mu.
func (m *MemoryRemote) admit(call Call) error {
	if m.offline {
		return fmt.Errorf("%s %s: %w", call.Op, call.Kind, tally.ErrConnectivity)
	}
	if m.token == "" || m.revoked[m.token] {
		return fmt.Errorf("%s %s: %w", call.Op, call.Kind, tally.ErrAuth)
	}
	m.calls = append(m.calls, call)
	if m.intercept != nil {
		if err := m.intercept(call); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryRemote) table(kind tally.Kind) map[string]json.RawMessage {
	records, ok := m.records[kind]
	if !ok {
		records = make(map[string]json.RawMessage)
		m.records[kind] = records
	}
	return records
}

// Records returns a copy of the stored records of kind keyed by server id.
func (m *MemoryRemote) Records(kind tally.Kind) map[string]json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]json.RawMessage, len(m.records[kind]))
	for id, body := range m.records[kind] {
		out[id] = body
	}
	return out
}

// Calls returns the entity requests received so far, in order.
func (m *MemoryRemote) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}
