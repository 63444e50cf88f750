package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tally-go/internal/tally"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

// newTestServer serves every request with handler and records what it saw.
func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*HTTPRemote, func() []recorded) {
	t.Helper()

	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			json.Unmarshal(b, &rec.body)
		}
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	r := NewHTTPRemote(srv.URL+"/api/", time.Second, tally.NewNopLogger())
	return r, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), reqs...)
	}
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestHTTPRemote_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("returns data id and sends refs", func(t *testing.T) {
		r, reqs := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			reply(w, http.StatusCreated, `{"is_success": true, "data": {"id": 42}}`)
		})
		r.SetToken("tok")

		id, err := r.Create(ctx, tally.KindInvoice, json.RawMessage(`{"number":"INV-1"}`),
			map[string]string{"customer_server_id": "7"})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if id != "42" {
			t.Errorf("Create() id = %q, want 42", id)
		}

		got := reqs()[0]
		if got.method != http.MethodPost || got.path != "/api/invoices" {
			t.Errorf("request = %s %s, want POST /api/invoices", got.method, got.path)
		}
		if got.auth != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got.auth)
		}
		if got.body["customer_server_id"] != "7" || got.body["number"] != "INV-1" {
			t.Errorf("body = %v, want number and customer_server_id", got.body)
		}
	})

	t.Run("string id", func(t *testing.T) {
		r, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			reply(w, http.StatusOK, `{"is_success": true, "data": {"id": "c-9"}}`)
		})

		id, err := r.Create(ctx, tally.KindCustomer, json.RawMessage(`{"name":"Acme"}`), nil)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if id != "c-9" {
			t.Errorf("Create() id = %q, want c-9", id)
		}
	})

	t.Run("missing id is a rejection", func(t *testing.T) {
		r, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			reply(w, http.StatusOK, `{"is_success": true, "data": {}}`)
		})

		_, err := r.Create(ctx, tally.KindCustomer, json.RawMessage(`{"name":"Acme"}`), nil)
		if !errors.Is(err, tally.ErrRemoteRejection) {
			t.Errorf("Create() error = %v, want ErrRemoteRejection", err)
		}
	})
}

func TestHTTPRemote_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		wantMsg string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"is_success": false, "message": "expired"}`, tally.ErrAuth, ""},
		{"server error", http.StatusBadGateway, `bad gateway`, tally.ErrConnectivity, ""},
		{"validation", http.StatusUnprocessableEntity, `{"is_success": false, "message": "email taken"}`, tally.ErrRemoteRejection, "email taken"},
		{"4xx without envelope", http.StatusConflict, `conflict`, tally.ErrRemoteRejection, "Conflict"},
		{"is_success false", http.StatusOK, `{"is_success": false, "message": "duplicate number"}`, tally.ErrRemoteRejection, "duplicate number"},
		{"malformed 2xx", http.StatusOK, `<html>captive portal</html>`, tally.ErrConnectivity, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				reply(w, tt.status, tt.body)
			})

			err := r.Update(context.Background(), tally.KindCustomer, "1", json.RawMessage(`{"name":"Acme"}`), nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Update() error = %v, want %v", err, tt.want)
			}

			if tt.wantMsg != "" {
				var rej *tally.RejectionError
				if !errors.As(err, &rej) {
					t.Fatalf("Update() error = %T, want *RejectionError", err)
				}
				if rej.Message != tt.wantMsg {
					t.Errorf("Message = %q, want %q", rej.Message, tt.wantMsg)
				}
			}
		})
	}
}

func TestHTTPRemote_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	r := NewHTTPRemote(url, time.Second, tally.NewNopLogger())
	_, err := r.Create(context.Background(), tally.KindDealer, json.RawMessage(`{"name":"North"}`), nil)
	if !errors.Is(err, tally.ErrConnectivity) {
		t.Errorf("Create() error = %v, want ErrConnectivity", err)
	}
}

func TestHTTPRemote_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("sends delete", func(t *testing.T) {
		r, reqs := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			reply(w, http.StatusOK, `{"is_success": true}`)
		})

		if err := r.Delete(ctx, tally.KindBankAccount, "5"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		got := reqs()[0]
		if got.method != http.MethodDelete || got.path != "/api/bank_accounts/5" {
			t.Errorf("request = %s %s, want DELETE /api/bank_accounts/5", got.method, got.path)
		}
	})

	t.Run("not found counts as deleted", func(t *testing.T) {
		r, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			reply(w, http.StatusNotFound, `{"is_success": false, "message": "no such record"}`)
		})

		if err := r.Delete(ctx, tally.KindBankAccount, "5"); err != nil {
			t.Errorf("Delete() error = %v, want nil", err)
		}
	})
}

func TestHTTPRemote_LoginLogout(t *testing.T) {
	ctx := context.Background()

	r, reqs := newTestServer(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/auth/login":
			reply(w, http.StatusOK, `{"is_success": true, "data": {"token": "abc"}}`)
		default:
			reply(w, http.StatusOK, `{"is_success": true}`)
		}
	})

	token, err := r.Login(ctx, "ana", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token != "abc" {
		t.Errorf("Login() token = %q, want abc", token)
	}
	if reqs()[0].body["username"] != "ana" || reqs()[0].body["password"] != "secret" {
		t.Errorf("login body = %v, want credentials", reqs()[0].body)
	}

	if err := r.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if reqs()[1].auth != "Bearer abc" {
		t.Errorf("logout Authorization = %q, want Bearer abc", reqs()[1].auth)
	}
	if r.bearer() != "" {
		t.Errorf("token after Logout() = %q, want empty", r.bearer())
	}
}

func TestWithRefs(t *testing.T) {
	t.Run("no refs returns payload", func(t *testing.T) {
		in := json.RawMessage(`{"a":1}`)
		got, err := withRefs(in, nil)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != string(in) {
			t.Errorf("withRefs() = %s, want %s", got, in)
		}
	})

	t.Run("rejects non-object payload", func(t *testing.T) {
		if _, err := withRefs(json.RawMessage(`[1]`), map[string]string{"x": "1"}); err == nil {
			t.Error("withRefs() error = nil, want error")
		}
	})
}
