package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mfcabral/streambridge/internal/api"
	"github.com/mfcabral/streambridge/internal/eventbus"
	"github.com/mfcabral/streambridge/internal/session"
	"github.com/mfcabral/streambridge/internal/worker"
)

type flowFixture struct {
	flow   *Flow
	store  *Store
	client *api.Client
	events chan *eventbus.Event
}

func newFlowFixture(t *testing.T, remote http.HandlerFunc) *flowFixture {
	t.Helper()

	bus := eventbus.New()
	client := api.NewClient("http://unused", zap.NewNop())
	if remote != nil {
		srv := httptest.NewServer(remote)
		t.Cleanup(srv.Close)
		client = api.NewClient(srv.URL, zap.NewNop())
	}

	m := session.New(session.Deps{
		Client:       client,
		Bus:          bus,
		Pool:         worker.NewPool(1),
		Logger:       zap.NewNop(),
		CreateParams: func() (string, map[string]any) { return "", nil },
	})
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(cancel)

	store := NewStore(zap.NewNop(), t.TempDir(), 0)
	return &flowFixture{
		flow:   NewFlow(zap.NewNop(), store, client, m, "https://app.example/login", 8092),
		store:  store,
		client: client,
		events: bus.Subscribe(),
	}
}

func (f *flowFixture) waitEvent(t *testing.T, kind string) *eventbus.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-f.events:
			if ev.Type == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

// beginLogin starts a handshake and returns the issued nonce.
func (f *flowFixture) beginLogin(t *testing.T) string {
	t.Helper()
	url, err := f.flow.BeginLogin()
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	idx := strings.LastIndex(url, "state=")
	if idx < 0 {
		t.Fatalf("no state in login url: %s", url)
	}
	return url[idx+len("state="):]
}

func TestBeginLoginURLShape(t *testing.T) {
	f := newFlowFixture(t, nil)

	url, err := f.flow.BeginLogin()
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	if !strings.HasPrefix(url, "https://app.example/login?port=8092&state=") {
		t.Fatalf("unexpected login url: %s", url)
	}
	if !f.flow.Pending() {
		t.Fatal("pending flag must be set after BeginLogin")
	}
	f.waitEvent(t, "login_started")
}

func TestCallbackWithoutTokenFails(t *testing.T) {
	f := newFlowFixture(t, nil)
	f.beginLogin(t)

	err := f.flow.HandleCallback(context.Background(), "", "whatever")
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if f.flow.Pending() {
		t.Fatal("pending flag must clear on failure")
	}
	f.waitEvent(t, "login_failed")
}

func TestCallbackWithBadNonceFails(t *testing.T) {
	f := newFlowFixture(t, nil)
	f.beginLogin(t)

	err := f.flow.HandleCallback(context.Background(), "jwt-token", "forged")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if f.flow.Pending() {
		t.Fatal("pending flag must clear on failure")
	}
}

func TestCallbackNonceIsSingleUse(t *testing.T) {
	f := newFlowFixture(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"apiKey":"sk-durable"}`)
	})
	nonce := f.beginLogin(t)

	if err := f.flow.HandleCallback(context.Background(), "jwt-token", nonce); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	err := f.flow.HandleCallback(context.Background(), "jwt-token", nonce)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("replayed nonce must fail, got %v", err)
	}
}

func TestCallbackSuccessPersistsAndActivatesKey(t *testing.T) {
	f := newFlowFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api-key" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer jwt-token" {
			t.Errorf("unexpected auth header %q", auth)
		}
		io.WriteString(w, `{"apiKey":"sk-durable"}`)
	})
	nonce := f.beginLogin(t)

	if err := f.flow.HandleCallback(context.Background(), "jwt-token", nonce); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if f.flow.Pending() {
		t.Fatal("pending flag must clear on success")
	}
	if got := f.client.Token(); got != "sk-durable" {
		t.Fatalf("client token not activated: %q", got)
	}
	key, err := f.store.LoadAPIKey()
	if err != nil || key != "sk-durable" {
		t.Fatalf("key not persisted: %q %v", key, err)
	}
	f.waitEvent(t, "login_success")
}

func TestCallbackExchangeFailureClearsPending(t *testing.T) {
	f := newFlowFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"detail":"token expired"}`)
	})
	nonce := f.beginLogin(t)

	err := f.flow.HandleCallback(context.Background(), "jwt-token", nonce)
	if err == nil {
		t.Fatal("expected exchange failure")
	}
	var remoteErr *api.RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 RemoteError, got %v", err)
	}
	if f.flow.Pending() {
		t.Fatal("pending flag must clear on exchange failure")
	}
	if f.client.Token() != "" {
		t.Fatal("failed exchange must not set a token")
	}
	f.waitEvent(t, "login_failed")
}
