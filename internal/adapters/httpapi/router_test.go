package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearby/hearby/internal/config"
	"github.com/hearby/hearby/internal/core"
	"github.com/hearby/hearby/internal/domain"
)

type fakeTransport struct {
	channel domain.Channel
	userID  domain.UserID
	muted   bool
	joinErr error
	left    bool
}

func (f *fakeTransport) Mode() core.TransportMode { return core.TransportP2P }

func (f *fakeTransport) Join(_ context.Context, ch domain.Channel, id domain.UserID) error {
	if f.joinErr != nil {
		return f.joinErr
	}
	f.channel = ch
	f.userID = id
	return nil
}

func (f *fakeTransport) Leave(context.Context) {
	f.left = true
	f.channel = ""
}

func (f *fakeTransport) MuteLocal(mute bool) { f.muted = mute }
func (f *fakeTransport) Muted() bool { return f.muted }

func (f *fakeTransport) Channel() (domain.Channel, bool) {
	return f.channel, f.channel != ""
}

func (f *fakeTransport) RemoteStream() *core.RemoteStream { return nil }
func (f *fakeTransport) Peers() []core.PeerStatus { return nil }
func (f *fakeTransport) OnStateChange(func(core.StateEvent)) {}
func (f *fakeTransport) OnRemoteStream(func(*core.RemoteStream)) {}

func newTestRouter(tr core.Transport) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Mode: "release"}
	return SetupRouter(context.Background(), cfg, tr, NewEventHub(time.Minute))
}

func do(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJoinGeneratesUserID(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRouter(tr)

	w := do(t, r, http.MethodPost, "/api/join", `{"channel":"general_9q8yy"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["user_id"] == "" {
		t.Fatal("no user id assigned")
	}
	if tr.channel != "general_9q8yy" {
		t.Fatalf("transport channel = %q", tr.channel)
	}
	if string(tr.userID) != resp["user_id"] {
		t.Fatal("response user id does not match the one passed to the transport")
	}
}

func TestJoinValidation(t *testing.T) {
	r := newTestRouter(&fakeTransport{})

	if w := do(t, r, http.MethodPost, "/api/join", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing channel accepted, status = %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/join", `not-json`); w.Code != http.StatusBadRequest {
		t.Fatalf("garbage payload accepted, status = %d", w.Code)
	}
}

func TestJoinFailurePropagates(t *testing.T) {
	tr := &fakeTransport{joinErr: errors.New("no microphone")}
	r := newTestRouter(tr)

	w := do(t, r, http.MethodPost, "/api/join", `{"channel":"general_9q8yy"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestMuteAndLeave(t *testing.T) {
	tr := &fakeTransport{channel: "general_9q8yy"}
	r := newTestRouter(tr)

	w := do(t, r, http.MethodPost, "/api/mute", `{"mute":true}`)
	if w.Code != http.StatusOK || !tr.muted {
		t.Fatalf("mute failed, status = %d muted = %v", w.Code, tr.muted)
	}
	if w := do(t, r, http.MethodPost, "/api/mute", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("mute without flag accepted, status = %d", w.Code)
	}

	if w := do(t, r, http.MethodPost, "/api/leave", ""); w.Code != http.StatusOK || !tr.left {
		t.Fatalf("leave failed, status = %d left = %v", w.Code, tr.left)
	}
}

func TestStateReflectsTransport(t *testing.T) {
	tr := &fakeTransport{channel: "general_9q8yy", muted: true}
	r := newTestRouter(tr)

	w := do(t, r, http.MethodGet, "/api/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Transport string `json:"transport"`
		Channel   string `json:"channel"`
		Joined    bool   `json:"joined"`
		Muted     bool   `json:"muted"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Transport != "p2p" || !resp.Joined || !resp.Muted || resp.Channel != "general_9q8yy" {
		t.Fatalf("state = %+v", resp)
	}
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(&fakeTransport{})
	if w := do(t, r, http.MethodGet, "/api/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
