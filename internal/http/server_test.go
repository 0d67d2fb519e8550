package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fixd/internal/engine"
	"github.com/fyrsmithlabs/fixd/internal/logging"
)

// fakeEngine satisfies engine.Service with canned responses.
type fakeEngine struct {
	createErr error
	cancelErr error
	regenErr  error
	getErr    error

	session   *engine.FixSession
	createCtx context.Context
}

func (f *fakeEngine) CreateSession(ctx context.Context, req *engine.FixRequest) (*engine.FixSession, error) {
	f.createCtx = ctx
	if f.createErr != nil {
		return nil, f.createErr
	}
	if req.ProjectID == "" || req.IssueDescription == "" {
		return nil, errors.New("project_id and issue_description are required")
	}
	return f.session, nil
}

func (f *fakeEngine) RunSession(context.Context, string) (*engine.Result, error) {
	return engine.ResultOf(f.session), nil
}

func (f *fakeEngine) GetSession(context.Context, string) (*engine.FixSession, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.session, nil
}

func (f *fakeEngine) ListSessions(context.Context) ([]*engine.FixSession, error) {
	return []*engine.FixSession{f.session}, nil
}

func (f *fakeEngine) Cancel(context.Context, string) error { return f.cancelErr }

func (f *fakeEngine) Regenerate(context.Context, string) (*engine.FixSession, error) {
	if f.regenErr != nil {
		return nil, f.regenErr
	}
	return f.session, nil
}

func (f *fakeEngine) Start(context.Context) error { return nil }
func (f *fakeEngine) Close() error                { return nil }

func newTestServer(t *testing.T, eng *fakeEngine, cfg *Config) *Server {
	t.Helper()
	if eng.session == nil {
		eng.session = &engine.FixSession{
			ID:        "sess-1",
			ProjectID: "acme/api",
			Phase:     engine.PhaseAnalyzing,
		}
	}
	srv, err := NewServer(eng, zap.NewNop(), cfg)
	require.NoError(t, err)
	return srv
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(nil, zap.NewNop(), nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	rec := do(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestCreateSession(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	rec := do(srv, http.MethodPost, "/api/v1/sessions",
		`{"project_id":"acme/api","issue_description":"panic on expired token"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var got engine.FixSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "sess-1", got.ID)
}

func TestCreateSession_RequestIDReachesEngine(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, nil)
	rec := do(srv, http.MethodPost, "/api/v1/sessions",
		`{"project_id":"acme/api","issue_description":"panic on expired token"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.NotNil(t, eng.createCtx)
	reqID := logging.RequestIDFromContext(eng.createCtx)
	assert.NotEmpty(t, reqID)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), reqID)
}

func TestCreateSession_InvalidBody(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	rec := do(srv, http.MethodPost, "/api/v1/sessions", `{"project_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSession_QueueFull(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{createErr: engine.ErrQueueFull}, nil)
	rec := do(srv, http.MethodPost, "/api/v1/sessions",
		`{"project_id":"p","issue_description":"d"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateSession_RateLimited(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, &Config{Host: "localhost", Port: 0, SessionRateLimit: 2})

	body := `{"project_id":"p","issue_description":"d"}`
	assert.Equal(t, http.StatusAccepted, do(srv, http.MethodPost, "/api/v1/sessions", body).Code)
	assert.Equal(t, http.StatusAccepted, do(srv, http.MethodPost, "/api/v1/sessions", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(srv, http.MethodPost, "/api/v1/sessions", body).Code)
}

func TestGetSession(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	rec := do(srv, http.MethodGet, "/api/v1/sessions/sess-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetSession_NotFound(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{getErr: engine.ErrSessionNotFound}, nil)
	rec := do(srv, http.MethodGet, "/api/v1/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessions(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	rec := do(srv, http.MethodGet, "/api/v1/sessions", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var got []engine.FixSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 1)
}

func TestCancelSession(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	rec := do(srv, http.MethodPost, "/api/v1/sessions/sess-1/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCancelSession_Terminal(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{cancelErr: engine.ErrTerminalSession}, nil)
	rec := do(srv, http.MethodPost, "/api/v1/sessions/sess-1/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegenerateSession(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	rec := do(srv, http.MethodPost, "/api/v1/sessions/sess-1/regenerate", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRegenerateSession_LimitExceeded(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{regenErr: engine.ErrRegenerationLimit}, nil)
	rec := do(srv, http.MethodPost, "/api/v1/sessions/sess-1/regenerate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClientLimiter_DisabledAllowsAll(t *testing.T) {
	l := newClientLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("1.2.3.4"))
	}
}

func TestClientLimiter_PerClientBuckets(t *testing.T) {
	l := newClientLimiter(1)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}
