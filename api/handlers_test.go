package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/browserwing/testingdriver/config"
	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/services/driver"
	"github.com/browserwing/testingdriver/services/remote"
	"github.com/browserwing/testingdriver/services/remote/remotetest"
	"github.com/browserwing/testingdriver/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTable struct{}

func (nopTable) Children(pid int) ([]int, error) { return nil, nil }
func (nopTable) Terminate(pid int) error         { return nil }

type testServer struct {
	router http.Handler
	db     *storage.BoltDB
	sess   *remotetest.Session
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ts := &testServer{db: db}
	shots := t.TempDir()
	drivers := driver.NewManager(func() (*driver.Driver, error) {
		ts.sess = remotetest.NewSession()
		return driver.New(driver.Options{
			Browser:       models.BrowserChrome,
			Timeout:       200 * time.Millisecond,
			ScreenshotDir: shots,
			Headless:      true,
		},
			driver.WithPollInterval(0),
			driver.WithProcessTable(nopTable{}),
			driver.WithStore(db),
			driver.WithFactory(func(ctx context.Context, opts driver.Options, track func(pid int)) (remote.Session, error) {
				track(1234)
				return ts.sess, nil
			}),
		)
	})

	ts.router = SetupRouter(NewHandler(db, drivers, config.Default()), nil, false)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestHealthAndTraceID(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))

	w, _ = ts.do(t, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestNavigateAndReadURL(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodPost, "/api/v1/driver/navigate", gin.H{"url": "https://example.test/login"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := ts.do(t, http.MethodGet, "/api/v1/driver/url", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://example.test/login", body["result"])

	w, body = ts.do(t, http.MethodGet, "/api/v1/driver/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["is_running"])
	assert.Equal(t, string(models.SessionReady), body["state"])
}

func TestClickAndPopulate(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/driver/start", nil)
	button := remotetest.Visible("submit")
	input := remotetest.Visible("user")
	ts.sess.Active().Root.Put("//button", button)
	ts.sess.Active().Root.Put("//input", input)

	w, _ := ts.do(t, http.MethodPost, "/api/v1/driver/click", gin.H{"locator": "//button"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, button.Clicks)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/driver/populate", gin.H{"locator": "//input", "value": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", input.Typed)
}

func TestMissingElementIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/driver/start", nil)

	w, body := ts.do(t, http.MethodPost, "/api/v1/driver/click", gin.H{"locator": "//missing", "timeout_ms": 50})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, body["error"], "//missing")
}

func TestLocatorIsRequired(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodPost, "/api/v1/driver/click", gin.H{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestElementStateAndVerify(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/driver/start", nil)
	heading := remotetest.Visible("h1")
	heading.TextValue = "Dashboard"
	ts.sess.Active().Root.Put("//h1", heading)

	_, body := ts.do(t, http.MethodPost, "/api/v1/driver/element/state", gin.H{"locator": "//h1", "state": "visible"})
	assert.Equal(t, true, body["result"])

	_, body = ts.do(t, http.MethodPost, "/api/v1/driver/element/state", gin.H{"locator": "//h1", "state": "invisible"})
	assert.Equal(t, false, body["result"])

	_, body = ts.do(t, http.MethodPost, "/api/v1/driver/verify/text", gin.H{"locator": "//h1", "expected": "Dashboard"})
	assert.Equal(t, true, body["result"])

	w, _ := ts.do(t, http.MethodPost, "/api/v1/driver/element/state", gin.H{"locator": "//h1", "state": "sparkly"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/driver/element/state", gin.H{"locator": "//gone", "state": "visible", "wait": true, "timeout_ms": 50})
	assert.Equal(t, http.StatusRequestTimeout, w.Code)
}

func TestOperationsAfterQuitConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/driver/start", nil)

	w, _ := ts.do(t, http.MethodPost, "/api/v1/driver/quit", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/driver/click", gin.H{"locator": "//a"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSessionsAreRecorded(t *testing.T) {
	ts := newTestServer(t)
	_, status := ts.do(t, http.MethodPost, "/api/v1/driver/start", nil)
	id := status["status"].(map[string]any)["session_id"].(string)

	w, body := ts.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])

	w, body = ts.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1234), body["pid"])
	assert.Equal(t, string(models.SessionReady), body["state"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScreenshotIsStoredAndListed(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/driver/start", nil)

	w, body := ts.do(t, http.MethodPost, "/api/v1/driver/screenshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	shot := body["result"].(map[string]any)
	assert.Equal(t, "image/png", shot["mime_type"])

	w, body = ts.do(t, http.MethodGet, "/api/v1/screenshots?session_id="+shot["session_id"].(string), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/screenshots/"+shot["id"].(string), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, remotetest.PNG, w.Body.Bytes())
}

func TestAlertEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/driver/start", nil)

	w, _ := ts.do(t, http.MethodGet, "/api/v1/driver/alert/text", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	ts.sess.Alert = &remotetest.Alert{Text: "Are you sure?"}
	_, body := ts.do(t, http.MethodGet, "/api/v1/driver/alert/text", nil)
	assert.Equal(t, "Are you sure?", body["result"])

	w, _ = ts.do(t, http.MethodPost, "/api/v1/driver/alert/accept", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, ts.sess.Alert)
}
