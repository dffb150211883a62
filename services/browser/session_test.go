package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/services/remote"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = `<html><body>
<a id="first" href="/a">A</a>
<a id="second" href="javascript:void(0)">B</a>
<input id="name" readonly value="fixed">
<select id="letters"><option>A</option><option>B</option><option>C</option></select>
<button id="warn" onclick="alert('x')">warn</button>
<iframe id="inner" srcdoc="<p id='deep'>inside</p>"></iframe>
</body></html>`

func launchTestSession(t *testing.T, mutate ...func(*LaunchOptions)) (*Session, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chrome/Chromium available")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testPage))
	}))
	t.Cleanup(srv.Close)

	opts := LaunchOptions{
		Kind:            models.BrowserChrome,
		BinPath:         bin,
		Headless:        true,
		PageLoadTimeout: 30 * time.Second,
	}
	for _, m := range mutate {
		m(&opts)
	}

	var pid int
	s, err := Launch(context.Background(), opts, func(p int) { pid = p })
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Quit() })
	assert.Greater(t, pid, 0)

	require.NoError(t, s.Navigate(srv.URL))
	return s, srv.URL
}

func TestLaunchRejectsUnsupportedBrowser(t *testing.T) {
	_, err := Launch(context.Background(), LaunchOptions{Kind: models.BrowserFirefox}, nil)
	assert.ErrorIs(t, err, remote.ErrUnsupportedBrowser)
}

func stubEdgeLookup(t *testing.T, path string, ok bool) {
	t.Helper()
	orig := lookEdge
	lookEdge = func() (string, bool) { return path, ok }
	t.Cleanup(func() { lookEdge = orig })
}

func TestLaunchEdgeWithoutBinaryFails(t *testing.T) {
	stubEdgeLookup(t, "", false)

	_, err := Launch(context.Background(), LaunchOptions{Kind: models.BrowserEdge, Headless: true}, nil)

	assert.ErrorIs(t, err, ErrEdgeNotFound)
}

func TestResolveBinPicksEdgeForEdge(t *testing.T) {
	stubEdgeLookup(t, "/opt/microsoft/msedge/msedge", true)

	bin, err := resolveBin(LaunchOptions{Kind: models.BrowserEdge})
	require.NoError(t, err)
	assert.Equal(t, "/opt/microsoft/msedge/msedge", bin)

	bin, err = resolveBin(LaunchOptions{Kind: models.BrowserEdge, BinPath: "/custom/msedge"})
	require.NoError(t, err)
	assert.Equal(t, "/custom/msedge", bin)

	bin, err = resolveBin(LaunchOptions{Kind: models.BrowserChrome})
	require.NoError(t, err)
	assert.Empty(t, bin)
}

func TestLaunchRemoteRequiresHost(t *testing.T) {
	_, err := Launch(context.Background(), LaunchOptions{Kind: models.BrowserRemoteChrome}, nil)
	assert.ErrorIs(t, err, remote.ErrMissingRemoteHost)
}

func TestSessionFindAndInspect(t *testing.T) {
	s, _ := launchTestSession(t)

	els, err := s.FindElements("//a")
	require.NoError(t, err)
	require.Len(t, els, 2)

	none, err := s.FindElements("//table")
	require.NoError(t, err)
	assert.Empty(t, none)

	input, err := s.FindElements("//input[@id='name']")
	require.NoError(t, err)
	require.Len(t, input, 1)
	_, readonly, err := input[0].Attribute("readonly")
	require.NoError(t, err)
	assert.True(t, readonly)

	sel, err := s.FindElements("//select")
	require.NoError(t, err)
	opts, err := sel[0].Options()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, opts)
}

func TestSessionScriptReceivesCandidates(t *testing.T) {
	s, _ := launchTestSession(t)

	els, err := s.FindElements("//a")
	require.NoError(t, err)

	res, err := s.ExecuteScript("return arguments[0][1];", els)
	require.NoError(t, err)
	el, ok := res.(remote.Element)
	require.True(t, ok)
	text, err := el.Text()
	require.NoError(t, err)
	assert.Equal(t, "B", text)

	n, err := s.ExecuteScript("return arguments[0] + arguments[1];", 2, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func TestSessionFrameRoundTrip(t *testing.T) {
	s, _ := launchTestSession(t)

	require.NoError(t, s.SwitchToFrame("//iframe[@id='inner']"))
	deep, err := s.FindElements("//p[@id='deep']")
	require.NoError(t, err)
	assert.Len(t, deep, 1)

	require.NoError(t, s.SwitchToDefaultContent())
	top, err := s.FindElements("//a[@id='first']")
	require.NoError(t, err)
	assert.Len(t, top, 1)

	err = s.SwitchToFrame("//iframe[@id='missing']")
	assert.ErrorIs(t, err, remote.ErrNoSuchFrame)
}

func TestSessionAlertTracking(t *testing.T) {
	s, _ := launchTestSession(t)

	assert.ErrorIs(t, s.AcceptAlert(), remote.ErrNoAlert)

	_, err := s.ExecuteScript("setTimeout(function() { alert('hello'); }, 10);")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		text, err := s.AlertText()
		return err == nil && text == "hello"
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, s.AcceptAlert())
	_, err = s.AlertText()
	assert.ErrorIs(t, err, remote.ErrNoAlert)
}

func TestClickThatOpensAlertReturns(t *testing.T) {
	s, _ := launchTestSession(t, func(o *LaunchOptions) { o.ActionTimeout = 10 * time.Second })

	els, err := s.FindElements("//button[@id='warn']")
	require.NoError(t, err)
	require.Len(t, els, 1)

	start := time.Now()
	require.NoError(t, els[0].Click())
	assert.Less(t, time.Since(start), 5*time.Second)

	text, err := s.AlertText()
	require.NoError(t, err)
	assert.Equal(t, "x", text)
	require.NoError(t, s.AcceptAlert())
}

func TestScriptIsBoundedByActionTimeout(t *testing.T) {
	s, _ := launchTestSession(t, func(o *LaunchOptions) { o.ActionTimeout = 300 * time.Millisecond })

	start := time.Now()
	_, err := s.ExecuteScript("const end = Date.now() + 3000; while (Date.now() < end) {}")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
