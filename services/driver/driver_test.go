package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/services/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownBrowser(t *testing.T) {
	_, err := New(Options{Browser: "netscape"})
	assert.ErrorIs(t, err, remote.ErrUnsupportedBrowser)
}

func TestNewAppliesDefaults(t *testing.T) {
	d, err := New(Options{Browser: models.BrowserEdge})
	require.NoError(t, err)

	opts := d.Options()
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Equal(t, 60*time.Minute, opts.PageLoadTimeout)
	assert.Equal(t, 100*time.Millisecond, opts.PollInterval)
	assert.Equal(t, "./", opts.ScreenshotDir)
	assert.Equal(t, models.SessionUnstarted, d.State())
	assert.Equal(t, -1, d.PID())
	assert.NotEmpty(t, d.ID())
}

func TestStartTracksProcessAndBecomesReady(t *testing.T) {
	h := newStartedHarness(t)

	assert.Equal(t, models.SessionReady, h.d.State())
	assert.Equal(t, testPID, h.d.PID())

	last := h.store.sessions[len(h.store.sessions)-1]
	assert.Equal(t, models.SessionReady, last.State)
	assert.Equal(t, testPID, last.PID)
	require.Len(t, last.Transitions, 2)
	assert.Equal(t, models.SessionUnstarted, last.Transitions[0].From)
	assert.Equal(t, models.SessionInstantiating, last.Transitions[0].To)
	assert.Equal(t, models.SessionReady, last.Transitions[1].To)
}

func TestOperationsBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.d.ClickElement(ctx, "//a"), ErrNotStarted)
	assert.ErrorIs(t, h.d.SwitchToTab(ctx, 0), ErrNotStarted)
	assert.False(t, h.d.CheckForElementState(ctx, "//a", models.StateVisible))
	assert.Nil(t, h.d.TakeScreenShot(ctx))
	assert.Equal(t, 0, h.sess.Finds)
}

func TestNavigateStartsLazily(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.d.NavigateToURL(context.Background(), "https://example.test/login"))

	assert.Equal(t, models.SessionReady, h.d.State())
	url, err := h.d.CurrentURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/login", url)
}

func TestNavigateUsesDefaultURL(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.DefaultURL = "https://example.test/home" })

	require.NoError(t, h.d.NavigateToURL(context.Background(), ""))

	url, err := h.d.CurrentURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/home", url)
}

func TestQuitIsIdempotentAndKillsProcessTree(t *testing.T) {
	h := newStartedHarness(t)
	ctx := context.Background()

	h.d.Quit(ctx)
	h.d.Quit(ctx)

	assert.Equal(t, models.SessionTerminated, h.d.State())
	assert.Equal(t, 1, h.sess.Quits)
	assert.Equal(t, []int{testPID}, h.table.terminated)
	assert.Equal(t, -1, h.d.PID())
	assert.ErrorIs(t, h.d.ClickElement(ctx, "//a"), ErrTerminated)
	assert.ErrorIs(t, h.d.Start(ctx), ErrTerminated)
}

func TestQuitKillsEvenWhenGracefulShutdownFails(t *testing.T) {
	h := newStartedHarness(t)
	h.sess.QuitErr = errors.New("connection reset")

	h.d.Quit(context.Background())

	assert.Equal(t, models.SessionTerminated, h.d.State())
	assert.Equal(t, []int{testPID}, h.table.terminated)
}

func TestQuitWithoutStart(t *testing.T) {
	h := newHarness(t)

	assert.NotPanics(t, func() { h.d.Quit(context.Background()) })

	assert.Equal(t, models.SessionTerminated, h.d.State())
	assert.Empty(t, h.table.terminated)
	assert.Equal(t, 0, h.sess.Quits)
}

func TestInstantiationFailureCleansUp(t *testing.T) {
	table := &fakeTable{}
	d, err := New(Options{Browser: models.BrowserChrome},
		WithClock(newStepClock()),
		WithPollInterval(0),
		WithProcessTable(table),
		WithFactory(failingFactory(777)),
	)
	require.NoError(t, err)

	err = d.NavigateToURL(context.Background(), "https://example.test")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "chrome exited during startup")
	assert.Equal(t, models.SessionTerminated, d.State())
	assert.Equal(t, []int{777}, table.terminated)

	d.Quit(context.Background())
	assert.Equal(t, []int{777}, table.terminated)
}

func TestUnsupportedBrowserFailsAtInstantiation(t *testing.T) {
	table := &fakeTable{}
	d, err := New(Options{Browser: models.BrowserFirefox}, WithProcessTable(table))
	require.NoError(t, err)

	err = d.Start(context.Background())

	assert.ErrorIs(t, err, remote.ErrUnsupportedBrowser)
	assert.Equal(t, models.SessionTerminated, d.State())
}

func TestRemoteBrowserRequiresHost(t *testing.T) {
	d, err := New(Options{Browser: models.BrowserRemoteChrome}, WithProcessTable(&fakeTable{}))
	require.NoError(t, err)

	err = d.Start(context.Background())

	assert.ErrorIs(t, err, remote.ErrMissingRemoteHost)
	assert.Equal(t, models.SessionTerminated, d.State())
}

func TestRestartTearsDownPreviousSession(t *testing.T) {
	h := newStartedHarness(t)

	require.NoError(t, h.d.Start(context.Background()))

	assert.Equal(t, models.SessionReady, h.d.State())
	assert.Equal(t, 1, h.sess.Quits)
	assert.Equal(t, []int{testPID}, h.table.terminated)
	assert.Equal(t, testPID, h.d.PID())
}

func TestForceKillWebDriver(t *testing.T) {
	h := newStartedHarness(t)

	h.d.ForceKillWebDriver(context.Background())
	h.d.ForceKillWebDriver(context.Background())

	assert.Equal(t, []int{testPID}, h.table.terminated)
	assert.Equal(t, -1, h.d.PID())
}

func TestSetTimeOutThreshold(t *testing.T) {
	h := newStartedHarness(t)

	h.d.SetTimeOutThreshold(2)
	start := h.clk.Mock.Now()
	err := h.d.ClickElement(context.Background(), "//missing")

	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.Less(t, h.clk.elapsed(start), 3*time.Second)

	h.d.SetTimeOutThreshold(0)
	assert.Equal(t, 2*time.Second, h.d.Options().Timeout)
}
