package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/services/remote"
	"github.com/browserwing/testingdriver/services/remote/remotetest"
	"github.com/stretchr/testify/require"
)

const testPID = 4242

// stepClock 每次读取时间都前进 step，保证轮询循环在测试中会结束
type stepClock struct {
	*clock.Mock
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{Mock: clock.NewMock(), step: 100 * time.Millisecond}
}

func (c *stepClock) Now() time.Time {
	c.Mock.Add(c.step)
	return c.Mock.Now()
}

func (c *stepClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// elapsed 从 start 起经过的时间，不推进时钟
func (c *stepClock) elapsed(start time.Time) time.Duration {
	return c.Mock.Now().Sub(start)
}

type fakeTable struct {
	terminated []int
}

func (f *fakeTable) Children(pid int) ([]int, error) { return nil, nil }

func (f *fakeTable) Terminate(pid int) error {
	f.terminated = append(f.terminated, pid)
	return nil
}

type memStore struct {
	sessions    []models.SessionRecord
	screenshots []*models.ScreenshotRecord
}

func (m *memStore) SaveSession(rec *models.SessionRecord) error {
	m.sessions = append(m.sessions, *rec)
	return nil
}

func (m *memStore) SaveScreenshot(rec *models.ScreenshotRecord) error {
	m.screenshots = append(m.screenshots, rec)
	return nil
}

type harness struct {
	d     *Driver
	sess  *remotetest.Session
	clk   *stepClock
	table *fakeTable
	store *memStore
}

func fakeFactory(sess remote.Session) Factory {
	return func(ctx context.Context, opts Options, track func(pid int)) (remote.Session, error) {
		track(testPID)
		return sess, nil
	}
}

func failingFactory(pid int) Factory {
	return func(ctx context.Context, opts Options, track func(pid int)) (remote.Session, error) {
		track(pid)
		return nil, errors.New("chrome exited during startup")
	}
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		sess:  remotetest.NewSession(),
		clk:   newStepClock(),
		table: &fakeTable{},
		store: &memStore{},
	}
	opts := Options{
		Browser:       models.BrowserChrome,
		Timeout:       5 * time.Second,
		ScreenshotDir: t.TempDir(),
		Headless:      true,
	}
	for _, m := range mutate {
		m(&opts)
	}
	d, err := New(opts,
		WithClock(h.clk),
		WithPollInterval(0),
		WithProcessTable(h.table),
		WithStore(h.store),
		WithFactory(fakeFactory(h.sess)),
	)
	require.NoError(t, err)
	h.d = d
	return h
}

func newStartedHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := newHarness(t, mutate...)
	require.NoError(t, h.d.Start(context.Background()))
	return h
}

func (h *harness) root() *remotetest.Document {
	return h.sess.Active().Root
}
