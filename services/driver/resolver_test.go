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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAttemptBudgetIgnoresTime(t *testing.T) {
	sess := remotetest.NewSession()
	clk := newStepClock()
	clk.step = time.Hour
	r := NewResolver(clk, 0)

	el, ok := r.Resolve(context.Background(), sess, "//missing", "", models.WaitBudget{Attempts: 3})

	assert.False(t, ok)
	assert.Nil(t, el)
	assert.Equal(t, 3, sess.Finds)
}

func TestResolveTimeBudget(t *testing.T) {
	sess := remotetest.NewSession()
	clk := newStepClock()
	r := NewResolver(clk, 0)

	start := clk.Mock.Now()
	_, ok := r.Resolve(context.Background(), sess, "//missing", "", models.WaitBudget{Timeout: 2 * time.Second})

	assert.False(t, ok)
	assert.GreaterOrEqual(t, clk.elapsed(start), 2*time.Second)
	assert.Less(t, clk.elapsed(start), 3*time.Second)
}

func TestResolveSwallowsTransientErrors(t *testing.T) {
	sess := remotetest.NewSession()
	want := remotetest.Visible("target")
	sess.Active().Root.Put("//div", want)
	calls := 0
	sess.FindErr = func(locator string) error {
		calls++
		if calls <= 2 {
			return remote.ErrStaleElement
		}
		return nil
	}
	r := NewResolver(newStepClock(), 0)

	el, ok := r.Resolve(context.Background(), sess, "//div", "", models.WaitBudget{Timeout: 5 * time.Second})

	require.True(t, ok)
	assert.Same(t, want, el)
	assert.Equal(t, 3, sess.Finds)
}

func TestResolveKeepsRetryingAfterUnexpectedError(t *testing.T) {
	sess := remotetest.NewSession()
	want := remotetest.Visible("target")
	calls := 0
	sess.FindErr = func(locator string) error {
		calls++
		if calls < 4 {
			return errors.New("websocket hiccup")
		}
		sess.Active().Root.Put("//div", want)
		return nil
	}
	r := NewResolver(newStepClock(), 0)

	el, ok := r.Resolve(context.Background(), sess, "//div", "", models.WaitBudget{Timeout: 5 * time.Second})

	require.True(t, ok)
	assert.Same(t, want, el)
}

func TestResolveFilterScriptNarrowsCandidates(t *testing.T) {
	sess := remotetest.NewSession()
	first, second := remotetest.Visible("first"), remotetest.Visible("second")
	sess.Active().Root.Put("//li", first, second)
	var got []remote.Element
	sess.Script = func(script string, args ...any) (any, error) {
		got = args[0].([]remote.Element)
		return got[1], nil
	}
	r := NewResolver(newStepClock(), 0)

	el, ok := r.Resolve(context.Background(), sess, "//li", "return arguments[0][1];", models.WaitBudget{Attempts: 1})

	require.True(t, ok)
	assert.Same(t, second, el)
	assert.Len(t, got, 2)
	assert.Equal(t, []string{"return arguments[0][1];"}, sess.Scripts)
}

func TestResolveFilterReturningNothingIsNotFound(t *testing.T) {
	sess := remotetest.NewSession()
	sess.Active().Root.Put("//li", remotetest.Visible("only"))
	sess.Script = func(script string, args ...any) (any, error) { return nil, nil }
	r := NewResolver(newStepClock(), 0)

	_, ok := r.Resolve(context.Background(), sess, "//li", "return null;", models.WaitBudget{Attempts: 2})

	assert.False(t, ok)
}

func TestResolveRunsPreWaitFirst(t *testing.T) {
	sess := remotetest.NewSession()
	sess.Active().Root.Put("//div", remotetest.Visible("div"))
	r := NewResolver(newStepClock(), 0)
	var order []string
	r.preWait = func(ctx context.Context, s remote.Session) { order = append(order, "prewait") }
	sess.BeforeFind = func(locator string) { order = append(order, "find") }

	_, ok := r.Resolve(context.Background(), sess, "//div", "", models.WaitBudget{Attempts: 1})

	require.True(t, ok)
	assert.Equal(t, []string{"prewait", "find"}, order)
}

func TestResolveStopsOnCancelledContext(t *testing.T) {
	sess := remotetest.NewSession()
	r := NewResolver(newStepClock(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := r.Resolve(ctx, sess, "//missing", "", models.WaitBudget{Timeout: time.Hour})

	assert.False(t, ok)
	assert.Equal(t, 1, sess.Finds)
}

func TestResolveWaitsOnClockBetweenAttempts(t *testing.T) {
	sess := remotetest.NewSession()
	want := remotetest.Visible("late")
	sess.BeforeFind = func(locator string) {
		if sess.Finds == 3 {
			sess.Active().Root.Put("//div", want)
		}
	}
	mock := clock.NewMock()
	r := NewResolver(mock, 100*time.Millisecond)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				mock.Add(10 * time.Millisecond)
			}
		}
	}()

	start := mock.Now()
	el, ok := r.Resolve(context.Background(), sess, "//div", "", models.WaitBudget{Attempts: 5})

	require.True(t, ok)
	assert.Same(t, want, el)
	assert.Equal(t, 3, sess.Finds)
	assert.GreaterOrEqual(t, mock.Now().Sub(start), 200*time.Millisecond)
}

func TestResolvePauseEndsOnCancel(t *testing.T) {
	sess := remotetest.NewSession()
	r := NewResolver(clock.NewMock(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, ok := r.Resolve(ctx, sess, "//missing", "", models.WaitBudget{Attempts: 10})

	assert.False(t, ok)
	assert.Equal(t, 1, sess.Finds)
}
