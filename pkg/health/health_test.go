package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type probe struct {
	status int
	state  string
	checks map[string]string
}

func serve(t *testing.T, endpoint http.HandlerFunc) probe {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	p := probe{status: w.Code, checks: map[string]string{}}
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			p.state = s
			return err
		case "checks":
			return d.Obj(func(d *jx.Decoder, name string) error {
				msg, err := d.Str()
				p.checks[name] = msg
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return p
}

func TestLiveEndpoint(t *testing.T) {
	ctx := context.Background()
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, ok)
	h.AddLivenessCheck("db", time.Second, failing("connection refused"))

	// Checks start healthy.
	p := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, p.status)
	assert.Equal(t, "ok", p.state)

	for i := 0; i < DefaultThresholds.FailureThreshold-1; i++ {
		h.liveness[1].run(ctx)
	}
	assert.Equal(t, http.StatusOK, serve(t, h.LiveEndpoint).status)

	h.liveness[1].run(ctx)
	p = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, p.status)
	assert.Equal(t, "unhealthy", p.state)
	assert.Equal(t, map[string]string{"db": "connection refused"}, p.checks)
}

func TestReadyEndpoint(t *testing.T) {
	ctx := context.Background()
	h := New()
	h.AddReadinessCheckWith("postgres", time.Second, failing("down"), Thresholds{FailureThreshold: 1, SuccessThreshold: 1})

	p := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, p.status)
	assert.Contains(t, p.checks, "_readiness")
	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.True(t, h.IsReady())
	assert.Equal(t, http.StatusOK, serve(t, h.ReadyEndpoint).status)

	h.readiness[0].run(ctx)
	p = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, p.status)
	assert.Equal(t, map[string]string{"postgres": "down"}, p.checks)
	assert.False(t, h.IsReady())
}

func TestCheck_Recovers(t *testing.T) {
	ctx := context.Background()
	var fail bool
	c := newCheck("flaky", time.Second, func(context.Context) error {
		if fail {
			return errors.New("flaky")
		}
		return nil
	}, Thresholds{FailureThreshold: 2, SuccessThreshold: 2})

	fail = true
	c.run(ctx)
	assert.Empty(t, c.failure())
	c.run(ctx)
	assert.Equal(t, "flaky", c.failure())

	fail = false
	c.run(ctx)
	assert.NotEmpty(t, c.failure(), "one success is below the threshold")
	c.run(ctx)
	assert.Empty(t, c.failure())
}

func TestCheck_Timeout(t *testing.T) {
	c := newCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, Thresholds{FailureThreshold: 1, SuccessThreshold: 1})

	c.run(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), c.failure())
}

func TestStartStop(t *testing.T) {
	h := New()
	h.AddReadinessCheckWith("db", time.Second, failing("down"), Thresholds{FailureThreshold: 1, SuccessThreshold: 1})
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type closer struct{ closed *bool }

func (c closer) Close() error {
	*c.closed = true
	return nil
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, PingCheck(pinger{})(ctx))
	require.Error(t, PingCheck(pinger{err: errors.New("refused")})(ctx))

	var closed bool
	dial := DialCheck(func(context.Context) (interface{ Close() error }, error) {
		return closer{closed: &closed}, nil
	})
	require.NoError(t, dial(ctx))
	assert.True(t, closed)

	require.NoError(t, GoroutineCountCheck(1_000_000)(ctx))
	require.Error(t, GoroutineCountCheck(0)(ctx))
	require.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))
}
