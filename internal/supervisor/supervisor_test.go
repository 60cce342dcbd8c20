package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"intraday_trader/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Notify(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestRestartsAfterPanic(t *testing.T) {
	n := &recorder{}
	m := metrics.New("test", prometheus.NewRegistry())
	s := New(5, time.Millisecond, n, m)

	var runs atomic.Int32
	recovered := make(chan struct{})
	s.Add("monitor", func(ctx context.Context) error {
		if runs.Add(1) <= 2 {
			panic("nil quote")
		}
		close(recovered)
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-recovered:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not restarted")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int32(3), runs.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TaskRestarts.WithLabelValues("monitor")))
	msgs := n.all()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "monitor loop stopped (panic: nil quote)")
	assert.NotContains(t, msgs[0], "goroutine", "stack stays out of notifications")
}

func TestGivesUpAfterBudget(t *testing.T) {
	n := &recorder{}
	s := New(2, time.Millisecond, n, nil)

	var runs atomic.Int32
	s.Add("scan", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("gateway down")
	})
	healthyStopped := make(chan struct{})
	s.Add("commands", func(ctx context.Context) error {
		<-ctx.Done()
		close(healthyStopped)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, msg := range n.all() {
			if strings.Contains(msg, "scan loop is DOWN") {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-healthyStopped:
		t.Fatal("a failed task must not stop the others")
	default:
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(3), runs.Load())
}

func TestCleanReturnCountsAsFailure(t *testing.T) {
	n := &recorder{}
	s := New(0, time.Millisecond, n, nil)
	s.Add("monitor", func(ctx context.Context) error { return nil })

	require.NoError(t, s.Run(context.Background()))
	msgs := n.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "exited without error")
}

func TestCancelStopsWithoutRestart(t *testing.T) {
	n := &recorder{}
	s := New(5, time.Hour, n, nil)
	var runs atomic.Int32
	s.Add("monitor", func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, int32(1), runs.Load())
	assert.Empty(t, n.all())
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "panic: boom", summary(errors.New("panic: boom\ngoroutine 7 [running]:")))
	assert.Equal(t, "plain", summary(errors.New("plain")))
}
