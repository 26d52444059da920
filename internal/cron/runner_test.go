package cronrunner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerRunsJobsAndSkipsDisabled(t *testing.T) {
	r := New(nil, context.Background())
	var ran, failed atomic.Int32

	id, err := r.Add("disabled", "", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = r.Add("tick", "@every 1s", func(context.Context) error {
		ran.Add(1)
		return nil
	})
	require.NoError(t, err)
	_, err = r.Add("broken", "@every 1s", func(context.Context) error {
		failed.Add(1)
		return errors.New("boom")
	})
	require.NoError(t, err)

	r.Start()
	require.Eventually(t, func() bool { return ran.Load() > 0 && failed.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	r.Stop()
}

func TestRunnerRejectsBadSpec(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Add("bad", "every now and then", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestRunnerSkipsAfterBaseContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(nil, ctx)
	var ran atomic.Int32
	_, err := r.Add("tick", "@every 1s", func(context.Context) error {
		ran.Add(1)
		return nil
	})
	require.NoError(t, err)
	r.Start()
	time.Sleep(1500 * time.Millisecond)
	r.Stop()
	assert.Zero(t, ran.Load())
}
