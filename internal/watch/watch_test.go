package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/exofit/pkg/chainstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) *chainstore.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := chainstore.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func event(runID string, gen int) *chainstore.ProgressEvent {
	return &chainstore.ProgressEvent{RunID: runID, State: "sampling", Generation: gen, Generations: 3, Burnin: 1, AcceptanceFraction: 0.4, BestLogProb: -3}
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("json")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSON, f)

	_, err = ParseOutputFormat("yaml")
	assert.EqualError(t, err, "unknown format: yaml")
}

func TestFormatEvent(t *testing.T) {
	ev := event("0123456789abcdef", 1)
	line := FormatEvent(ev)
	assert.Contains(t, line, "run 01234567 burn-in 1/3")
	assert.Contains(t, line, "acceptance=0.400")

	ev.Generation = 2
	assert.Contains(t, FormatEvent(ev), "sampling 2/3")
}

func TestStreamProgress(t *testing.T) {
	t.Run("stops after the final generation of the watched run", func(t *testing.T) {
		events := make(chan *chainstore.ProgressEvent, 5)
		events <- event("other", 1)
		events <- event("run-1", 1)
		events <- event("run-1", 2)
		events <- event("run-1", 3)
		events <- event("run-1", 4)

		var buf bytes.Buffer
		require.NoError(t, StreamProgress(context.Background(), events, "run-1", OutputFormatDefault, &buf))
		assert.Equal(t, 3, strings.Count(buf.String(), "\n"))
		assert.NotContains(t, buf.String(), "other")
		assert.Len(t, events, 1)
	})

	t.Run("json lines for every run until the channel closes", func(t *testing.T) {
		events := make(chan *chainstore.ProgressEvent, 2)
		events <- event("a", 3)
		events <- event("b", 1)
		close(events)

		var buf bytes.Buffer
		require.NoError(t, StreamProgress(context.Background(), events, "", OutputFormatJSON, &buf))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		var got chainstore.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
		assert.Equal(t, "b", got.RunID)
	})

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := StreamProgress(ctx, make(chan *chainstore.ProgressEvent), "", OutputFormatDefault, &bytes.Buffer{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStreamProgress_FromRedis(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeProgress(ctx)
	require.NoError(t, err)
	defer sub.Close()

	for gen := 1; gen <= 3; gen++ {
		require.NoError(t, client.PublishProgress(ctx, event("run-1", gen)))
	}

	streamCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var buf bytes.Buffer
	require.NoError(t, StreamProgress(streamCtx, sub.Events(), "run-1", OutputFormatDefault, &buf))
	assert.Contains(t, buf.String(), "sampling 3/3")
}

func TestPollForRun(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	t.Run("returns terminal run immediately", func(t *testing.T) {
		run := chainstore.NewRun("transit", []string{"p"}, 4, 1, 1, 1)
		run.Status = chainstore.RunStatusCompleted
		require.NoError(t, client.SaveRun(ctx, run))

		got, err := PollForRun(ctx, client, run.ID, 10*time.Millisecond, time.Second)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
	})

	t.Run("waits for the run to finish", func(t *testing.T) {
		run := chainstore.NewRun("transit", []string{"p"}, 4, 1, 1, 1)
		require.NoError(t, client.SaveRun(ctx, run))

		go func() {
			time.Sleep(50 * time.Millisecond)
			run.Status = chainstore.RunStatusCancelled
			_ = client.SaveRun(ctx, run)
		}()

		got, err := PollForRun(ctx, client, run.ID, 10*time.Millisecond, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, chainstore.RunStatusCancelled, got.Status)
	})

	t.Run("times out", func(t *testing.T) {
		run := chainstore.NewRun("transit", []string{"p"}, 4, 1, 1, 1)
		require.NoError(t, client.SaveRun(ctx, run))

		_, err := PollForRun(ctx, client, run.ID, 10*time.Millisecond, 50*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout waiting for run")
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := PollForRun(ctx, client, "00000000-0000-4000-8000-000000000000", 10*time.Millisecond, time.Second)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run not found")
	})
}
