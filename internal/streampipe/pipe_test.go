package streampipe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferryman-dev/ferryman/internal/translate"
)

func textDelta(s string) translate.Event {
	return translate.Event{Kind: translate.KindTextDelta, Text: s}
}

func TestFIFOOrder(t *testing.T) {
	p := New(8, time.Second)
	ctx := context.Background()

	require.NoError(t, p.Enqueue(ctx, textDelta("a")))
	require.NoError(t, p.Enqueue(ctx, translate.Event{Kind: translate.KindFinish, Text: "end_turn"}))
	require.NoError(t, p.Enqueue(ctx, translate.Event{Kind: translate.KindTerminal}))
	p.Close()

	var kinds []translate.EventKind
	for {
		ev, ok, err := p.Dequeue(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []translate.EventKind{
		translate.KindTextDelta, translate.KindFinish, translate.KindTerminal,
	}, kinds)
}

func TestIgnoreEventsAreDropped(t *testing.T) {
	p := New(4, time.Second)
	ctx := context.Background()
	require.NoError(t, p.Enqueue(ctx, translate.Event{Kind: translate.KindIgnore}))
	assert.Zero(t, p.Len())
}

func TestCoalesceOnFullQueue(t *testing.T) {
	hits := 0
	p := New(2, time.Second, WithBackpressureHook(func() { hits++ }))
	ctx := context.Background()

	require.NoError(t, p.Enqueue(ctx, textDelta("a")))
	require.NoError(t, p.Enqueue(ctx, textDelta("b")))
	// Queue full; same-kind delta merges into the tail without blocking.
	require.NoError(t, p.Enqueue(ctx, textDelta("c")))
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, 1, hits)

	ev, ok, err := p.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", ev.Text)

	ev, ok, err = p.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bc", ev.Text)
}

func TestToolDeltasCoalesceByIndex(t *testing.T) {
	p := New(2, time.Second)
	ctx := context.Background()

	tool := func(idx int, args string) translate.Event {
		return translate.Event{Kind: translate.KindToolCallDelta, ToolIndex: idx, ToolArgs: args}
	}
	require.NoError(t, p.Enqueue(ctx, tool(0, `{"a":`)))
	require.NoError(t, p.Enqueue(ctx, tool(1, `{"b":`)))
	// Tail is index 1; an index-1 fragment merges.
	require.NoError(t, p.Enqueue(ctx, tool(1, `2}`)))
	assert.Equal(t, 2, p.Len())

	_, _, _ = p.Dequeue(ctx)
	ev, ok, err := p.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"b":2}`, ev.ToolArgs)
}

func TestLifecycleTailNeverCoalesced(t *testing.T) {
	p := New(1, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, p.Enqueue(ctx, translate.Event{Kind: translate.KindTerminal}))
	// Full queue with a lifecycle tail: the delta cannot merge and the
	// consumer never drains, so the enqueue times out instead of dropping.
	err := p.Enqueue(ctx, textDelta("x"))
	assert.ErrorIs(t, err, ErrEnqueueTimeout)
	assert.Equal(t, 1, p.Len())
}

func TestEnqueueUnblocksOnDequeue(t *testing.T) {
	p := New(1, 5*time.Second)
	ctx := context.Background()

	require.NoError(t, p.Enqueue(ctx, translate.Event{Kind: translate.KindStart}))

	done := make(chan error, 1)
	go func() {
		done <- p.Enqueue(ctx, translate.Event{Kind: translate.KindTerminal})
	}()

	time.Sleep(20 * time.Millisecond)
	_, ok, err := p.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue did not unblock after dequeue")
	}
}

func TestEnqueueObservesCancellation(t *testing.T) {
	p := New(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Enqueue(ctx, translate.Event{Kind: translate.KindStart}))

	done := make(chan error, 1)
	go func() {
		done <- p.Enqueue(ctx, translate.Event{Kind: translate.KindUsage})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue did not observe cancellation")
	}
}

func TestDequeueObservesCancellation(t *testing.T) {
	p := New(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := p.Dequeue(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not observe cancellation")
	}
}

func TestCloseDrainsRemainingEvents(t *testing.T) {
	p := New(4, time.Second)
	ctx := context.Background()
	require.NoError(t, p.Enqueue(ctx, textDelta("tail")))
	p.Close()

	assert.ErrorIs(t, p.Enqueue(ctx, textDelta("late")), ErrClosed)

	ev, ok, err := p.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tail", ev.Text)

	_, ok, err = p.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
