package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(d *Decoder, chunks ...[]byte) []Frame {
	var frames []Frame
	for _, c := range chunks {
		frames = append(frames, d.Feed(c)...)
	}
	return frames
}

func TestDecodeSingleFrame(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte("event: message_start\ndata: {\"type\":\"message_start\"}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "message_start", frames[0].Event)
	assert.Equal(t, `{"type":"message_start"}`, frames[0].Data)
	assert.False(t, frames[0].Terminal)
}

func TestDecodeMultipleFramesInOneChunk(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte("data: one\n\ndata: two\n\ndata: three\n\n"))
	require.Len(t, frames, 3)
	assert.Equal(t, "one", frames[0].Data)
	assert.Equal(t, "two", frames[1].Data)
	assert.Equal(t, "three", frames[2].Data)
}

func TestDecodeFrameSpreadOverSingleBytes(t *testing.T) {
	payload := []byte("event: delta\ndata: {\"a\":1}\n\n")
	d := NewDecoder()
	var frames []Frame
	for _, b := range payload {
		frames = append(frames, d.Feed([]byte{b})...)
	}
	require.Len(t, frames, 1)
	assert.Equal(t, "delta", frames[0].Event)
	assert.Equal(t, `{"a":1}`, frames[0].Data)
}

func TestChunkBoundaryInvariance(t *testing.T) {
	payload := "event: content_block_delta\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"héllo wörld\"}}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"日本語テキスト\"}}]}\n\n" +
		"data: [DONE]\n\n"

	baseline := NewDecoder().Feed([]byte(payload))
	require.Len(t, baseline, 3)

	// Re-decode at every possible single split point, including splits
	// inside multi-byte UTF-8 characters and JSON string literals.
	raw := []byte(payload)
	for cut := 1; cut < len(raw); cut++ {
		d := NewDecoder()
		got := feedAll(d, raw[:cut], raw[cut:])
		require.Equal(t, baseline, got, "split at byte %d diverged", cut)
	}
}

func TestMultiLineDataJoinedWithNewline(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte("data: first\ndata: second\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "first\nsecond", frames[0].Data)
}

func TestDoneMarkerTerminal(t *testing.T) {
	for _, payload := range []string{"data: [DONE]\n\n", "data:[DONE]\n\n"} {
		d := NewDecoder()
		frames := d.Feed([]byte(payload))
		require.Len(t, frames, 1, "payload %q", payload)
		assert.True(t, frames[0].Terminal)
		assert.Equal(t, "[DONE]", frames[0].Data)
	}
}

func TestTerminalEventNames(t *testing.T) {
	d := NewDecoder("message_stop", "response.completed")
	frames := d.Feed([]byte("event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Terminal)

	frames = d.Feed([]byte("event: response.completed\ndata: {}\n\n"))
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Terminal)

	frames = d.Feed([]byte("event: response.created\ndata: {}\n\n"))
	require.Len(t, frames, 1)
	assert.False(t, frames[0].Terminal)
}

func TestCommentsIgnored(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte(": keep-alive\n\ndata: real\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "real", frames[0].Data)
}

func TestCRLFTerminator(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte("event: ping\r\ndata: {}\r\n\r\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "ping", frames[0].Event)
	assert.Equal(t, "{}", frames[0].Data)
}

func TestDataPrefixWithoutSpace(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte("data:{\"x\":1}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, `{"x":1}`, frames[0].Data)
}

func TestNoEmissionWithoutTerminator(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte("data: partial"))
	assert.Empty(t, frames)
	assert.True(t, d.Pending())

	frames = d.Feed([]byte(" frame\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "partial frame", frames[0].Data)
}

func TestUnknownFieldsAloneProduceNoFrame(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte("id: 42\nretry: 3000\n\ndata: real\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "real", frames[0].Data)
}

func TestUnknownFieldsInsideFrameIgnored(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte("id: 7\nevent: delta\ndata: x\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "delta", frames[0].Event)
	assert.Equal(t, "x", frames[0].Data)
}

func TestBlankLinesBetweenFramesProduceNothing(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte("\n\n\ndata: x\n\n\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "x", frames[0].Data)
}

func TestResetBetweenConnections(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("data: dangling"))
	d.Reset()
	frames := d.Feed([]byte("data: fresh\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "fresh", frames[0].Data)
}
