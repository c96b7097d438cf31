// Package sse implements an incremental server-sent-events decoder. It
// accepts byte chunks of arbitrary size and emits complete frames only once
// the frame terminator (a blank line) has been observed, so callers never
// see a frame split across network reads.
package sse

import (
	"bytes"
	"strings"
)

// Done is the OpenAI stream completion marker.
const Done = "[DONE]"

// Frame is one decoded SSE event. Data joins multiple data: lines with a
// newline. Terminal is set when the decoder observes a dialect end marker
// ([DONE], or an event name registered via NewDecoder).
type Frame struct {
	Event    string
	Data     string
	Terminal bool
}

// Decoder turns a chunked byte stream into frames. It keeps a carry-over
// buffer between Feed calls; incomplete lines (including partial UTF-8
// sequences) stay buffered until the rest arrives. A Decoder is restartable
// between connections but not mid-stream.
type Decoder struct {
	buf            []byte
	event          string
	data           []string
	sawField       bool
	terminalEvents map[string]struct{}
}

// NewDecoder builds a decoder. terminalEvents lists dialect-specific event
// names (e.g. "message_stop", "response.completed") that mark the emitted
// frame as terminal in addition to the [DONE] data marker.
func NewDecoder(terminalEvents ...string) *Decoder {
	d := &Decoder{}
	if len(terminalEvents) > 0 {
		d.terminalEvents = make(map[string]struct{}, len(terminalEvents))
		for _, ev := range terminalEvents {
			d.terminalEvents[ev] = struct{}{}
		}
	}
	return d
}

// Reset prepares the decoder for a new connection.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.event = ""
	d.data = nil
	d.sawField = false
}

// Feed appends chunk to the carry buffer and returns every frame completed
// by it. The returned slice is nil when no frame terminator was seen.
//
// For any partitioning of the same byte stream into chunks, the
// concatenation of Feed results is identical.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		line, rest, ok := cutLine(d.buf)
		if !ok {
			break
		}
		d.buf = rest
		if f, emit := d.consumeLine(line); emit {
			frames = append(frames, f)
		}
	}
	return frames
}

// cutLine splits off one complete \n-terminated line, stripping the
// trailing \r\n or \n. It refuses to split when the line's final bytes are
// an incomplete UTF-8 sequence that has not been flushed by a newline (a
// newline byte never occurs inside a multi-byte sequence, so any line ending
// in \n is well-formed by construction).
func cutLine(buf []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return nil, buf, false
	}
	line = buf[:i]
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, buf[i+1:], true
}

// consumeLine processes one decoded line, returning a frame when the line
// was the blank frame terminator and fields had accumulated.
func (d *Decoder) consumeLine(line []byte) (Frame, bool) {
	if len(line) == 0 {
		if !d.sawField {
			return Frame{}, false
		}
		f := Frame{
			Event: d.event,
			Data:  strings.Join(d.data, "\n"),
		}
		if f.Data == Done {
			f.Terminal = true
		}
		if d.terminalEvents != nil {
			if _, ok := d.terminalEvents[f.Event]; ok {
				f.Terminal = true
			}
		}
		d.event = ""
		d.data = nil
		d.sawField = false
		return f, true
	}

	if line[0] == ':' {
		// comment line
		return Frame{}, false
	}

	field, value := splitField(line)
	switch field {
	case "event":
		d.event = value
		d.sawField = true
	case "data":
		d.data = append(d.data, value)
		d.sawField = true
	default:
		// Unknown fields (id, retry) are ignored; on their own they must
		// not produce an empty frame.
	}
	return Frame{}, false
}

// splitField splits "field: value", accepting both "data:" and "data: ".
func splitField(line []byte) (field, value string) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return string(line), ""
	}
	field = string(line[:i])
	v := line[i+1:]
	if len(v) > 0 && v[0] == ' ' {
		v = v[1:]
	}
	return field, string(v)
}

// Pending reports whether bytes are buffered awaiting a frame terminator.
func (d *Decoder) Pending() bool {
	return len(d.buf) > 0 || d.sawField
}
