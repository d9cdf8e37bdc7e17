// Package sse decodes the text/event-stream wire format into discrete frames.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
)

// Frame is one dispatched Server-Sent Events message.
type Frame struct {
	Event string
	Data  string
	// ID is the last-event-id in effect when the frame was dispatched. It
	// carries over from earlier frames when this one has no id field.
	ID string
	// HasID reports whether the frame carried its own valid id field.
	HasID bool
	// Retry is the reconnection delay in milliseconds, 0 when not sent.
	Retry int
}

// Decoder reads frames from an event stream. It is not safe for concurrent use.
type Decoder struct {
	r       *bufio.Reader
	started bool
	lastID  string

	event string
	data  strings.Builder
	lines int
	retry int
	hasID bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// LastEventID returns the most recent id field seen, dispatched or not.
func (d *Decoder) LastEventID() string {
	return d.lastID
}

// Next blocks until a complete frame is available. It returns io.EOF when the
// stream ends; a trailing frame without its terminating blank line is dropped.
func (d *Decoder) Next() (Frame, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return Frame{}, err
		}
		if line == "" {
			if frame, ok := d.dispatch(); ok {
				return frame, nil
			}
			continue
		}
		d.processLine(line)
	}
}

func (d *Decoder) readLine() (string, error) {
	var buf []byte
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			// An unterminated last line can never complete its frame.
			return "", err
		}
		switch b {
		case '\n':
			return d.finishLine(buf), nil
		case '\r':
			if next, err := d.r.Peek(1); err == nil && next[0] == '\n' {
				_, _ = d.r.ReadByte()
			}
			return d.finishLine(buf), nil
		default:
			buf = append(buf, b)
		}
	}
}

func (d *Decoder) finishLine(buf []byte) string {
	if !d.started {
		d.started = true
		buf = bytes.TrimPrefix(buf, []byte("\xef\xbb\xbf"))
	}
	return string(buf)
}

func (d *Decoder) processLine(line string) {
	if strings.HasPrefix(line, ":") {
		return
	}
	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}
	switch field {
	case "event":
		d.event = value
	case "data":
		if d.lines > 0 {
			d.data.WriteByte('\n')
		}
		d.data.WriteString(value)
		d.lines++
	case "id":
		if !strings.ContainsRune(value, 0) {
			d.lastID = value
			d.hasID = true
		}
	case "retry":
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			d.retry = ms
		}
	}
}

func (d *Decoder) dispatch() (Frame, bool) {
	defer func() {
		d.event = ""
		d.data.Reset()
		d.lines = 0
		d.retry = 0
		d.hasID = false
	}()
	if d.lines == 0 {
		return Frame{}, false
	}
	return Frame{
		Event: d.event,
		Data:  d.data.String(),
		ID:    d.lastID,
		HasID: d.hasID,
		Retry: d.retry,
	}, true
}
