package sse

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func collect(t *testing.T, input string) []Frame {
	t.Helper()
	dec := NewDecoder(strings.NewReader(input))
	var frames []Frame
	for {
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		frames = append(frames, frame)
	}
}

func TestDecoderFrames(t *testing.T) {
	t.Parallel()

	input := "event: heartbeat\ndata: {}\n\n" +
		": keepalive comment\n" +
		"id: 7\nevent: message\ndata: {\"a\":1}\n\n" +
		"data: first\ndata: second\n\n"

	got := collect(t, input)
	want := []Frame{
		{Event: "heartbeat", Data: "{}"},
		{Event: "message", Data: `{"a":1}`, ID: "7", HasID: true},
		{Data: "first\nsecond", ID: "7"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected frames.\nwant: %#v\n got: %#v", want, got)
	}
}

func TestDecoderLineEndings(t *testing.T) {
	t.Parallel()

	input := "\xef\xbb\xbfdata:crlf\r\n\r\ndata:cr\r\rdata:lf\n\n"
	got := collect(t, input)
	want := []Frame{{Data: "crlf"}, {Data: "cr"}, {Data: "lf"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected frames.\nwant: %#v\n got: %#v", want, got)
	}
}

func TestDecoderFieldEdgeCases(t *testing.T) {
	t.Parallel()

	input := "data\n\n" +
		"data:  two spaces\n\n" +
		"id: bad\x00id\nunknown: x\nretry: 1500\ndata: r\n\n" +
		"id: 9\n\n" +
		"data: after\n\n"

	dec := NewDecoder(strings.NewReader(input))
	var frames []Frame
	for {
		frame, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		frames = append(frames, frame)
	}
	want := []Frame{
		{Data: ""},
		{Data: " two spaces"},
		{Data: "r", Retry: 1500},
		{Data: "after", ID: "9"},
	}
	if !reflect.DeepEqual(frames, want) {
		t.Fatalf("unexpected frames.\nwant: %#v\n got: %#v", want, frames)
	}
	if dec.LastEventID() != "9" {
		t.Fatalf("expected last event id 9 got %q", dec.LastEventID())
	}
}

func TestDecoderMarksFramesWithOwnID(t *testing.T) {
	t.Parallel()

	got := collect(t, "id: 1\ndata: a\n\ndata: b\n\nid: 2\ndata: c\n\n")
	want := []Frame{
		{Data: "a", ID: "1", HasID: true},
		{Data: "b", ID: "1"},
		{Data: "c", ID: "2", HasID: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected frames.\nwant: %#v\n got: %#v", want, got)
	}
}

func TestDecoderDropsIncompleteTrailingFrame(t *testing.T) {
	t.Parallel()

	got := collect(t, "data: done\n\ndata: partial\n")
	if len(got) != 1 || got[0].Data != "done" {
		t.Fatalf("expected only the terminated frame, got %#v", got)
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestDecoderPropagatesReadErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	dec := NewDecoder(&failingReader{data: []byte("data: ok\n\ndata: x"), err: boom})
	if frame, err := dec.Next(); err != nil || frame.Data != "ok" {
		t.Fatalf("expected first frame, got %#v err=%v", frame, err)
	}
	if _, err := dec.Next(); !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
}
