// Package sseio implements the per-connection SSE stream assembler (C6):
// the replay-then-realtime composition, SSE wire framing, and the
// exactly-once unregister cleanup that runs when a stream ends.
package sseio

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ssefanout/gateway/internal/event"
)

// Flusher is implemented by response writers that support incremental
// flushing; http.ResponseWriter satisfies it via http.Flusher.
type Flusher interface {
	Flush()
}

// frameWriter writes Events in the wire format from §6: event/id/retry/data
// lines terminated by a blank line, multi-line payloads split across
// repeated data: lines.
type frameWriter struct {
	w       *bufio.Writer
	flusher Flusher
}

func newFrameWriter(w io.Writer) *frameWriter {
	f, _ := w.(Flusher)
	return &frameWriter{w: bufio.NewWriter(w), flusher: f}
}

// writeEvent serializes ev as one SSE frame.
func (f *frameWriter) writeEvent(ev event.Event) error {
	if _, err := fmt.Fprintf(f.w, "event: %s\n", ev.Type()); err != nil {
		return err
	}
	if id, ok := ev.WireID(); ok {
		if _, err := fmt.Fprintf(f.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if ms, ok := ev.Retry(); ok {
		if _, err := fmt.Fprintf(f.w, "retry: %d\n", ms); err != nil {
			return err
		}
	}
	text, err := ev.Text()
	if err != nil {
		return err
	}
	for _, line := range strings.Split(text, "\n") {
		if _, err := fmt.Fprintf(f.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := f.w.WriteString("\n"); err != nil {
		return err
	}
	return f.flush()
}

// writeKeepAlive emits the SSE comment line used to detect dead TCP peers,
// independent of the heartbeat event stream.
func (f *frameWriter) writeKeepAlive() error {
	if _, err := f.w.WriteString(":keep-alive\n\n"); err != nil {
		return err
	}
	return f.flush()
}

func (f *frameWriter) flush() error {
	if err := f.w.Flush(); err != nil {
		return err
	}
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return nil
}
