package toolrun

import (
	"bytes"
	"strings"
)

// lineWriter splits a tool's output stream into lines. Lines longer than
// max bytes are cut and marked; the rest of such a line is discarded.
// Writes never fail.
type lineWriter struct {
	emit      func(string)
	max       int
	buf       []byte
	truncated bool
}

func newLineWriter(max int, emit func(string)) *lineWriter {
	return &lineWriter{emit: emit, max: max}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.append(p)
			break
		}
		w.append(p[:i])
		w.Flush()
		p = p[i+1:]
	}
	return n, nil
}

func (w *lineWriter) append(b []byte) {
	if w.truncated {
		return
	}
	if room := w.max - len(w.buf); len(b) > room {
		w.buf = append(w.buf, b[:room]...)
		w.truncated = true
		return
	}
	w.buf = append(w.buf, b...)
}

// Flush emits the pending partial line, if any.
func (w *lineWriter) Flush() {
	line := strings.TrimRight(string(w.buf), "\r")
	if w.truncated {
		line += " [line truncated]"
	}
	if line != "" {
		w.emit(line)
	}
	w.buf = w.buf[:0]
	w.truncated = false
}
