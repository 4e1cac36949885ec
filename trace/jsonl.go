package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/colorfulnotion/rvm/journal"
	"github.com/colorfulnotion/rvm/state"
)

// JSONLTraceWriter writes TraceStep records as JSON Lines (one JSON object per line).
// It is safe for concurrent use by multiple goroutines.
type JSONLTraceWriter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	buf    *bufio.Writer
	closer io.Closer // only set when we own the underlying writer
	closed bool
	count  int
	err    error // first error seen by Observe
}

// ErrTraceWriterClosed is returned when WriteStep is called after Close.
var ErrTraceWriterClosed = errors.New("jsonl trace writer is closed")

func newWriter(w io.Writer, size int, closer io.Closer) *JSONLTraceWriter {
	buf := bufio.NewWriterSize(w, size)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONLTraceWriter{enc: enc, buf: buf, closer: closer}
}

// NewJSONLTraceWriter creates a JSONLTraceWriter using the provided io.Writer.
// Close() only flushes; w is left open.
func NewJSONLTraceWriter(w io.Writer) *JSONLTraceWriter {
	return newWriter(w, 64*1024, nil)
}

// NewJSONLTraceWriterFile creates or truncates path and returns a writer that
// owns the file.
func NewJSONLTraceWriterFile(path string) (*JSONLTraceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return newWriter(f, 64*1024, f), nil
}

// NewJSONLTraceWriterStdout uses a small buffer so output shows up promptly.
func NewJSONLTraceWriterStdout() *JSONLTraceWriter {
	return newWriter(os.Stdout, 4*1024, nil)
}

// WriteStep encodes a single TraceStep followed by a newline.
func (w *JSONLTraceWriter) WriteStep(step *TraceStep) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrTraceWriterClosed
	}
	if err := w.enc.Encode(step); err != nil {
		return err
	}
	w.count++
	return nil
}

// Observe writes the step for rec. It has the shape of a controller step hook;
// the first error is kept and returned by Close.
func (w *JSONLTraceWriter) Observe(rec *journal.StepRecord, c *state.Containers) {
	if err := w.WriteStep(NewTraceStep(rec, c)); err != nil {
		w.mu.Lock()
		if w.err == nil {
			w.err = err
		}
		w.mu.Unlock()
	}
}

// Count is the number of steps written so far.
func (w *JSONLTraceWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Flush forces buffered data to be written to the underlying writer.
func (w *JSONLTraceWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrTraceWriterClosed
	}
	return w.buf.Flush()
}

// Close flushes any buffered data and closes the file when the writer owns it.
func (w *JSONLTraceWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return w.err
	}
	w.closed = true

	if err := w.buf.Flush(); err != nil {
		if w.closer != nil {
			_ = w.closer.Close()
		}
		return err
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			return err
		}
	}
	return w.err
}

// ReadJSONL decodes every step in r. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]*TraceStep, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var steps []*TraceStep
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ts TraceStep
		if err := json.Unmarshal(sc.Bytes(), &ts); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		steps = append(steps, &ts)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

func ReadJSONLFile(path string) ([]*TraceStep, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSONL(f)
}
