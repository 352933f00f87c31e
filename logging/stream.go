/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package logging

import (
	"bytes"
	"context"
	"sync"
)

// StreamWriter turns a byte stream (remote build output) into prefixed
// console lines as they arrive. Partial lines are held until a newline or
// Flush.
type StreamWriter struct {
	mu     sync.Mutex
	logger *CustomLogger
	prefix string
	buf    bytes.Buffer
}

// NewStreamWriter returns a StreamWriter that logs through the logger in ctx.
func NewStreamWriter(ctx context.Context, prefix string) *StreamWriter {
	return &StreamWriter{logger: FromContext(ctx), prefix: prefix}
}

// Write implements io.Writer.
func (w *StreamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// No newline yet, keep the remainder for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

// Flush writes any buffered partial line.
func (w *StreamWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *StreamWriter) emit(line string) {
	line = string(bytes.TrimRight([]byte(line), "\r"))
	if w.prefix != "" {
		w.logger.Info("%s %s", w.prefix, line)
		return
	}
	w.logger.Info("%s", line)
}
