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

package remote

import (
	"sync"

	"github.com/armon/circbuf"
)

// tailBuffer is an io.Writer that retains only the last N bytes written.
// It is safe for concurrent use.
type tailBuffer struct {
	mu  sync.Mutex
	buf *circbuf.Buffer
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		return &tailBuffer{}
	}
	b, err := circbuf.NewBuffer(int64(limit))
	if err != nil {
		return &tailBuffer{}
	}
	return &tailBuffer{buf: b}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.buf == nil || n == 0 {
		return n, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *tailBuffer) String() string {
	if b.buf == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
