package engine

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// bufferedDisplay collects step output and writes it through on flush.
type bufferedDisplay struct {
	mu  sync.Mutex
	buf *bufio.Writer
}

func newBufferedDisplay(w io.Writer) *bufferedDisplay {
	if w == nil {
		w = io.Discard
	}
	return &bufferedDisplay{buf: bufio.NewWriter(w)}
}

func (d *bufferedDisplay) Text(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.buf.WriteString(s)
	return err
}

func (d *bufferedDisplay) Whitespace(lines int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lines > 0 {
		if _, err := d.buf.WriteString(strings.Repeat("\n", lines)); err != nil {
			return err
		}
	}
	return d.buf.Flush()
}

func (d *bufferedDisplay) flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Flush()
}
