package audiofile

import (
	"io"

	"github.com/javi11/streamloader/internal/session"
)

// cachedFile is the Cached AudioFile variant: a plain, already-complete
// file with no Fetcher involved.
type cachedFile struct {
	handle session.ReadAtCloser
	size   int64
	pos    int64
}

func (c *cachedFile) Read(p []byte) (int, error) {
	if c.pos >= c.size {
		return 0, io.EOF
	}
	if remaining := c.size - c.pos; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := c.handle.ReadAt(p, c.pos)
	c.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (c *cachedFile) Seek(offset int64, whence int) (int64, error) {
	newPos, err := seekTo(c.pos, c.size, offset, whence)
	if err != nil {
		return 0, err
	}
	c.pos = newPos
	return newPos, nil
}
