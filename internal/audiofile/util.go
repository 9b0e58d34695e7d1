package audiofile

import (
	"fmt"
	"io"
)

// seekTo computes a new absolute position from whence/offset against a
// file of the given size, shared by both the Cached and Streaming
// variants. Seeking past EOF is accepted (§8 boundary behavior); the
// next Read simply returns 0.
func seekTo(current, size, offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = current + offset
	case io.SeekEnd:
		newPos = size + offset
	default:
		return 0, fmt.Errorf("audiofile: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("audiofile: negative seek position %d", newPos)
	}
	return newPos, nil
}
