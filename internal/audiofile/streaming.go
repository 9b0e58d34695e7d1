package audiofile

import (
	"io"

	"github.com/spf13/afero"

	"github.com/javi11/streamloader/internal/fetch"
)

// streamingFile is the Streaming AudioFile variant: an io.ReadSeeker over
// a temp file that a background Fetcher is still populating.
type streamingFile struct {
	fetcher  *fetch.Fetcher
	shared   *fetch.SharedState
	readFile afero.File
	tuning   fetch.Tuning
}

// Read computes the look-ahead length (streaming mode only), issues a
// Fetch command for [position, position+length+lookAhead), blocks until the
// caller's requested sub-range is downloaded, then reads it back from the
// temp file. Per §9's grounding note, the look-ahead is additive to the
// requested length within the same Fetch command, not a separate
// fire-and-forget request.
func (s *streamingFile) Read(p []byte) (int, error) {
	pos := s.shared.ReadPosition()
	if pos >= s.shared.FileSize {
		return 0, io.EOF
	}

	length := int64(len(p))
	if pos+length > s.shared.FileSize {
		length = s.shared.FileSize - pos
	}
	if length <= 0 {
		return 0, io.EOF
	}

	fetchLength := length
	if s.shared.Strategy() == fetch.StrategyStreaming {
		lookAhead := s.tuning.LookAheadLength(s.shared.PingTimeMs(), s.shared.NominalDataRate)
		fetchLength = length + lookAhead
	}

	s.fetcher.SendCommand(fetch.FetchCommand(pos, fetchLength))
	s.shared.WaitForRange(pos, length, func() bool { return true })

	n, err := s.readFile.ReadAt(p[:length], pos)
	if err != nil && err != io.EOF {
		return n, err
	}
	s.shared.SetReadPosition(pos + int64(n))
	return n, nil
}

// Seek never triggers a fetch; it only updates the shared read cursor.
func (s *streamingFile) Seek(offset int64, whence int) (int64, error) {
	newPos, err := seekTo(s.shared.ReadPosition(), s.shared.FileSize, offset, whence)
	if err != nil {
		return 0, err
	}
	s.shared.SetReadPosition(newPos)
	return newPos, nil
}
