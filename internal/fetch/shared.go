package fetch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/javi11/streamloader/internal/rangeset"
	"github.com/javi11/streamloader/internal/session"
)

// Strategy selects how aggressively the Fetcher prefetches ahead of the
// consumer's read position.
type Strategy int32

const (
	// StrategyRandomAccess never prefetches; it only services explicit
	// Fetch commands. Used while a consumer is seeking around a file
	// (scrubbing, tag scanning) rather than playing it linearly.
	StrategyRandomAccess Strategy = iota
	// StrategyStreaming additionally runs the read-ahead policy of §4.4
	// on every scheduler iteration.
	StrategyStreaming
)

func (s Strategy) String() string {
	if s == StrategyStreaming {
		return "streaming"
	}
	return "random-access"
}

// DownloadStatus tracks, as two disjoint byte-range sets over [0,
// FileSize), which bytes have been requested from the server and which
// have actually arrived. Requested always a superset candidate of
// Downloaded is not guaranteed — a byte can leave Requested (on channel
// failure) without ever entering Downloaded.
type DownloadStatus struct {
	Requested  *rangeset.Set
	Downloaded *rangeset.Set
}

// SharedState is the state a Fetcher and the consumer-facing
// StreamLoaderController both touch. download_status and read_position
// are guarded independently, matching the original's separate
// Mutex<AudioFileDownloadStatus> and AtomicUsize fields: read_position is
// updated on every Read/Seek, far more often than download_status
// changes, so giving it its own atomic avoids taking the download_status
// lock on the hot path.
type SharedState struct {
	FileID          session.FileID
	FileSize        int64
	NominalDataRate int64

	mu             sync.Mutex
	cond           *sync.Cond
	downloadStatus DownloadStatus

	// strategy is read on every scheduler iteration and written only on
	// SetRandomAccess/SetStreaming commands: an atomic int32 stands in
	// for the second mutex the original uses, since reads dominate
	// writes by orders of magnitude.
	strategy atomic.Int32

	openRequests atomic.Int64
	pingTimeMs   atomic.Int64
	readPosition atomic.Int64
}

// NewSharedState builds the state for a freshly opened streaming file.
// initialRequestedLength seeds Requested with [0, initialRequestedLength),
// matching the range already in flight for the request AudioFile.Open
// issued to learn the file size.
func NewSharedState(id session.FileID, fileSize, nominalDataRate, initialPingMs, initialRequestedLength int64) *SharedState {
	s := &SharedState{
		FileID:          id,
		FileSize:        fileSize,
		NominalDataRate: nominalDataRate,
		downloadStatus: DownloadStatus{
			Requested:  rangeset.New(),
			Downloaded: rangeset.New(),
		},
	}
	s.cond = sync.NewCond(&s.mu)
	s.pingTimeMs.Store(initialPingMs)
	if initialRequestedLength > 0 {
		s.downloadStatus.Requested.Add(rangeset.Range{Start: 0, Length: initialRequestedLength})
	}
	return s
}

// Strategy returns the current download strategy.
func (s *SharedState) Strategy() Strategy { return Strategy(s.strategy.Load()) }

// SetStrategy updates the strategy, returning the previous one.
func (s *SharedState) SetStrategy(next Strategy) Strategy {
	return Strategy(s.strategy.Swap(int32(next)))
}

// PingTimeMs returns the current median ping estimate.
func (s *SharedState) PingTimeMs() int64 { return s.pingTimeMs.Load() }

// ReadPosition returns the consumer's current read cursor.
func (s *SharedState) ReadPosition() int64 { return s.readPosition.Load() }

// SetReadPosition updates the consumer's read cursor. Seek calls this and
// nothing else — moving read_position never triggers a fetch (§5 note:
// "Seek must never itself trigger a fetch").
func (s *SharedState) SetReadPosition(pos int64) { s.readPosition.Store(pos) }

// OpenRequests returns the number of range requests currently in flight.
func (s *SharedState) OpenRequests() int64 { return s.openRequests.Load() }

// RangeAvailable reports whether every byte of [start, start+length) has
// already been downloaded.
func (s *SharedState) RangeAvailable(start, length int64) bool {
	if length <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloadStatus.Downloaded.ContainedLengthFromValue(start) >= length
}

// RangeToEndAvailable reports how many contiguous bytes starting at start
// are available, capped at FileSize-start.
func (s *SharedState) RangeToEndAvailable(start int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloadStatus.Downloaded.ContainedLengthFromValue(start)
}

// RangeNeitherDownloadedNorRequested reports whether [start, start+length)
// is covered by neither Downloaded nor Requested — the condition
// FetchBlocking uses to detect a dropped request worth resubmitting.
func (s *SharedState) RangeNeitherDownloadedNorRequested(start, length int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downloadStatus.Downloaded.ContainedLengthFromValue(start) >= length {
		return false
	}
	return s.downloadStatus.Requested.ContainedLengthFromValue(start) < length
}

// WaitForRange blocks until [start, start+length) is fully downloaded.
// stdlib sync.Cond has no timed wait, so each iteration races cond.Wait
// against a one-second timer goroutine that broadcasts on expiry (§5:
// "the reader suspends ... on the shared condvar with a 1-second
// timeout"). onWake runs with the lock released after every wake,
// whether from a real broadcast or the timeout, so a caller such as
// FetchBlocking can resubmit a dropped request; returning false abandons
// the wait.
func (s *SharedState) WaitForRange(start, length int64, onWake func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.downloadStatus.Downloaded.ContainedLengthFromValue(start) < length {
		done := make(chan struct{})
		go func() {
			select {
			case <-time.After(time.Second):
				s.cond.Broadcast()
			case <-done:
			}
		}()
		s.cond.Wait()
		close(done)

		s.mu.Unlock()
		keepWaiting := onWake()
		s.mu.Lock()
		if !keepWaiting {
			return
		}
	}
}

// addDownloaded records a delivered chunk and reports whether the whole
// file is now downloaded.
func (s *SharedState) addDownloaded(r rangeset.Range) (complete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloadStatus.Downloaded.Add(r)
	s.cond.Broadcast()
	return s.downloadStatus.Downloaded.ContainedLengthFromValue(0) >= s.FileSize
}

// narrowRequested removes a range from Requested, used when a receive
// task ends without delivering the full range it asked for (a channel
// error or a short clean finish).
func (s *SharedState) narrowRequested(r rangeset.Range) {
	s.mu.Lock()
	s.downloadStatus.Requested.Subtract(r)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// planDownload computes which pieces of r are neither already downloaded
// nor already in flight, and marks those pieces Requested before
// returning them. The whole computation happens under one lock so a
// concurrent planDownload call never double-requests the same byte —
// matching the original's single mutex guard spanning to_request's
// computation and the loop that adds each piece to requested.
func (s *SharedState) planDownload(r rangeset.Range) []rangeset.Range {
	s.mu.Lock()
	defer s.mu.Unlock()

	toRequest := rangeset.NewFromRange(r)
	toRequest.SubtractSet(s.downloadStatus.Downloaded)
	toRequest.SubtractSet(s.downloadStatus.Requested)

	items := toRequest.Items()
	for _, it := range items {
		s.downloadStatus.Requested.Add(it)
	}
	return items
}

// pendingLength returns the number of bytes requested but not yet
// downloaded.
func (s *SharedState) pendingLength() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloadStatus.Requested.Minus(s.downloadStatus.Downloaded).Len()
}

// missingSet returns [0, FileSize) minus Downloaded minus Requested,
// without mutating Requested. Used by the prefetch selection loop to
// decide what to request next; the actual marking happens via
// planDownload once a concrete piece has been chosen.
func (s *SharedState) missingSet() *rangeset.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	full := rangeset.NewFromRange(rangeset.Range{Start: 0, Length: s.FileSize})
	full.SubtractSet(s.downloadStatus.Downloaded)
	full.SubtractSet(s.downloadStatus.Requested)
	return full
}
