package fetch

import (
	"testing"

	"github.com/javi11/streamloader/internal/rangeset"
)

func newSharedForTest(fileSize int64) *SharedState {
	return NewSharedState(testFileID(9), fileSize, 16000, 500, 0)
}

func TestSharedStatePlanDownloadMarksRequested(t *testing.T) {
	s := newSharedForTest(1000)

	pieces := s.planDownload(rangeset.Range{Start: 0, Length: 100})
	if len(pieces) != 1 || pieces[0].Start != 0 || pieces[0].Length != 100 {
		t.Fatalf("unexpected first plan: %+v", pieces)
	}

	// Requesting the same range again should yield nothing new: it's
	// already Requested.
	again := s.planDownload(rangeset.Range{Start: 0, Length: 100})
	if len(again) != 0 {
		t.Fatalf("expected no new pieces for an already-requested range, got %+v", again)
	}

	// A partially overlapping range should only yield its novel tail.
	tail := s.planDownload(rangeset.Range{Start: 50, Length: 100})
	if len(tail) != 1 || tail[0].Start != 100 || tail[0].Length != 50 {
		t.Fatalf("unexpected tail plan: %+v", tail)
	}
}

func TestSharedStateAddDownloadedReportsCompletion(t *testing.T) {
	s := newSharedForTest(100)

	if s.addDownloaded(rangeset.Range{Start: 0, Length: 50}) {
		t.Fatal("file should not be complete after half is downloaded")
	}
	if !s.addDownloaded(rangeset.Range{Start: 50, Length: 50}) {
		t.Fatal("file should be complete once every byte is downloaded")
	}
}

func TestSharedStateRangeAvailable(t *testing.T) {
	s := newSharedForTest(1000)
	s.addDownloaded(rangeset.Range{Start: 100, Length: 200})

	if !s.RangeAvailable(100, 200) {
		t.Fatal("expected exact downloaded range to be available")
	}
	if s.RangeAvailable(50, 100) {
		t.Fatal("range starting before any downloaded byte should not be available")
	}
	if s.RangeAvailable(200, 200) {
		t.Fatal("range extending past downloaded data should not be available")
	}
	if got := s.RangeToEndAvailable(150); got != 150 {
		t.Fatalf("expected 150 contiguous bytes from 150, got %d", got)
	}
}

func TestSharedStateNarrowRequestedUndoesPlan(t *testing.T) {
	s := newSharedForTest(1000)
	s.planDownload(rangeset.Range{Start: 0, Length: 100})

	s.narrowRequested(rangeset.Range{Start: 40, Length: 60})

	if got := s.pendingLength(); got != 40 {
		t.Fatalf("expected 40 bytes still pending after narrowing, got %d", got)
	}
}

func TestSharedStateMissingSetExcludesRequestedAndDownloaded(t *testing.T) {
	s := newSharedForTest(1000)
	s.addDownloaded(rangeset.Range{Start: 0, Length: 100})
	s.planDownload(rangeset.Range{Start: 100, Length: 100})

	missing := s.missingSet()
	if missing.Len() != 800 {
		t.Fatalf("expected 800 missing bytes, got %d", missing.Len())
	}
	if missing.ContainedLengthFromValue(0) != 0 {
		t.Fatal("downloaded prefix must not appear in missingSet")
	}
	if missing.ContainedLengthFromValue(100) != 0 {
		t.Fatal("requested-but-not-downloaded range must not appear in missingSet")
	}
	if got := missing.ContainedLengthFromValue(200); got != 800 {
		t.Fatalf("expected remaining 800 bytes from 200, got %d", got)
	}
}

func TestSharedStateStrategyDefaultsToRandomAccess(t *testing.T) {
	s := newSharedForTest(10)
	if s.Strategy() != StrategyRandomAccess {
		t.Fatalf("expected default strategy to be random-access, got %v", s.Strategy())
	}
	prev := s.SetStrategy(StrategyStreaming)
	if prev != StrategyRandomAccess {
		t.Fatalf("expected previous strategy to be random-access, got %v", prev)
	}
	if s.Strategy() != StrategyStreaming {
		t.Fatal("expected strategy to now be streaming")
	}
}
