package fetch

// Tuning holds the alignment, sizing and prefetch constants of §4.2/§4.4.
// It is a struct rather than package constants so a single process can run
// multiple loaders, each with its own Tuning value passed to Open (the demo
// CLI's bench mode opens several files concurrently, all with the Tuning
// loaded from its config).
type Tuning struct {
	// MinDownloadSize is the smallest length a single server request may
	// carry; shorter Fetch requests are rounded up to this floor.
	MinDownloadSize int64
	// InitialDownloadSize is the floor for the very first request issued
	// by Open.
	InitialDownloadSize int64

	// InitialPingEstimateMs is used for read-ahead sizing before any real
	// ping sample exists.
	InitialPingEstimateMs int64
	// MaxAssumedPingMs caps each measured ping sample to keep request
	// sizing sane. InitialPingEstimateMs is not capped by it.
	MaxAssumedPingMs int64

	ReadAheadBeforePlaybackSeconds    float64
	ReadAheadBeforePlaybackRoundtrips float64
	ReadAheadDuringPlaybackSeconds    float64
	ReadAheadDuringPlaybackRoundtrips float64

	PrefetchThresholdFactor     float64
	FastPrefetchThresholdFactor float64
	MaxPrefetchRequests         int

	// MinRateFloor keeps an early-session, still-zero download rate
	// estimate from collapsing the fast-prefetch term to zero (a
	// behavior preserved from the original implementation; see
	// SPEC_FULL.md's supplemented-features note on pre_fetch_more_data).
	MinRateFloor int64

	// PerReadPingFactor converts a ping_time_ms sample into the "ping"
	// term of the per-read look-ahead formula. The prefetch target uses
	// ping_time_ms/1000 (real seconds); the per-read look-ahead uses
	// ping_time_ms*0.0001 (seconds/10) instead. This asymmetry is
	// preserved from the original implementation rather than corrected —
	// see SPEC_FULL.md §9 Open Questions.
	PerReadPingFactor float64
}

// DefaultTuning returns the constants of spec.md §4.2, reproduced exactly
// so request sizing and prefetch behavior match the reference design.
func DefaultTuning() Tuning {
	return Tuning{
		MinDownloadSize:     16 * 1024,
		InitialDownloadSize: 16 * 1024,

		InitialPingEstimateMs: 500,
		MaxAssumedPingMs:      1500,

		ReadAheadBeforePlaybackSeconds:    1.0,
		ReadAheadBeforePlaybackRoundtrips: 2.0,
		ReadAheadDuringPlaybackSeconds:    5.0,
		ReadAheadDuringPlaybackRoundtrips: 10.0,

		PrefetchThresholdFactor:     4.0,
		FastPrefetchThresholdFactor: 1.5,
		MaxPrefetchRequests:         4,

		MinRateFloor:      1,
		PerReadPingFactor: 0.0001,
	}
}

// LookAheadLength computes the per-read look-ahead length of §4.2's final
// paragraph: max(READ_AHEAD_DURING_PLAYBACK_SECONDS*rate,
// READ_AHEAD_DURING_PLAYBACK_ROUNDTRIPS*ping*rate), where ping is
// pingMs*PerReadPingFactor (not pingMs/1000 — see the PerReadPingFactor
// doc comment).
func (t Tuning) LookAheadLength(pingMs, bytesPerSecond int64) int64 {
	bySeconds := int64(t.ReadAheadDuringPlaybackSeconds * float64(bytesPerSecond))
	byPing := int64(t.ReadAheadDuringPlaybackRoundtrips * float64(pingMs) * t.PerReadPingFactor * float64(bytesPerSecond))
	return maxI64(bySeconds, byPing)
}

// InitialRequestLength computes the size of the very first range request
// issued by Open (§4.2), already rounded to a multiple of 4.
func (t Tuning) InitialRequestLength(bytesPerSecond int64, playFromBeginning bool) int64 {
	length := t.InitialDownloadSize
	if playFromBeginning {
		readAhead := int64(t.ReadAheadDuringPlaybackSeconds * float64(bytesPerSecond))
		pingReadAhead := int64(float64(t.InitialPingEstimateMs) / 1000.0 * t.ReadAheadDuringPlaybackRoundtrips * float64(bytesPerSecond))
		want := t.InitialDownloadSize + maxI64(readAhead, pingReadAhead)
		if want > length {
			length = want
		}
	}
	return alignUp4(length)
}

func alignUp4(n int64) int64 {
	if rem := n % 4; rem != 0 {
		n += 4 - rem
	}
	return n
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
