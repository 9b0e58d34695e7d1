package cmd

import (
	"crypto/sha256"

	"github.com/javi11/streamloader/internal/session"
)

// newFakeSessionFromConfig builds a FakeSession serving data, tuned from
// the loaded Config's Session section. The file id is derived from a
// hash of the source bytes so repeated runs against the same file reuse
// the same identity.
func newFakeSessionFromConfig(data []byte) (*session.FakeSession, session.FileID) {
	var fid session.FileID
	sum := sha256.Sum256(data)
	copy(fid[:], sum[:len(fid)])

	fake := session.NewFakeSession(fid, data)
	if cfg.Session.ChunkSizeBytes > 0 {
		fake.SetChunkSize(int(cfg.Session.ChunkSizeBytes))
	}
	if cfg.Session.Latency > 0 {
		fake.SetLatency(cfg.Session.Latency)
	}
	if cfg.Session.RateBytesPerSecond > 0 {
		fake.SetRate(cfg.Session.RateBytesPerSecond)
	}

	return fake, fid
}

// sessionRate returns the configured nominal bitrate, or a reasonable
// default when unset.
func sessionRate() int64 {
	if cfg.Session.RateBytesPerSecond > 0 {
		return cfg.Session.RateBytesPerSecond
	}
	return 16000
}
