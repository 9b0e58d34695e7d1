// Package audiofile exposes the consumer-facing Audio File Handle: a
// Read+Seek facade over either an already-cached file or an in-progress
// Fetcher-backed download, plus the Stream Loader Controller used to
// drive fetch hints and mode switches into that download. See
// SPEC_FULL.md §3/§4.3/§6 for the full design this implements.
package audiofile

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/javi11/streamloader/internal/fetch"
	"github.com/javi11/streamloader/internal/session"
	"github.com/javi11/streamloader/internal/wire"
)

// fileSizeHeaderTag is the only inbound header tag the core parses; every
// other tag is ignored (§6).
const fileSizeHeaderTag = 0x03

// AudioFile is a Read+Seek handle over one remote audio file, backed
// either by an already-complete cached file or by an in-progress
// download. The zero value is not usable; construct with Open.
type AudioFile struct {
	cached    *cachedFile
	streaming *streamingFile
}

var _ io.ReadSeeker = (*AudioFile)(nil)

// Open resolves fileID to an AudioFile: a cache hit returns immediately
// with no network activity; otherwise it issues the initial range
// request, learns the file size from the tag-0x3 header, and starts the
// background Fetcher before returning a Streaming handle.
func Open(ctx context.Context, sess session.Session, fileID session.FileID, bytesPerSecond int64, playFromBeginning bool, opts ...Option) (*AudioFile, error) {
	cfg := defaultOptions()
	for _, o := range opts {
		o(&cfg)
	}
	log := cfg.log.With("component", "audiofile")

	if cache, ok := sess.Cache(); ok {
		if handle, ok := cache.Lookup(fileID); ok {
			log.InfoContext(ctx, "audiofile: cache hit", "fileSize", handle.Size())
			return &AudioFile{cached: &cachedFile{handle: handle, size: handle.Size()}}, nil
		}
	}

	initialLength := cfg.tuning.InitialRequestLength(bytesPerSecond, playFromBeginning)

	var (
		ch       session.Channel
		sentAt   time.Time
		fileSize int64
	)
	err := retry.Do(func() error {
		id, c, err := sess.AllocateChannel(ctx)
		if err != nil {
			return fmt.Errorf("audiofile: allocate channel: %w", err)
		}

		pkt, err := wire.BuildRangeRequest(id, fileID, 0, initialLength)
		if err != nil {
			return fmt.Errorf("audiofile: build initial request: %w", err)
		}

		sent := time.Now()
		if err := sess.SendPacket(wire.RequestOpcode, pkt); err != nil {
			return fmt.Errorf("audiofile: send initial request: %w", err)
		}

		size, err := awaitFileSizeHeader(ctx, c)
		if err != nil {
			return err
		}

		ch, sentAt, fileSize = c, sent, size
		return nil
	}, retry.Attempts(cfg.openRetryAttempts), retry.Context(ctx), retry.DelayType(retry.BackOffDelay), retry.LastErrorOnly(true))
	if err != nil {
		return nil, err
	}

	length := initialLength
	if length > fileSize {
		length = fileSize
	}

	tempPath := filepath.Join(tempDirOrDefault(cfg.tempDir), "streamloader-"+uuid.NewString()+".tmp")
	writeHandle, err := cfg.fs.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("audiofile: create temp file: %w", err)
	}
	if err := writeHandle.Truncate(fileSize); err != nil {
		_ = writeHandle.Close()
		_ = cfg.fs.Remove(tempPath)
		return nil, fmt.Errorf("audiofile: truncate temp file: %w", err)
	}

	readHandle, err := cfg.fs.Open(tempPath)
	if err != nil {
		_ = writeHandle.Close()
		_ = cfg.fs.Remove(tempPath)
		return nil, fmt.Errorf("audiofile: reopen temp file for reading: %w", err)
	}

	shared := fetch.NewSharedState(fileID, fileSize, bytesPerSecond, cfg.tuning.InitialPingEstimateMs, length)
	fetcher := fetch.New(sess, shared, cfg.tuning, cfg.fs, tempPath, writeHandle, cfg.log)

	sess.Spawn(fetcher.Run)
	fetcher.SpawnReceiveForInitialRequest(ch, 0, length, sentAt)

	if playFromBeginning {
		shared.SetStrategy(fetch.StrategyStreaming)
	}

	return &AudioFile{streaming: &streamingFile{
		fetcher:  fetcher,
		shared:   shared,
		readFile: readHandle,
		tuning:   cfg.tuning,
	}}, nil
}

func tempDirOrDefault(dir string) string {
	if dir != "" {
		return dir
	}
	return "/tmp"
}

// awaitFileSizeHeader reads headers until the one tag-0x3 file-size
// header arrives, ignoring every other tag per §6.
func awaitFileSizeHeader(ctx context.Context, ch session.Channel) (int64, error) {
	for {
		select {
		case hdr, ok := <-ch.Headers():
			if !ok {
				return 0, fmt.Errorf("%w: header sequence ended before a file-size header arrived", session.ErrChannel)
			}
			if hdr.Tag != fileSizeHeaderTag {
				continue
			}
			if len(hdr.Payload) != 4 {
				return 0, fmt.Errorf("audiofile: malformed file-size header payload (%d bytes)", len(hdr.Payload))
			}
			return int64(binary.BigEndian.Uint32(hdr.Payload)) * 4, nil
		case err, ok := <-ch.Done():
			if ok && err != nil {
				return 0, fmt.Errorf("%w: %v", session.ErrChannel, err)
			}
			return 0, fmt.Errorf("%w: channel closed before a file-size header arrived", session.ErrChannel)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// IsCached reports whether this handle is the plain-file Cached variant.
func (a *AudioFile) IsCached() bool { return a.cached != nil }

// Read implements io.Reader.
func (a *AudioFile) Read(p []byte) (int, error) {
	if a.cached != nil {
		return a.cached.Read(p)
	}
	return a.streaming.Read(p)
}

// Seek implements io.Seeker. Seeking never itself triggers a fetch; it
// only moves the read cursor. The next Read computes and issues whatever
// look-ahead is needed.
func (a *AudioFile) Seek(offset int64, whence int) (int64, error) {
	if a.cached != nil {
		return a.cached.Seek(offset, whence)
	}
	return a.streaming.Seek(offset, whence)
}

// StreamLoaderController returns the fetch-hint/mode-switch handle for
// this file. For a Cached AudioFile the controller holds no Fetcher: its
// methods degrade to pure arithmetic over file size, matching spec.md
// §4.3 ("For cached files the senders are absent").
func (a *AudioFile) StreamLoaderController() *StreamLoaderController {
	if a.cached != nil {
		return &StreamLoaderController{fileSize: a.cached.size}
	}
	return &StreamLoaderController{fetcher: a.streaming.fetcher, fileSize: a.streaming.shared.FileSize}
}

// Close releases the handle. For a Streaming file this closes the
// Fetcher's command queue (terminating it, dropping any in-progress temp
// file per §5) and closes the read-only handle; for Cached it closes the
// cache-backed handle.
func (a *AudioFile) Close() error {
	if a.cached != nil {
		return a.cached.handle.Close()
	}
	a.streaming.fetcher.Close()
	return a.streaming.readFile.Close()
}
