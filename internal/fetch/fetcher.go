// Package fetch implements the Fetcher: the background task that owns a
// single audio file's download, scheduling server range requests between
// explicit Fetch commands and the read-ahead prefetch policy, and
// writing delivered bytes into a temp file that is handed off on
// completion. See SPEC_FULL.md §4 for the full design.
package fetch

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/javi11/streamloader/internal/rangeset"
	"github.com/javi11/streamloader/internal/session"
	"github.com/javi11/streamloader/internal/wire"
)

// commandQueueSize bounds the Fetcher's command channel. A Fetch command
// that can't be enqueued is silently dropped: FetchBlocking's 1-second
// condvar-wait retry loop resubmits it, so a drop only costs latency, not
// correctness (§9 Open Question: "fetch_blocking resubmits the whole
// range on every retry").
const commandQueueSize = 64

// dataQueueSize bounds the Fetcher's internal fan-in channel fed by every
// in-flight receive task.
const dataQueueSize = 256

// Fetcher drives one audio file's download to completion or cancellation.
// Exactly one goroutine ever touches its non-atomic fields: the one
// running Run. Everything else interacts with it only through the
// channels SendCommand writes to and CompleteChan reads from, and through
// SharedState's own synchronization.
type Fetcher struct {
	sess   session.Session
	shared *SharedState
	tuning Tuning
	log    *slog.Logger

	fs       afero.Fs
	tempPath string
	temp     afero.File

	commands  chan Command
	data      chan event
	complete  chan session.ReadWriteAtCloser
	closeOnce sync.Once

	responseSamples []int64

	runCtx context.Context
}

// New creates a Fetcher for fileID's download into a temp file on fs
// named tempPath. The caller (AudioFile.Open) is responsible for opening
// temp for read-write before passing it in and for running Fetcher.Run on
// the session's shared executor.
func New(sess session.Session, shared *SharedState, tuning Tuning, fs afero.Fs, tempPath string, temp afero.File, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		sess:     sess,
		shared:   shared,
		tuning:   tuning,
		log:      log.With("component", "fetch"),
		fs:       fs,
		tempPath: tempPath,
		temp:     temp,
		commands: make(chan Command, commandQueueSize),
		data:     make(chan event, dataQueueSize),
		complete: make(chan session.ReadWriteAtCloser, 1),
	}
}

// Shared returns the state shared with the StreamLoaderController.
func (f *Fetcher) Shared() *SharedState { return f.shared }

// CompleteChan yields the completed temp file exactly once, when the
// whole file has been downloaded, then closes. A Fetcher that never
// completes (cancelled or closed first) never sends on it.
func (f *Fetcher) CompleteChan() <-chan session.ReadWriteAtCloser { return f.complete }

// SendCommand enqueues cmd without blocking. If the queue is full the
// command is dropped; callers that need delivery guarantees (FetchBlocking)
// retry.
func (f *Fetcher) SendCommand(cmd Command) {
	select {
	case f.commands <- cmd:
	default:
	}
}

// Close requests that the Fetcher stop; it is equivalent to sending
// CloseCommand() but also closes the command queue so a Fetcher blocked
// waiting for its next command wakes immediately. Safe to call more than
// once.
func (f *Fetcher) Close() {
	f.closeOnce.Do(func() { close(f.commands) })
}

// Run drives the Fetcher's scheduler loop until Close, a Close command,
// or ctx cancellation. It implements the poll order of §4.3: drain
// commands, drain data, evaluate the prefetch policy if streaming, then
// park until the next command, chunk or cancellation.
func (f *Fetcher) Run(ctx context.Context) {
	f.runCtx = ctx
	defer f.cleanup()

	for {
		for {
			select {
			case cmd, ok := <-f.commands:
				if !ok {
					return
				}
				if cmd.apply(f) {
					return
				}
				continue
			default:
			}
			break
		}

		for {
			select {
			case ev, ok := <-f.data:
				if !ok {
					return
				}
				if f.applyEvent(ev) {
					return
				}
				continue
			default:
			}
			break
		}

		if f.shared.Strategy() == StrategyStreaming {
			f.evaluatePrefetch(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-f.commands:
			if !ok {
				return
			}
			if cmd.apply(f) {
				return
			}
		case ev, ok := <-f.data:
			if !ok {
				return
			}
			if f.applyEvent(ev) {
				return
			}
		}
	}
}

// applyEvent processes one receive-task event. It returns true once the
// file has been fully downloaded, at which point Run finishes.
func (f *Fetcher) applyEvent(ev event) bool {
	switch e := ev.(type) {
	case evtPingSample:
		f.recordPing(e.ms)
	case evtChunk:
		if _, err := f.temp.WriteAt(e.data, e.offset); err != nil {
			f.log.ErrorContext(f.runCtx, "fetch: failed writing chunk to temp file", "offset", e.offset, "error", err)
			return false
		}
		if f.shared.addDownloaded(rangeset.Range{Start: e.offset, Length: int64(len(e.data))}) {
			f.finish()
			return true
		}
	}
	return false
}

func (f *Fetcher) recordPing(ms int64) {
	f.responseSamples = append(f.responseSamples, ms)
	if len(f.responseSamples) > 3 {
		f.responseSamples = f.responseSamples[len(f.responseSamples)-3:]
	}
	f.shared.pingTimeMs.Store(medianOf(f.responseSamples))
}

// medianOf implements the "median of up to three" rule: a single sample
// stands alone, two are averaged, three are sorted and the middle one is
// taken.
func medianOf(samples []int64) int64 {
	switch len(samples) {
	case 0:
		return 0
	case 1:
		return samples[0]
	case 2:
		return (samples[0] + samples[1]) / 2
	default:
		sorted := append([]int64(nil), samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		return sorted[len(sorted)/2]
	}
}

// finish seeks the completed temp file back to the start and hands it off
// on CompleteChan for the caller's promote-to-cache task to consume.
func (f *Fetcher) finish() {
	if _, err := f.temp.Seek(0, io.SeekStart); err != nil {
		f.log.WarnContext(f.runCtx, "fetch: failed to rewind completed temp file", "error", err)
	}
	f.complete <- &tempHandle{File: f.temp}
	close(f.complete)
	f.temp = nil
}

// cleanup drops any in-progress temp file on the way out. Run only
// reaches here without a nil f.temp when it exits before finish: Close,
// a Close command, or ctx cancellation.
func (f *Fetcher) cleanup() {
	if f.temp == nil {
		return
	}
	_ = f.temp.Close()
	_ = f.fs.Remove(f.tempPath)
	f.temp = nil
}

// downloadRange normalizes [start, start+length) per §4.2 (minimum size,
// end-of-file clamp, 4-byte alignment), plans which pieces are actually
// new work, and issues a request for each concurrently.
func (f *Fetcher) downloadRange(ctx context.Context, start, length int64) {
	pieces := f.planAligned(start, length)
	f.issueAll(ctx, pieces)
}

func (f *Fetcher) planAligned(start, length int64) []rangeset.Range {
	if length < f.tuning.MinDownloadSize {
		length = f.tuning.MinDownloadSize
	}
	if start >= f.shared.FileSize || length <= 0 {
		return nil
	}
	if start+length > f.shared.FileSize {
		length = f.shared.FileSize - start
	}
	if rem := start % 4; rem != 0 {
		length += rem
		start -= rem
	}
	if rem := length % 4; rem != 0 {
		length += 4 - rem
	}
	if length <= 0 {
		return nil
	}
	return f.shared.planDownload(rangeset.Range{Start: start, Length: length})
}

func (f *Fetcher) issueAll(ctx context.Context, pieces []rangeset.Range) {
	if len(pieces) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pieces {
		p := p
		g.Go(func() error {
			f.issueRequest(gctx, p)
			return nil
		})
	}
	_ = g.Wait()
}

// issueRequest allocates a channel, sends the wire-format range request
// and spawns the receive task that will deliver the response. Any
// failure in this sequence un-marks the piece from Requested so a later
// pass retries it.
func (f *Fetcher) issueRequest(ctx context.Context, r rangeset.Range) {
	id, ch, err := f.sess.AllocateChannel(ctx)
	if err != nil {
		f.shared.narrowRequested(r)
		f.log.WarnContext(ctx, "fetch: failed to allocate channel", "offset", r.Start, "length", r.Length, "error", err)
		return
	}

	pkt, err := wire.BuildRangeRequest(id, f.shared.FileID, r.Start, r.Length)
	if err != nil {
		f.shared.narrowRequested(r)
		f.log.ErrorContext(ctx, "fetch: failed to build range request", "offset", r.Start, "length", r.Length, "error", err)
		return
	}

	if err := f.sess.SendPacket(wire.RequestOpcode, pkt); err != nil {
		f.shared.narrowRequested(r)
		f.log.WarnContext(ctx, "fetch: failed to send range request", "offset", r.Start, "length", r.Length, "error", err)
		return
	}

	f.SpawnReceiveForInitialRequest(ch, r.Start, r.Length, time.Now())
}

// SpawnReceiveForInitialRequest spawns the receive task for a range
// request whose channel was already allocated and sent elsewhere — used
// by AudioFile.Open for the very first request, which doubles as the
// fetch that carries the file-size header. Every other request goes
// through issueRequest, which calls this too.
func (f *Fetcher) SpawnReceiveForInitialRequest(ch session.Channel, offset, length int64, sentAt time.Time) {
	shared, tuning, data, log := f.shared, f.tuning, f.data, f.log
	f.sess.Spawn(func(ctx context.Context) {
		runReceiveTask(ctx, shared, data, ch, offset, length, sentAt, tuning, log)
	})
}

// evaluatePrefetch runs the §4.4 read-ahead policy: target a pending
// (requested-but-not-yet-downloaded) byte count derived from the ping
// estimate and the nominal/estimated data rates, then top up toward that
// target, tail-first, bounded by the number of in-flight request slots
// still available.
func (f *Fetcher) evaluatePrefetch(ctx context.Context) {
	slots := f.tuning.MaxPrefetchRequests - int(f.shared.OpenRequests())
	if slots <= 0 {
		return
	}

	pingS := float64(f.shared.PingTimeMs()) / 1000.0
	rate := f.sess.DownloadRateEstimate()
	if rate < f.tuning.MinRateFloor {
		rate = f.tuning.MinRateFloor
	}

	nominalTarget := f.tuning.PrefetchThresholdFactor * pingS * float64(f.shared.NominalDataRate)
	fastTarget := f.tuning.FastPrefetchThresholdFactor * pingS * float64(rate)
	target := nominalTarget
	if fastTarget > target {
		target = fastTarget
	}

	pending := f.shared.pendingLength()
	want := int64(target) - pending
	if want <= 0 {
		return
	}

	f.prefetchMore(ctx, want, slots)
}

// prefetchMore selects up to maxRequests ranges, preferring the
// contiguous run starting at the current read position (so linear
// playback never starves), falling back to the earliest missing byte
// otherwise. Selection is strictly sequential — each iteration's choice
// depends on the previous iteration having marked its pick Requested —
// but the network calls for the whole selected batch are issued
// concurrently once selection finishes.
func (f *Fetcher) prefetchMore(ctx context.Context, bytes int64, maxRequests int) {
	var batch []rangeset.Range
	bytesToGo := bytes
	requestsToGo := maxRequests

	for bytesToGo > 0 && requestsToGo > 0 {
		missing := f.shared.missingSet()
		if missing.IsEmpty() {
			break
		}

		readPos := f.shared.ReadPosition()
		tail := rangeset.NewFromRange(rangeset.Range{Start: readPos, Length: f.shared.FileSize - readPos})
		tail = tail.Intersection(missing)

		var chosen rangeset.Range
		if !tail.IsEmpty() {
			chosen = tail.GetRange(0)
		} else {
			chosen = missing.GetRange(0)
		}

		length := chosen.Length
		if length > bytesToGo {
			length = bytesToGo
		}

		pieces := f.planAligned(chosen.Start, length)
		batch = append(batch, pieces...)

		requestsToGo--
		bytesToGo -= length
	}

	f.issueAll(ctx, batch)
}

// tempHandle adapts an afero.File to session.ReadWriteAtCloser by adding
// Size(), which afero.File exposes only via Stat().
type tempHandle struct {
	afero.File
}

func (t *tempHandle) Size() int64 {
	info, err := t.File.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

var _ session.ReadWriteAtCloser = (*tempHandle)(nil)
