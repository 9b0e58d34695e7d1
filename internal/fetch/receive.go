package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/javi11/streamloader/internal/rangeset"
	"github.com/javi11/streamloader/internal/session"
)

// event is what a receive task reports back to the Fetcher's data queue.
type event interface{ isEvent() }

type evtPingSample struct{ ms int64 }

func (evtPingSample) isEvent() {}

type evtChunk struct {
	offset int64
	data   []byte
}

func (evtChunk) isEvent() {}

// runReceiveTask drains a single Channel's response for [offset,
// offset+length), translating it into ping-sample and chunk events on
// events. It is spawned once per issued request via session.Spawn and
// runs for the lifetime of that one request only.
//
// The first receive task to observe open_requests_count == 0 (i.e. the
// one that brings it to 1) times the gap between the request being sent
// and its first byte arriving and reports it as a ping sample; later
// concurrent requests don't, since their first-byte latency is inflated
// by queueing behind the first and would skew the estimate.
func runReceiveTask(
	ctx context.Context,
	shared *SharedState,
	events chan<- event,
	ch session.Channel,
	offset, length int64,
	sentAt time.Time,
	tuning Tuning,
	log *slog.Logger,
) {
	measurePing := shared.openRequests.Add(1) == 1
	defer shared.openRequests.Add(-1)

	dataOffset := offset
	remaining := length

	for {
		select {
		case chunk, ok := <-ch.Data():
			if !ok {
				finishShort(ctx, shared, log, offset, length, dataOffset, remaining, ch)
				return
			}

			if measurePing {
				ms := time.Since(sentAt).Milliseconds()
				if ms > tuning.MaxAssumedPingMs {
					ms = tuning.MaxAssumedPingMs
				}
				sendEvent(ctx, events, evtPingSample{ms: ms})
				measurePing = false
			}

			n := int64(len(chunk))
			sendEvent(ctx, events, evtChunk{offset: dataOffset, data: chunk})
			dataOffset += n

			if n >= remaining {
				if n > remaining {
					log.WarnContext(ctx, "fetch: receive task got more data than requested",
						"requestOffset", offset, "requestLength", length, "overrun", n-remaining)
				}
				remaining = 0
				return
			}
			remaining -= n

		case <-ctx.Done():
			finishShort(ctx, shared, log, offset, length, dataOffset, remaining, ch)
			return
		}
	}
}

// finishShort handles every exit path that leaves remaining > 0: a clean
// EOF before the full range arrived, a channel error, or cancellation.
// The unfulfilled tail is removed from Requested so a later prefetch or
// Fetch pass will reissue it.
func finishShort(ctx context.Context, shared *SharedState, log *slog.Logger, reqOffset, reqLength, dataOffset, remaining int64, ch session.Channel) {
	if remaining <= 0 {
		return
	}

	chErr := <-ch.Done()

	shared.narrowRequested(rangeset.Range{Start: dataOffset, Length: remaining})

	if chErr != nil {
		log.WarnContext(ctx, "fetch: channel failed before range completed",
			"requestOffset", reqOffset, "requestLength", reqLength, "remaining", remaining, "error", chErr)
	} else {
		log.WarnContext(ctx, "fetch: channel closed before range completed",
			"requestOffset", reqOffset, "requestLength", reqLength, "remaining", remaining)
	}
}

func sendEvent(ctx context.Context, ch chan<- event, ev event) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
