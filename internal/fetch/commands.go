package fetch

import "github.com/javi11/streamloader/internal/rangeset"

// Command is a message the consumer-facing controller sends into a
// Fetcher's command queue. The concrete types are unexported; construct
// one with the *Command constructor functions below.
type Command interface {
	apply(f *Fetcher) (stop bool)
}

// FetchCommand asks the Fetcher to ensure [start, start+length) is
// requested, same as a consumer Read driving the download.
func FetchCommand(start, length int64) Command {
	return cmdFetch{rangeset.Range{Start: start, Length: length}}
}

// SetRandomAccessCommand switches off the prefetch policy.
func SetRandomAccessCommand() Command { return cmdSetStrategy{StrategyRandomAccess} }

// SetStreamingCommand switches on the prefetch policy.
func SetStreamingCommand() Command { return cmdSetStrategy{StrategyStreaming} }

// CloseCommand asks the Fetcher to stop, dropping any in-progress temp
// file. After Close, the Fetcher's command and data queues are no longer
// serviced.
func CloseCommand() Command { return cmdClose{} }

type cmdFetch struct{ r rangeset.Range }

func (c cmdFetch) apply(f *Fetcher) bool {
	f.downloadRange(f.runCtx, c.r.Start, c.r.Length)
	return false
}

type cmdSetStrategy struct{ next Strategy }

func (c cmdSetStrategy) apply(f *Fetcher) bool {
	prev := f.shared.SetStrategy(c.next)
	if prev != c.next {
		f.log.InfoContext(f.runCtx, "fetch: strategy changed", "from", prev.String(), "to", c.next.String())
	}
	return false
}

type cmdClose struct{}

func (c cmdClose) apply(f *Fetcher) bool { return true }
