package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// FakeSession is an in-memory Session backed by a byte slice, used by
// this module's own tests and by the demo CLI's bench command. It
// parses the range-request packet built by internal/wire well enough to
// serve the requested byte range back out of its in-memory file,
// simulating latency, chunking and injected failures.
type FakeSession struct {
	mu sync.Mutex

	fileID   FileID
	data     []byte
	chunkSz  int
	latency  time.Duration
	rate     int64 // bytes/sec reported by DownloadRateEstimate; serve does not throttle to it
	channels map[uint16]*fakeChannel
	nextID   uint16
	cache    Cache

	// failRanges simulates a server that drops the connection partway
	// through serving a request whose start offset falls in one of these
	// ranges: only the first `deliverBytes` bytes of the response are
	// sent before Done() fires with ErrChannel.
	failRanges []failSpec

	wg sync.WaitGroup
}

type failSpec struct {
	start, end   int64
	deliverBytes int64
}

// NewFakeSession creates a fake session serving data as the file
// identified by id. Defaults: 16KiB chunks, no latency, a download-rate
// estimate of 0. Delivery speed is never throttled to the configured rate.
func NewFakeSession(id FileID, data []byte) *FakeSession {
	return &FakeSession{
		fileID:   id,
		data:     data,
		chunkSz:  16 * 1024,
		channels: make(map[uint16]*fakeChannel),
	}
}

func (s *FakeSession) SetChunkSize(n int) { s.mu.Lock(); s.chunkSz = n; s.mu.Unlock() }
func (s *FakeSession) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}
func (s *FakeSession) SetRate(bytesPerSec int64) { s.mu.Lock(); s.rate = bytesPerSec; s.mu.Unlock() }
func (s *FakeSession) SetCache(c Cache)          { s.mu.Lock(); s.cache = c; s.mu.Unlock() }

// FailFirstBytesInRange arranges that any request whose start offset
// falls in [start, end) delivers only deliverBytes before the channel
// reports ErrChannel, simulating a dropped connection — used to exercise
// the early-finish recovery path.
func (s *FakeSession) FailFirstBytesInRange(start, end, deliverBytes int64) {
	s.mu.Lock()
	s.failRanges = append(s.failRanges, failSpec{start, end, deliverBytes})
	s.mu.Unlock()
}

// Wait blocks until every response this session is serving has finished
// delivering (or failing) and every task started through Spawn has
// returned. Intended for tests.
func (s *FakeSession) Wait() { s.wg.Wait() }

func (s *FakeSession) AllocateChannel(_ context.Context) (uint16, Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	ch := &fakeChannel{
		headers: make(chan HeaderEntry, 1),
		data:    make(chan []byte, 8),
		done:    make(chan error, 1),
	}
	s.channels[id] = ch
	return id, ch, nil
}

func (s *FakeSession) SendPacket(opcode uint8, payload []byte) error {
	if opcode != 0x08 {
		return fmt.Errorf("fake session: unsupported opcode %#x", opcode)
	}
	if len(payload) != 46 {
		return fmt.Errorf("fake session: malformed range request packet, got %d bytes", len(payload))
	}

	id := binary.BigEndian.Uint16(payload[0:2])
	var fid FileID
	copy(fid[:], payload[18:38])
	startWord := binary.BigEndian.Uint32(payload[38:42])
	endWord := binary.BigEndian.Uint32(payload[42:46])
	start := int64(startWord) * 4
	end := int64(endWord) * 4

	s.mu.Lock()
	ch, ok := s.channels[id]
	latency := s.latency
	chunkSz := s.chunkSz
	var fail *failSpec
	for i := range s.failRanges {
		f := s.failRanges[i]
		if start >= f.start && start < f.end {
			fail = &f
			break
		}
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("fake session: unknown channel id %d", id)
	}
	if fid != s.fileID {
		return fmt.Errorf("fake session: unknown file id")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(ch, start, end, chunkSz, latency, fail)
	}()

	return nil
}

func (s *FakeSession) serve(ch *fakeChannel, start, end int64, chunkSz int, latency time.Duration, fail *failSpec) {
	if latency > 0 {
		time.Sleep(latency)
	}

	if start == 0 {
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint32(hdr, uint32(len(s.data)/4))
		ch.headers <- HeaderEntry{Tag: 0x3, Payload: hdr}
	}
	close(ch.headers)

	if end > int64(len(s.data)) {
		end = int64(len(s.data))
	}

	delivered := int64(0)
	budget := end - start
	if fail != nil && fail.deliverBytes < budget {
		budget = fail.deliverBytes
	}

	for delivered < budget {
		n := int64(chunkSz)
		if n > budget-delivered {
			n = budget - delivered
		}
		chunk := make([]byte, n)
		copy(chunk, s.data[start+delivered:start+delivered+n])
		ch.data <- chunk
		delivered += n
	}

	close(ch.data)
	if fail != nil {
		ch.done <- ErrChannel
	} else {
		ch.done <- nil
	}
	close(ch.done)
}

func (s *FakeSession) DownloadRateEstimate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *FakeSession) Spawn(task func(ctx context.Context)) {
	ctx := context.Background()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task(ctx)
	}()
}

func (s *FakeSession) Cache() (Cache, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache, s.cache != nil
}

type fakeChannel struct {
	headers chan HeaderEntry
	data    chan []byte
	done    chan error
}

func (c *fakeChannel) Headers() <-chan HeaderEntry { return c.headers }
func (c *fakeChannel) Data() <-chan []byte         { return c.data }
func (c *fakeChannel) Done() <-chan error          { return c.done }
