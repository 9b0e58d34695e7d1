package audiofile

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/javi11/streamloader/internal/session"
)

func testFileID(b byte) session.FileID {
	var id session.FileID
	for i := range id {
		id[i] = b
	}
	return id
}

// fakeCacheHandle adapts a byte slice to session.ReadAtCloser /
// session.ReadWriteAtCloser for tests.
type fakeCacheHandle struct {
	data []byte
}

func (f *fakeCacheHandle) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(f.data).ReadAt(p, off)
}
func (f *fakeCacheHandle) Close() error { return nil }
func (f *fakeCacheHandle) Size() int64  { return int64(len(f.data)) }

// fakeCache is an in-memory session.Cache.
type fakeCache struct {
	mu        sync.Mutex
	files     map[session.FileID][]byte
	storeCnt  int
	lookupCnt int
}

func newFakeCache() *fakeCache { return &fakeCache{files: make(map[session.FileID][]byte)} }

func (c *fakeCache) put(id session.FileID, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[id] = data
}

func (c *fakeCache) Lookup(id session.FileID) (session.ReadAtCloser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookupCnt++
	data, ok := c.files[id]
	if !ok {
		return nil, false
	}
	return &fakeCacheHandle{data: data}, true
}

func (c *fakeCache) Store(id session.FileID, temp session.ReadWriteAtCloser) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeCnt++
	buf := make([]byte, temp.Size())
	_, _ = temp.ReadAt(buf, 0)
	c.files[id] = buf
	return temp.Close()
}

func TestOpenCacheHit(t *testing.T) {
	fid := testFileID(1)
	cache := newFakeCache()
	data := bytes.Repeat([]byte{0x42}, 1000)
	cache.put(fid, data)

	fake := session.NewFakeSession(fid, nil)
	fake.SetCache(cache)

	af, err := Open(context.Background(), fake, fid, 40000, true, WithFS(afero.NewMemMapFs()))
	require.NoError(t, err)
	require.True(t, af.IsCached())

	ctrl := af.StreamLoaderController()
	require.Equal(t, int64(1000), ctrl.Len())
	require.True(t, ctrl.RangeAvailable(0, 1000))

	got := make([]byte, 1000)
	n, err := af.Read(got)
	require.NoError(t, err)
	require.Equal(t, 1000, n)
	require.Equal(t, data, got)
}

func TestOpenColdStreamingDownloadsWholeFile(t *testing.T) {
	data := bytes.Repeat([]byte{0x7A}, 200000)
	fid := testFileID(2)
	fake := session.NewFakeSession(fid, data)
	fake.SetChunkSize(32 * 1024)

	af, err := Open(context.Background(), fake, fid, 40000, true, WithFS(afero.NewMemMapFs()))
	require.NoError(t, err)
	require.False(t, af.IsCached())

	ctrl := af.StreamLoaderController()
	require.Equal(t, int64(200000), ctrl.Len())

	require.Eventually(t, func() bool {
		return ctrl.RangeAvailable(0, 200000)
	}, 3*time.Second, 10*time.Millisecond)

	got := make([]byte, 200000)
	n, err := af.Read(got)
	require.NoError(t, err)
	require.Equal(t, 200000, n)
	require.True(t, bytes.Equal(got, data))
}

func TestSeekThenReadReturnsRequestedWindow(t *testing.T) {
	data := make([]byte, 131072)
	for i := range data {
		data[i] = byte(i)
	}
	fid := testFileID(3)
	fake := session.NewFakeSession(fid, data)

	af, err := Open(context.Background(), fake, fid, 16000, false, WithFS(afero.NewMemMapFs()))
	require.NoError(t, err)

	_, err = af.Seek(65536, 0)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	n, err := af.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 4096, n)
	require.Equal(t, data[65536:65536+4096], buf)
}

func TestFetchBlockingRecoversFromEarlyFinish(t *testing.T) {
	data := make([]byte, 65536)
	fid := testFileID(4)
	fake := session.NewFakeSession(fid, data)
	fake.FailFirstBytesInRange(32768, 49152, 8192)

	af, err := Open(context.Background(), fake, fid, 16000, false, WithFS(afero.NewMemMapFs()))
	require.NoError(t, err)

	ctrl := af.StreamLoaderController()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ctrl.FetchBlocking(ctx, 32768, 16384)

	require.True(t, ctrl.RangeAvailable(32768, 16384))
}

func TestCompletionHandsOffExactlyOnce(t *testing.T) {
	data := bytes.Repeat([]byte{0x11}, 1024)
	fid := testFileID(5)
	fake := session.NewFakeSession(fid, data)
	cache := newFakeCache()
	fake.SetCache(cache)

	af, err := Open(context.Background(), fake, fid, 8000, true, WithFS(afero.NewMemMapFs()))
	require.NoError(t, err)
	require.False(t, af.IsCached())

	done := make(chan struct{})
	go func() {
		defer close(done)
		handle, ok := <-af.streaming.fetcher.CompleteChan()
		if !ok {
			return
		}
		_ = cache.Store(fid, handle)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for completion handoff")
	}

	cache.mu.Lock()
	storeCnt := cache.storeCnt
	stored := cache.files[fid]
	cache.mu.Unlock()

	require.Equal(t, 1, storeCnt)
	require.Equal(t, data, stored)
}
