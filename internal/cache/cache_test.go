package cache_test

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/streamloader/internal/cache"
	"github.com/javi11/streamloader/internal/session"
)

// memTemp adapts a byte slice to session.ReadWriteAtCloser for feeding
// Store in tests.
type memTemp struct{ data []byte }

func (m *memTemp) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(m.data).ReadAt(p, off)
}
func (m *memTemp) WriteAt(p []byte, off int64) (int, error) {
	if int64(len(m.data)) < off+int64(len(p)) {
		grown := make([]byte, off+int64(len(p)))
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:], p)
	return len(p), nil
}
func (m *memTemp) Close() error { return nil }
func (m *memTemp) Size() int64  { return int64(len(m.data)) }

func fid(b byte) session.FileID {
	var id session.FileID
	for i := range id {
		id[i] = b
	}
	return id
}

func newTestCache(t *testing.T, maxBytes int64, expiry time.Duration) (*cache.DiskCache, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	c, err := cache.NewDiskCache(cache.Config{Fs: fs, Dir: "/cache", MaxSizeBytes: maxBytes, ExpiryDuration: expiry}, slog.Default())
	require.NoError(t, err)
	return c, fs
}

func TestDiskCacheStoreAndLookup(t *testing.T) {
	c, _ := newTestCache(t, 10*1024*1024, 0)

	id := fid(1)
	data := []byte("hello audio bytes")
	require.NoError(t, c.Store(id, &memTemp{data: append([]byte(nil), data...)}))

	assert.True(t, c.Has(id))
	assert.False(t, c.Has(fid(99)))

	handle, ok := c.Lookup(id)
	require.True(t, ok)
	defer handle.Close()

	got := make([]byte, handle.Size())
	n, err := handle.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got[:n])

	assert.EqualValues(t, 1, c.ItemCount())
	assert.EqualValues(t, len(data), c.TotalSize())
}

func TestDiskCacheLookupMiss(t *testing.T) {
	c, _ := newTestCache(t, 10*1024*1024, 0)

	handle, ok := c.Lookup(fid(7))
	assert.False(t, ok)
	assert.Nil(t, handle)
}

func TestDiskCacheEvictLRU(t *testing.T) {
	c, _ := newTestCache(t, 20, 0)

	old, newer, newest := fid(1), fid(2), fid(3)
	require.NoError(t, c.Store(old, &memTemp{data: []byte("0123456789")}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.Store(newer, &memTemp{data: []byte("abcdefghij")}))

	assert.EqualValues(t, 2, c.ItemCount())

	require.NoError(t, c.Store(newest, &memTemp{data: []byte("ABCDEFGHIJ")}))
	c.Evict()

	assert.EqualValues(t, 2, c.ItemCount())
	assert.False(t, c.Has(old), "oldest entry should have been evicted")
	assert.True(t, c.Has(newer))
	assert.True(t, c.Has(newest))
}

func TestDiskCacheCleanupExpiry(t *testing.T) {
	c, _ := newTestCache(t, 10*1024*1024, 50*time.Millisecond)

	id := fid(4)
	require.NoError(t, c.Store(id, &memTemp{data: []byte("data")}))
	assert.True(t, c.Has(id))

	time.Sleep(100 * time.Millisecond)
	c.Cleanup()

	assert.False(t, c.Has(id), "entry should have been cleaned up after expiry")
}

func TestDiskCacheSaveCatalogAndReload(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := cache.Config{Fs: fs, Dir: "/cache", MaxSizeBytes: 10 * 1024 * 1024}

	c1, err := cache.NewDiskCache(cfg, slog.Default())
	require.NoError(t, err)

	id := fid(5)
	require.NoError(t, c1.Store(id, &memTemp{data: []byte("persistent data")}))
	require.NoError(t, c1.SaveCatalog())

	c2, err := cache.NewDiskCache(cfg, slog.Default())
	require.NoError(t, err)

	assert.True(t, c2.Has(id), "reloaded cache should contain persisted entry")
	handle, ok := c2.Lookup(id)
	require.True(t, ok)
	defer handle.Close()

	got, err := io.ReadAll(&sectionReaderAt{r: handle, size: handle.Size()})
	require.NoError(t, err)
	assert.Equal(t, []byte("persistent data"), got)
}

func TestDiskCacheStoreOverwrite(t *testing.T) {
	c, _ := newTestCache(t, 10*1024*1024, 0)
	id := fid(6)

	require.NoError(t, c.Store(id, &memTemp{data: []byte("first")}))
	require.NoError(t, c.Store(id, &memTemp{data: []byte("second")}))

	assert.EqualValues(t, len("second"), c.TotalSize())

	handle, ok := c.Lookup(id)
	require.True(t, ok)
	defer handle.Close()

	got := make([]byte, handle.Size())
	_, err := handle.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

// sectionReaderAt turns a session.ReadAtCloser into an io.Reader for
// io.ReadAll in tests.
type sectionReaderAt struct {
	r    session.ReadAtCloser
	size int64
	pos  int64
}

func (s *sectionReaderAt) Read(p []byte) (int, error) {
	if s.pos >= s.size {
		return 0, io.EOF
	}
	if remaining := s.size - s.pos; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := s.r.ReadAt(p, s.pos)
	s.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}
