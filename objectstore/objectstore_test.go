package objectstore

import (
	"context"
	"io"
	"testing"

	"github.com/livepeer/go-tools/drivers"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	drivers.Testing = true
	m.Run()
}

func TestPutAndGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := New("file://" + dir)

	require.NoError(t, c.PutInit(context.Background(), []byte("ftypmoov")))

	rc, err := c.Get(context.Background(), "init.mp4")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "ftypmoov", string(data))
}

func TestGetMissingObjectReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	c := New("file://" + dir)

	_, err := c.Get(context.Background(), "does-not-exist.mp4")
	require.Error(t, err)
}

func TestPutPartAndSegmentPaths(t *testing.T) {
	dir := t.TempDir()
	c := New("file://" + dir)

	require.NoError(t, c.PutPart(context.Background(), 3, 7, []byte("part-bytes")))
	require.NoError(t, c.PutSegment(context.Background(), 3, []byte("segment-bytes")))

	rc, err := c.Get(context.Background(), "parts/3/7.m4s")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	require.Equal(t, "part-bytes", string(data))
}
