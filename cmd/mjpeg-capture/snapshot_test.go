package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/mjpegtest"
)

func TestTakeSnapshots(t *testing.T) {
	provider := newFakeProvider()
	var out bytes.Buffer

	taken, err := takeSnapshots(context.Background(), provider, 3, time.Millisecond, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, taken)
	assert.Contains(t, out.String(), "Snapshot #1")
	assert.Contains(t, out.String(), "Snapshot #3")
	assert.Contains(t, out.String(), "?x?", "fake payloads have no decodable dimensions")
}

func TestTakeSnapshots_SkipsFailedRequests(t *testing.T) {
	timeout := &mjpegcapture.Error{Kind: mjpegcapture.KindTimeout, Op: "snapshot"}
	provider := newFakeProvider(timeout, timeout)

	taken, err := takeSnapshots(context.Background(), provider, 2, time.Millisecond, nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 2, taken)
	assert.Equal(t, 4, provider.requestCount())
}

func TestTakeSnapshots_StopsOnChannelError(t *testing.T) {
	exhausted := &mjpegcapture.Error{Kind: mjpegcapture.KindChannel, Op: "snapshot", Err: mjpegcapture.ErrRestartsExhausted}
	provider := newFakeProvider(exhausted)

	taken, err := takeSnapshots(context.Background(), provider, 5, time.Millisecond, nil, &bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, mjpegcapture.ErrRestartsExhausted)
	assert.Zero(t, taken)
}

func TestTakeSnapshots_UntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	taken, err := takeSnapshots(ctx, newFakeProvider(), 0, 10*time.Millisecond, nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Greater(t, taken, 1)
}

func TestTakeSnapshots_SavesFrames(t *testing.T) {
	dir := t.TempDir()
	saver, err := NewFrameSaver(filepath.Join(dir, "frames"))
	require.NoError(t, err)

	taken, err := takeSnapshots(context.Background(), newFakeProvider(), 2, time.Millisecond, saver, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 2, taken)

	saved, dropped := saver.Stats()
	assert.EqualValues(t, 2, saved)
	assert.Zero(t, dropped)

	files, err := filepath.Glob(filepath.Join(dir, "frames", "frame_*.jpg"))
	require.NoError(t, err)
	require.Len(t, files, 2)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])
}

func TestFrameSaver_Filename(t *testing.T) {
	saver, err := NewFrameSaver(t.TempDir())
	require.NoError(t, err)

	ts := time.Date(2025, 11, 5, 23, 45, 17, 123_000_000, time.UTC)
	path, err := saver.SaveFrame(mjpegcapture.Frame{Seq: 42, Timestamp: ts, Data: mjpegtest.FakeJPEG(42, 64)})
	require.NoError(t, err)
	assert.Equal(t, "frame_000042_20251105_234517.123.jpg", filepath.Base(path))
}

func TestFrameSaver_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	saver, err := NewFrameSaver(dir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	_, err = saver.SaveFrame(mjpegcapture.Frame{Seq: 1, Timestamp: time.Now(), Data: []byte{0xFF, 0xD8}})
	require.Error(t, err)

	saved, dropped := saver.Stats()
	assert.Zero(t, saved)
	assert.EqualValues(t, 1, dropped)
}

// tinyJPEG is a valid 1x1 baseline JPEG.
var tinyJPEG = []byte{
	0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00, 0x01, 0x01, 0x00, 0x00, 0x01,
	0x00, 0x01, 0x00, 0x00, 0xFF, 0xDB, 0x00, 0x43, 0x00, 0x08, 0x06, 0x06, 0x07, 0x06, 0x05, 0x08,
	0x07, 0x07, 0x07, 0x09, 0x09, 0x08, 0x0A, 0x0C, 0x14, 0x0D, 0x0C, 0x0B, 0x0B, 0x0C, 0x19, 0x12,
	0x13, 0x0F, 0x14, 0x1D, 0x1A, 0x1F, 0x1E, 0x1D, 0x1A, 0x1C, 0x1C, 0x20, 0x24, 0x2E, 0x27, 0x20,
	0x22, 0x2C, 0x23, 0x1C, 0x1C, 0x28, 0x37, 0x29, 0x2C, 0x30, 0x31, 0x34, 0x34, 0x34, 0x1F, 0x27,
	0x39, 0x3D, 0x38, 0x32, 0x3C, 0x2E, 0x33, 0x34, 0x32, 0xFF, 0xC0, 0x00, 0x0B, 0x08, 0x00, 0x01,
	0x00, 0x01, 0x01, 0x01, 0x11, 0x00, 0xFF, 0xC4, 0x00, 0x1F, 0x00, 0x00, 0x01, 0x05, 0x01, 0x01,
	0x01, 0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04,
	0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0xFF, 0xDA, 0x00, 0x08, 0x01, 0x01, 0x00, 0x00, 0x3F,
	0x00, 0xD2, 0xCF, 0x20, 0xFF, 0xD9,
}

func TestDimensions(t *testing.T) {
	w, h, ok := dimensions(tinyJPEG)
	require.True(t, ok)
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)

	_, _, ok = dimensions(mjpegtest.FakeJPEG(1, 64))
	assert.False(t, ok)
}

func TestSnapshotCommand(t *testing.T) {
	srv := mjpegtest.NewServer(10 * time.Millisecond)
	t.Cleanup(srv.Close)

	saved := sourceURL
	t.Cleanup(func() { sourceURL = saved })

	dir := t.TempDir()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"snapshot", "--url", srv.URL, "--count", "2", "--interval", "20ms", "--output", dir})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		snapshotFlags.outputDir = ""
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Snapshot #2")
	assert.Contains(t, out.String(), "Final Statistics")

	files, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
