package main

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync/atomic"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
)

// FrameSaver writes snapshots to disk exactly as received.
//
// Thread-safe: can be called from multiple goroutines concurrently.
type FrameSaver struct {
	outputDir     string
	framesSaved   atomic.Uint64
	framesDropped atomic.Uint64
}

// NewFrameSaver creates a frame saver for outputDir, creating it if needed.
func NewFrameSaver(outputDir string) (*FrameSaver, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FrameSaver{outputDir: outputDir}, nil
}

// SaveFrame writes frame.Data and returns the file path.
//
// Filename format: frame_{seq:06d}_{timestamp}.jpg
// Example: frame_000042_20251105_234517.123.jpg
func (fs *FrameSaver) SaveFrame(frame mjpegcapture.Frame) (string, error) {
	filename := fmt.Sprintf("frame_%06d_%s.jpg",
		frame.Seq,
		frame.Timestamp.Format("20060102_150405.000"))
	path := filepath.Join(fs.outputDir, filename)

	if err := os.WriteFile(path, frame.Data, 0o644); err != nil {
		fs.framesDropped.Add(1)
		return "", fmt.Errorf("failed to write %s: %w", filename, err)
	}

	fs.framesSaved.Add(1)
	return path, nil
}

// Stats returns current save statistics.
func (fs *FrameSaver) Stats() (saved, dropped uint64) {
	return fs.framesSaved.Load(), fs.framesDropped.Load()
}

// dimensions decodes only the JPEG header. ok is false for payloads that are
// not decodable JPEG images.
func dimensions(data []byte) (width, height int, ok bool) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
