package extraction

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tracelab/startupcal/pkg/core"
)

// frameExtensions are the image files DirDecoder picks up.
var frameExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// DirDecoder serves frames that were already extracted to image files in
// ServiceConfig.OutputDir, one file per frame in name order, at a fixed rate.
// A range running past the last file returns the frames that exist.
type DirDecoder struct {
	Rate float64

	mu    sync.RWMutex
	files []string
}

// NewDirDecoder creates a decoder for frames stored at rate per second.
func NewDirDecoder(rate float64) *DirDecoder {
	return &DirDecoder{Rate: rate}
}

// Open lists the frame files of cfg.OutputDir.
func (d *DirDecoder) Open(cfg ServiceConfig) error {
	if d.Rate <= 0 {
		return fmt.Errorf("invalid frame rate %v", d.Rate)
	}
	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to list frames: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(cfg.OutputDir, e.Name()))
	}
	sort.Strings(files)

	d.mu.Lock()
	d.files = files
	d.mu.Unlock()
	return nil
}

// Frames returns the number of frame files found by Open.
func (d *DirDecoder) Frames() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.files)
}

// Decode reads count frames starting at the frame shown at startTime.
func (d *DirDecoder) Decode(ctx context.Context, startTime float64, count int) ([]core.FrameSlot, error) {
	if startTime < 0 {
		return nil, fmt.Errorf("start time %v before first frame", startTime)
	}
	first := int(math.Floor(startTime * d.Rate))

	d.mu.RLock()
	files := d.files
	d.mu.RUnlock()

	var out []core.FrameSlot
	for i := first; i < first+count && i < len(files); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := os.ReadFile(files[i])
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %d: %w", i, err)
		}
		out = append(out, core.FrameSlot{Index: float64(i), Image: img})
	}
	return out, nil
}

// Close forgets the listed files.
func (d *DirDecoder) Close() error {
	d.mu.Lock()
	d.files = nil
	d.mu.Unlock()
	return nil
}
