// internal/storage/memory/file.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tracelab/startupcal/pkg/core"
)

func (b *Backend) writeFile(path string, rec core.CalibrationRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		return writeGzipJSON(path, rec)
	}
	return writeJSON(path, rec)
}

func writeJSON(path string, rec core.CalibrationRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rec)
}

func writeGzipJSON(path string, rec core.CalibrationRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(rec)
}

func (b *Backend) readFile(path string) (core.CalibrationRecord, error) {
	var rec core.CalibrationRecord

	f, err := os.Open(path)
	if err != nil {
		return rec, err
	}
	defer f.Close()

	var r io.Reader = f
	if b.cfg.CompressOutput {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return rec, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return rec, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return rec, nil
}
