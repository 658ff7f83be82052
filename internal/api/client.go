// Package api talks to the calibration web frontend over HTTP.
package api

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tracelab/startupcal/pkg/core"
)

// Client handles communication with the calibration web frontend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a new API client.
func New(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Healthcheck checks if the web frontend is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// uploadName is the file name an analyzed trace is uploaded under.
func uploadName(traceFolder string) string {
	base := filepath.Base(traceFolder)
	if base == "." || base == string(filepath.Separator) {
		base = "trace"
	}
	return base + ".json.gz"
}

// Upload sends a committed calibration and the analyzed trace, as gzipped JSON,
// to the web frontend.
func (c *Client) Upload(rec core.CalibrationRecord, analyzed *core.TraceResult) error {
	if analyzed == nil {
		return fmt.Errorf("no analyzed trace for %s", rec.TraceFolder)
	}

	// Create multipart form
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	// Write form fields and file in goroutine
	errCh := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			_ = writer.Close()
			pw.CloseWithError(err)
			errCh <- err
		}()

		// Form fields
		_ = writer.WriteField("secret", c.apiKey)
		_ = writer.WriteField("traceFolder", rec.TraceFolder)
		_ = writer.WriteField("startupTime", strconv.FormatFloat(rec.StartupTime, 'f', 3, 64))
		_ = writer.WriteField("startupDelay", strconv.FormatFloat(analyzed.StartupDelay, 'f', 3, 64))
		_ = writer.WriteField("segmentId", strconv.Itoa(rec.SegmentID))

		// File
		var part io.Writer
		part, err = writer.CreateFormFile("file", uploadName(rec.TraceFolder))
		if err != nil {
			err = fmt.Errorf("failed to create form file: %w", err)
			return
		}
		gz := gzip.NewWriter(part)
		if err = json.NewEncoder(gz).Encode(analyzed); err != nil {
			err = fmt.Errorf("failed to encode trace: %w", err)
			return
		}
		if err = gz.Close(); err != nil {
			err = fmt.Errorf("failed to compress trace: %w", err)
		}
	}()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v1/calibrations/add", pr)
	if err != nil {
		pr.Close()
		<-errCh
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.Close()
		<-errCh
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	// unblocks the writer when the server answered without reading the body
	pr.Close()

	// Check goroutine error
	writeErr := <-errCh
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload returned status %d", resp.StatusCode)
	}
	return writeErr
}

// CalibrationCommitted uploads the commit. Failures are logged; the commit stands.
func (c *Client) CalibrationCommitted(rec core.CalibrationRecord, analyzed *core.TraceResult) {
	start := time.Now()
	if err := c.Upload(rec, analyzed); err != nil {
		c.logger.Error("Failed to upload calibration", "traceFolder", rec.TraceFolder, "error", err)
		return
	}
	c.logger.Info("Uploaded calibration", "traceFolder", rec.TraceFolder, "duration", time.Since(start))
}
