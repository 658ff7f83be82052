package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGELFHandler ships JSON records to a Graylog GELF UDP input at addr.
// The returned closer releases the UDP socket.
func NewGELFHandler(addr, level string) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("creating gelf writer: %w", err)
	}
	w.Facility = "startupcal"
	return slog.NewJSONHandler(w, handlerOptions(level)), w, nil
}
