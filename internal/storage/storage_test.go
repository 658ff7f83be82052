// internal/storage/storage_test.go
package storage_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tracelab/startupcal/internal/storage"
	"github.com/stretchr/testify/assert"
)

func TestErrNotFound_Wrapped(t *testing.T) {
	err := fmt.Errorf("loading traces/run-01: %w", storage.ErrNotFound)

	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Contains(t, err.Error(), "calibration record not found")
}
