package streaming

import (
	"encoding/json"

	"github.com/tracelab/startupcal/pkg/core"
)

// Message type constants matching the calibration store protocol.
const (
	TypeHello           = "hello"
	TypeSaveCalibration = "save_calibration"
	TypeLoadCalibration = "load_calibration"
	TypeAck             = "ack"
)

// ErrCodeNotFound is the ack error code for a trace folder without a record.
const ErrCodeNotFound = "not_found"

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type    string          `json:"type"` // always "ack"
	For     string          `json:"for"`  // the message type being acknowledged
	ID      string          `json:"id,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload identifies the client; it is replayed after every reconnect.
type HelloPayload struct {
	ClientID string `json:"clientId"`
	Version  int    `json:"version"`
}

// SaveCalibrationPayload carries one committed record.
type SaveCalibrationPayload struct {
	TraceFolder string                 `json:"traceFolder"`
	Record      core.CalibrationRecord `json:"record"`
}

// LoadCalibrationPayload asks for the record of a trace folder.
// The ack payload is a core.CalibrationRecord.
type LoadCalibrationPayload struct {
	TraceFolder string `json:"traceFolder"`
}
