// Package websocket implements the storage.Backend interface against a remote
// calibration server speaking the pkg/streaming envelope protocol.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tracelab/startupcal/internal/config"
	"github.com/tracelab/startupcal/internal/storage"
	"github.com/tracelab/startupcal/pkg/core"
	"github.com/tracelab/startupcal/pkg/streaming"
)

const protocolVersion = 1

// Backend saves and loads calibration records over WebSocket.
// Every request waits for the server ack carrying the same envelope ID.
type Backend struct {
	conn     *connection
	cfg      config.WebSocketConfig
	clientID string
}

// New creates a new WebSocket storage backend.
func New(cfg config.WebSocketConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn:     newConnection(logger),
		cfg:      cfg,
		clientID: uuid.NewString(),
	}
}

// Init connects to the WebSocket server and announces the client.
func (b *Backend) Init() error {
	hello, err := marshalEnvelope(streaming.TypeHello, "", streaming.HelloPayload{
		ClientID: b.clientID,
		Version:  protocolVersion,
	})
	if err != nil {
		return err
	}
	return b.conn.dial(b.cfg.URL, b.cfg.Secret, hello)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType, id string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, ID: id, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// request sends one envelope and maps the ack error code to an error.
func (b *Backend) request(msgType, traceFolder string, payload any) (streaming.AckMessage, error) {
	id := uuid.NewString()
	data, err := marshalEnvelope(msgType, id, payload)
	if err != nil {
		return streaming.AckMessage{}, err
	}

	ack, err := b.conn.request(id, data, ackTimeout)
	if err != nil {
		return ack, err
	}
	switch ack.Error {
	case "":
		return ack, nil
	case streaming.ErrCodeNotFound:
		return ack, fmt.Errorf("%s: %w", traceFolder, storage.ErrNotFound)
	default:
		return ack, fmt.Errorf("%s %s rejected: %s", msgType, traceFolder, ack.Error)
	}
}

// Save sends the record and waits for the server ack.
func (b *Backend) Save(traceFolder string, rec core.CalibrationRecord) error {
	rec.TraceFolder = traceFolder
	_, err := b.request(streaming.TypeSaveCalibration, traceFolder, streaming.SaveCalibrationPayload{
		TraceFolder: traceFolder,
		Record:      rec,
	})
	return err
}

// Load asks the server for the record of traceFolder.
func (b *Backend) Load(traceFolder string) (core.CalibrationRecord, error) {
	ack, err := b.request(streaming.TypeLoadCalibration, traceFolder, streaming.LoadCalibrationPayload{
		TraceFolder: traceFolder,
	})
	if err != nil {
		return core.CalibrationRecord{}, err
	}

	var rec core.CalibrationRecord
	if err := json.Unmarshal(ack.Payload, &rec); err != nil {
		return core.CalibrationRecord{}, fmt.Errorf("decode %s record: %w", traceFolder, err)
	}
	return rec, nil
}
