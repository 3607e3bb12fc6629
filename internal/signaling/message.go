// Package signaling carries the in-call message flow between customer and
// agent over WebSockets: WebRTC negotiation relay, capture commands and
// captured frames, telemetry, and lifecycle notifications.
package signaling

import (
	"encoding/json"
	"time"

	dErrors "vkyc/pkg/domain-errors"
)

// Message types accepted from clients.
const (
	// Relayed verbatim between the two peers.
	TypeWebRTCOffer  = "webrtc_offer"
	TypeWebRTCAnswer = "webrtc_answer"
	TypeWebRTCICE    = "webrtc_ice"

	// Agent commands.
	TypeCaptureDocument = "capture_document"
	TypeCaptureCancel   = "capture_cancel"
	TypeKYCComplete     = "kyc_complete"
	TypeKYCReject       = "kyc_reject"

	// Customer messages.
	TypeDocumentCaptured = "document_captured"
	TypeBiometricEvent   = "biometric_event"
	TypeVideoChunk       = "video_chunk"
	TypeLeave            = "leave"

	TypeHeartbeat = "heartbeat"
)

// Message types sent by the server.
const (
	TypeVerificationResult = "verification_result"
	TypeSessionEnded       = "session_ended"
	TypePeerJoined         = "peer_joined"
	TypePeerLeft           = "peer_left"
	TypeError              = "error"
)

// Envelope is the wire frame. Payload shape depends on Type.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CapturePayload is the agent's capture command and, mirrored back, the
// server's capture request to the customer.
type CapturePayload struct {
	DocumentType string `json:"document_type"`
	Attempt      int    `json:"attempt,omitempty"`
}

// DocumentCapturedPayload is the customer's captured frame.
type DocumentCapturedPayload struct {
	DocumentType string    `json:"document_type"`
	ImageBase64  string    `json:"image_base64"`
	CapturedAt   time.Time `json:"captured_at"`
}

func (p DocumentCapturedPayload) Validate() error {
	if p.DocumentType == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "document_type is required")
	}
	if p.ImageBase64 == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "image_base64 is required")
	}
	if p.CapturedAt.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "captured_at is required")
	}
	return nil
}

// BiometricPayload is one telemetry observation from the customer client.
type BiometricPayload struct {
	EventType  string         `json:"event_type"`
	CapturedAt time.Time      `json:"captured_at"`
	Data       map[string]any `json:"data,omitempty"`
}

func (p BiometricPayload) Validate() error {
	if p.EventType == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "event_type is required")
	}
	if p.CapturedAt.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "captured_at is required")
	}
	return nil
}

// VideoChunkPayload is one buffered slice of the customer's media stream.
type VideoChunkPayload struct {
	DataBase64 string `json:"data_base64"`
	DurationMS int64  `json:"duration_ms"`
}

func (p VideoChunkPayload) Validate() error {
	if p.DataBase64 == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "data_base64 is required")
	}
	if p.DurationMS <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "duration_ms must be positive")
	}
	return nil
}

// RejectPayload is the agent's manual rejection.
type RejectPayload struct {
	Note string `json:"note,omitempty"`
}

// VerificationResultPayload notifies both peers of a document outcome.
type VerificationResultPayload struct {
	DocumentType string `json:"document_type"`
	Status       string `json:"status"`
}

// SessionEndedPayload carries the coarse outcome category only.
type SessionEndedPayload struct {
	Category string `json:"category"`
}

// ErrorPayload reports a rejected message back to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mustEnvelope(msgType string, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	out, _ := json.Marshal(Envelope{Type: msgType, Payload: raw})
	return out
}
