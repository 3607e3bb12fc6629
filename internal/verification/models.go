// Package verification runs captured document frames through OCR and the
// issuing registry. Processing is asynchronous: the session layer submits
// frames and learns outcomes through a callback.
package verification

import (
	"time"

	"vkyc/pkg/domain"
)

// Status is the lifecycle of a single document's verification.
type Status string

const (
	// StatusPending means a frame is in flight or a recapture was requested.
	StatusPending Status = "pending"
	// StatusMatched means OCR extraction agreed with the registry record.
	StatusMatched Status = "matched"
	// StatusLowConfidence means OCR confidence stayed under the threshold
	// for the maximum number of capture attempts.
	StatusLowConfidence Status = "low_confidence"
	// StatusMismatched means the registry returned a definitive mismatch.
	StatusMismatched Status = "mismatched"
	// StatusUnavailable means the registry could not be reached within the
	// retry budget. The document needs manual review, not a new capture.
	StatusUnavailable Status = "unavailable"
)

// Terminal reports whether the pipeline is done with the document.
func (s Status) Terminal() bool {
	switch s {
	case StatusMatched, StatusLowConfidence, StatusMismatched, StatusUnavailable:
		return true
	}
	return false
}

// CaptureFrame is a single captured document image submitted for
// verification.
type CaptureFrame struct {
	SessionID  domain.SessionID
	Document   domain.DocumentType
	Image      []byte
	CapturedAt time.Time
}

// Result is the stored per-document verification record.
type Result struct {
	SessionID  domain.SessionID
	Document   domain.DocumentType
	Status     Status
	Confidence float64
	// Fields holds the OCR-extracted key/value pairs sent to the registry.
	Fields    map[string]string
	Attempts  int
	UpdatedAt time.Time
}

// Extraction is the OCR service's reading of one frame.
type Extraction struct {
	Confidence float64
	Fields     map[string]string
}

// Decision is the registry's verdict for an extraction.
type Decision string

const (
	DecisionMatch    Decision = "match"
	DecisionMismatch Decision = "mismatch"
)
