package domain

import dErrors "vkyc/pkg/domain-errors"

// DocumentType enumerates the identity documents captured during a session.
type DocumentType string

const (
	DocumentPAN     DocumentType = "pan"
	DocumentAadhaar DocumentType = "aadhaar"
)

// ParseDocumentType validates a wire-level document type.
func ParseDocumentType(raw string) (DocumentType, error) {
	switch DocumentType(raw) {
	case DocumentPAN, DocumentAadhaar:
		return DocumentType(raw), nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown document type")
}

// RequiredDocuments is the default set a session must verify before it can
// complete.
func RequiredDocuments() []DocumentType {
	return []DocumentType{DocumentPAN, DocumentAadhaar}
}
