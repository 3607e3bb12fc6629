package verification

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"vkyc/pkg/domain"
)

const ocrProviderID = "ocr"

// HTTPOCRClient talks to the OCR extraction service.
type HTTPOCRClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPOCRClient(baseURL string, timeout time.Duration) *HTTPOCRClient {
	return &HTTPOCRClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type ocrRequest struct {
	DocumentType string `json:"document_type"`
	ImageBase64  string `json:"image_base64"`
}

type ocrResponse struct {
	Confidence float64           `json:"confidence"`
	Fields     map[string]string `json:"fields"`
}

// Extract posts the frame and returns the service's reading. A low
// confidence score is a valid extraction, not an error.
func (c *HTTPOCRClient) Extract(ctx context.Context, doc domain.DocumentType, image []byte) (Extraction, error) {
	body, err := json.Marshal(ocrRequest{
		DocumentType: string(doc),
		ImageBase64:  base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return Extraction{}, NewProviderError(ErrorInternal, ocrProviderID, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return Extraction{}, NewProviderError(ErrorInternal, ocrProviderID, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
			return Extraction{}, NewProviderError(ErrorTimeout, ocrProviderID, "extract", err)
		}
		return Extraction{}, NewProviderError(ErrorProviderOutage, ocrProviderID, "extract", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Extraction{}, categorizeStatus(ocrProviderID, resp.StatusCode)
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Extraction{}, NewProviderError(ErrorBadData, ocrProviderID, "decode response", err)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return Extraction{}, NewProviderError(ErrorBadData, ocrProviderID,
			fmt.Sprintf("confidence %.3f out of range", out.Confidence), nil)
	}
	return Extraction{Confidence: out.Confidence, Fields: out.Fields}, nil
}

// categorizeStatus maps an HTTP status to the provider error taxonomy.
func categorizeStatus(providerID string, status int) *ProviderError {
	msg := fmt.Sprintf("unexpected status %d", status)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewProviderError(ErrorAuthentication, providerID, msg, nil)
	case status == http.StatusTooManyRequests:
		return NewProviderError(ErrorRateLimited, providerID, msg, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return NewProviderError(ErrorTimeout, providerID, msg, nil)
	case status >= 500:
		return NewProviderError(ErrorProviderOutage, providerID, msg, nil)
	default:
		return NewProviderError(ErrorBadData, providerID, msg, nil)
	}
}
