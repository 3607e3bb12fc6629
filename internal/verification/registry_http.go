package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"vkyc/pkg/domain"
)

const registryProviderID = "registry"

// HTTPRegistryClient queries the issuing registry for a match decision.
type HTTPRegistryClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPRegistryClient(baseURL, apiKey string, timeout time.Duration) *HTTPRegistryClient {
	return &HTTPRegistryClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type registryRequest struct {
	DocumentType string            `json:"document_type"`
	Fields       map[string]string `json:"fields"`
}

type registryResponse struct {
	Decision string `json:"decision"`
}

// Verify returns the registry's verdict. A mismatch is a decision, not an
// error; only transport and protocol failures come back as ProviderError.
func (c *HTTPRegistryClient) Verify(ctx context.Context, doc domain.DocumentType, fields map[string]string) (Decision, error) {
	body, err := json.Marshal(registryRequest{DocumentType: string(doc), Fields: fields})
	if err != nil {
		return "", NewProviderError(ErrorInternal, registryProviderID, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return "", NewProviderError(ErrorInternal, registryProviderID, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
			return "", NewProviderError(ErrorTimeout, registryProviderID, "verify", err)
		}
		return "", NewProviderError(ErrorProviderOutage, registryProviderID, "verify", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", categorizeStatus(registryProviderID, resp.StatusCode)
	}

	var out registryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", NewProviderError(ErrorBadData, registryProviderID, "decode response", err)
	}
	switch Decision(out.Decision) {
	case DecisionMatch, DecisionMismatch:
		return Decision(out.Decision), nil
	default:
		return "", NewProviderError(ErrorBadData, registryProviderID,
			fmt.Sprintf("unknown decision %q", out.Decision), nil)
	}
}
