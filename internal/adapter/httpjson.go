package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/types"
)

// getJSON performs a GET and decodes the JSON body into dest, returning
// classified errors: transport failures and 5xx/429 are transient,
// other 4xx are permanent.
func getJSON(ctx context.Context, client *http.Client, network types.Network, op, url string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperrors.Permanent(network, op, fmt.Errorf("failed to build request: %w", err))
	}
	return doJSON(client, network, op, req, dest)
}

// postJSON performs a POST with a JSON body and decodes the response
func postJSON(ctx context.Context, client *http.Client, network types.Network, op, url string, body, dest interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.Permanent(network, op, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Permanent(network, op, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, network, op, req, dest)
}

func doJSON(client *http.Client, network types.Network, op string, req *http.Request, dest interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return apperrors.Transient(network, op, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		return apperrors.New(apperrors.ClassifyHTTPStatus(resp.StatusCode), network, op, err)
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return apperrors.Transient(network, op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
