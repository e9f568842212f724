package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetlab/gps-fleet-simulator/internal/models"
)

const httpTimeout = 10 * time.Second

// HTTPSubmitter posts registrations and updates as JSON to the tracking
// backend's REST API.
type HTTPSubmitter struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewHTTPSubmitter builds a submitter for the given API base URL. authToken
// is optional; when set it is sent as a bearer token.
func NewHTTPSubmitter(baseURL, authToken string) *HTTPSubmitter {
	return &HTTPSubmitter{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: httpTimeout},
	}
}

// RegisterVehicle posts the vehicle to /vehicles. A conflict response means
// the vehicle is already registered and is treated as success.
func (s *HTTPSubmitter) RegisterVehicle(ctx context.Context, cfg models.VehicleConfig) error {
	resp, err := s.post(ctx, "/vehicles", cfg)
	if err != nil {
		return fmt.Errorf("register vehicle: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		return nil
	default:
		return fmt.Errorf("register vehicle: unexpected status %d", resp.StatusCode)
	}
}

// SubmitLocation posts one update to /update_location.
func (s *HTTPSubmitter) SubmitLocation(ctx context.Context, update models.LocationUpdate) error {
	resp, err := s.post(ctx, "/update_location", update)
	if err != nil {
		return fmt.Errorf("submit location: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("submit location: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSubmitter) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}
	return s.client.Do(req)
}
