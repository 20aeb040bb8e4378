// Package anwalt talks to the external lawyer directory: searching for
// lawyers and forwarding finished cases to them.
package anwalt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/anwado/backend/internal/config"
)

// ErrNotConfigured means ANWALT_API_URL is absent. Searches fail with a
// dependency error; case forwarding stays pending for a later retry.
var ErrNotConfigured = errors.New("lawyer directory not configured")

// Lawyer is one directory entry as the mobile client displays it.
type Lawyer struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Firm       string   `json:"firm,omitempty"`
	Email      string   `json:"email,omitempty"`
	Phone      string   `json:"phone,omitempty"`
	LegalAreas []string `json:"legal_areas,omitempty"`
	Location   string   `json:"location,omitempty"`
	Rating     float64  `json:"rating,omitempty"`
	DistanceKm float64  `json:"distance_km,omitempty"`
}

// HandoffRequest forwards a summarized case to a chosen lawyer.
type HandoffRequest struct {
	LawyerID        string `json:"lawyer_id"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	ClientName      string `json:"client_name"`
	ClientEmail     string `json:"client_email"`
	LegalArea       string `json:"legal_area,omitempty"`
	Message         string `json:"message,omitempty"`
	SummaryURL      string `json:"summary_url,omitempty"`
}

// HandoffResult carries the directory's case id, bound once onto the
// connection record.
type HandoffResult struct {
	CaseID string `json:"case_id"`
}

type Client struct {
	cfg  config.DirectoryConfig
	http *http.Client
}

func NewClient(cfg config.DirectoryConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Search proxies a directory query. Both filters are optional.
func (c *Client) Search(ctx context.Context, legalArea, location string) ([]Lawyer, error) {
	if c.cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	if legalArea != "" {
		q.Set("legal_area", legalArea)
	}
	if location != "" {
		q.Set("location", location)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/lawyers"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach lawyer directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("lawyer directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded struct {
		Lawyers []Lawyer `json:"lawyers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return decoded.Lawyers, nil
}

// Handoff submits the case to the directory and returns its case id.
func (c *Client) Handoff(ctx context.Context, h HandoffRequest) (*HandoffResult, error) {
	if c.cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to encode handoff: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/cases"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build handoff request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach lawyer directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("lawyer directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result HandoffResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode handoff response: %w", err)
	}
	return &result, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}
