// Package globus wraps the Globus Transfer API — an external bulk
// data-movement black box addressed by (endpoint, path) pairs, polled
// for SUCCEEDED/FAILED.
package globus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// Status is a Globus transfer task's terminal or in-flight state.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Endpoint identifies a Globus collection and a path within it.
type Endpoint struct {
	CollectionID string
	Path         string
}

// ErrTransferFailed is returned by MonitorTransfer when a task settles
// into FAILED.
var ErrTransferFailed = errors.New("globus: transfer failed")

// Client is the black-box dependency the folder staging engine
// consumes for Globus-sourced folders.
type Client interface {
	// InitTransfer starts a remote-to-remote transfer and returns an
	// opaque task id.
	InitTransfer(ctx context.Context, src, dst Endpoint) (taskID string, err error)
	// QueryStatus returns the current status of a previously started task.
	QueryStatus(ctx context.Context, taskID string) (Status, error)
	// MonitorTransfer polls QueryStatus at the given interval until the
	// task reaches SUCCEEDED or FAILED, or ctx is done.
	MonitorTransfer(ctx context.Context, taskID string, pollInterval time.Duration) (Status, error)
}

// Config configures an HTTPClient's OAuth2 client-credentials grant
// against the Globus Auth service.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	TransferAPI  string // base URL, e.g. https://transfer.api.globusonline.org/v0.10
	Scopes       []string
}

// HTTPClient implements Client against the real Globus Transfer REST API.
type HTTPClient struct {
	httpClient  *http.Client
	transferAPI string
}

// New builds an HTTPClient backed by an OAuth2 client-credentials token
// source (grounded on the same oauth2.Config pattern arkeep uses for its
// OIDC provider, adapted to the machine-to-machine grant Globus expects).
func New(cfg Config) *HTTPClient {
	ccCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return &HTTPClient{
		httpClient:  ccCfg.Client(context.Background()),
		transferAPI: cfg.TransferAPI,
	}
}

type submitTransferRequest struct {
	DataType       string         `json:"DATA_TYPE"`
	Label          string         `json:"label,omitempty"`
	SourceEndpoint string         `json:"source_endpoint"`
	DestEndpoint   string         `json:"destination_endpoint"`
	Data           []transferItem `json:"DATA"`
	SubmissionID   string         `json:"submission_id,omitempty"`
}

type transferItem struct {
	DataType        string `json:"DATA_TYPE"`
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
	Recursive       bool   `json:"recursive"`
}

type submitTransferResponse struct {
	TaskID string `json:"task_id"`
}

type taskResponse struct {
	Status string `json:"status"`
}

func (c *HTTPClient) InitTransfer(ctx context.Context, src, dst Endpoint) (string, error) {
	body := submitTransferRequest{
		DataType:       "transfer",
		SourceEndpoint: src.CollectionID,
		DestEndpoint:   dst.CollectionID,
		Data: []transferItem{{
			DataType:        "transfer_item",
			SourcePath:      src.Path,
			DestinationPath: dst.Path,
			Recursive:       true,
		}},
	}
	var resp submitTransferResponse
	if err := c.postJSON(ctx, "/transfer", body, &resp); err != nil {
		return "", fmt.Errorf("globus: init transfer: %w", err)
	}
	return resp.TaskID, nil
}

func (c *HTTPClient) QueryStatus(ctx context.Context, taskID string) (Status, error) {
	var resp taskResponse
	if err := c.getJSON(ctx, "/task/"+taskID, &resp); err != nil {
		return "", fmt.Errorf("globus: query status %s: %w", taskID, err)
	}
	return Status(resp.Status), nil
}

// MonitorTransfer blocks until the task reaches SUCCEEDED/FAILED or ctx
// is cancelled, polling at pollInterval.
func (c *HTTPClient) MonitorTransfer(ctx context.Context, taskID string, pollInterval time.Duration) (Status, error) {
	return pollUntilDone(ctx, c.QueryStatus, taskID, pollInterval)
}

// pollUntilDone calls query every pollInterval until it reports
// SUCCEEDED or FAILED, query returns an error, or ctx is cancelled.
func pollUntilDone(ctx context.Context, query func(context.Context, string) (Status, error), taskID string, pollInterval time.Duration) (Status, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := query(ctx, taskID)
		if err != nil {
			return "", err
		}
		switch status {
		case StatusSucceeded:
			return status, nil
		case StatusFailed:
			return status, ErrTransferFailed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.transferAPI+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.transferAPI+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
