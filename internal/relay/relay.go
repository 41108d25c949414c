// Package relay forwards commands from the coordinator to a column's
// command endpoint. Relaying is synchronous best effort: one bounded-timeout
// request, no queueing for offline columns, no automatic retry.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	domaincolumn "smartlocker/internal/domain/column"
	"smartlocker/internal/firmware/compartment"
	"smartlocker/internal/protocol"
	"smartlocker/internal/registry"
)

// Client relays commands to columns, consulting the registry for the target
// address and refusing without network I/O when the column is offline.
type Client struct {
	registry *registry.Service
	http     *http.Client
}

// New builds the relay client with the given per-request timeout.
func New(reg *registry.Service, timeout time.Duration) *Client {
	return &Client{
		registry: reg,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) Unlock(ctx context.Context, columnID string, index int) error {
	return c.command(ctx, columnID, fmt.Sprintf("/api/v1/compartments/%d/unlock", index), nil)
}

func (c *Client) Lock(ctx context.Context, columnID string, index int) error {
	return c.command(ctx, columnID, fmt.Sprintf("/api/v1/compartments/%d/lock", index), nil)
}

func (c *Client) SetOutput(ctx context.Context, columnID string, index int, output string, on bool) error {
	return c.command(ctx, columnID, fmt.Sprintf("/api/v1/compartments/%d/outputs", index),
		protocol.SetOutputRequest{Output: output, On: on})
}

func (c *Client) Jog(ctx context.Context, columnID string, index, steps int, direction string) error {
	return c.command(ctx, columnID, fmt.Sprintf("/api/v1/compartments/%d/jog", index),
		protocol.JogRequest{Steps: steps, Direction: direction})
}

func (c *Client) Sanitize(ctx context.Context, columnID string, index int, duration time.Duration) error {
	return c.command(ctx, columnID, fmt.Sprintf("/api/v1/compartments/%d/sanitize", index),
		protocol.SanitizeRequest{DurationMs: int(duration.Milliseconds())})
}

func (c *Client) ClearFault(ctx context.Context, columnID string, index int) error {
	return c.command(ctx, columnID, fmt.Sprintf("/api/v1/compartments/%d/clear-fault", index), nil)
}

// Status fetches the column's full per-compartment snapshot.
func (c *Client) Status(ctx context.Context, columnID string) ([]compartment.Status, error) {
	resp, err := c.do(ctx, columnID, http.MethodGet, "/api/v1/status", nil)
	if err != nil {
		return nil, err
	}
	return resp.Compartments, nil
}

func (c *Client) command(ctx context.Context, columnID, path string, body interface{}) error {
	_, err := c.do(ctx, columnID, http.MethodPost, path, body)
	return err
}

func (c *Client) do(ctx context.Context, columnID, method, path string, body interface{}) (*protocol.CommandResponse, error) {
	col, err := c.registry.Get(columnID)
	if err != nil {
		return nil, err
	}
	if !col.Online {
		// Reject before any network traffic; the caller retries at the
		// application layer once heartbeats resume.
		return nil, domaincolumn.ErrColumnOffline
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://"+col.Address+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domaincolumn.ErrCommunicationFailure, err)
	}
	defer resp.Body.Close()

	var cmdResp protocol.CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&cmdResp); err != nil {
		return nil, fmt.Errorf("%w: undecodable response: %v", domaincolumn.ErrCommunicationFailure, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", domaincolumn.ErrCommandRejected, cmdResp.Error)
	}
	return &cmdResp, nil
}
