// Package converter talks to the external image-to-embroidery conversion
// service.
package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrHTTPStatus is returned for any non-2xx response.
	ErrHTTPStatus = errors.New("conversion service returned an error status")

	// ErrMalformedResponse is returned when a 2xx body is not a JSON object.
	ErrMalformedResponse = errors.New("conversion service returned a malformed response")
)

// maxResponseBytes bounds how much of a response body is read; hex-encoded
// stitch files are a few MB at most.
const maxResponseBytes = 64 << 20

// HTTPDoer describes the HTTP client used to reach the conversion service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result holds the raw outputs. Each value is either an absolute URL or the
// hex-encoded file; empty means the format was not produced.
type Result struct {
	PES string
	DST string
}

func (r Result) Empty() bool {
	return r.PES == "" && r.DST == ""
}

type Client struct {
	endpoint string
	client   HTTPDoer
}

func NewClient(endpoint string, client HTTPDoer) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{endpoint: strings.TrimSpace(endpoint), client: client}
}

type convertRequest struct {
	FileURL string `json:"fileUrl"`
}

type convertResponse struct {
	PES *string `json:"pes"`
	DST *string `json:"dst"`
}

// Convert posts fileURL to the service and waits for its answer. ctx bounds
// the whole exchange.
func (c *Client) Convert(ctx context.Context, fileURL string) (Result, error) {
	payload, err := json.Marshal(convertRequest{FileURL: fileURL})
	if err != nil {
		return Result{}, fmt.Errorf("encode conversion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build conversion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call conversion service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("%w: %d %s", ErrHTTPStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read conversion response: %w", err)
	}

	var out convertResponse
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Result{}, fmt.Errorf("%w: body is not a JSON object", ErrMalformedResponse)
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	var res Result
	if out.PES != nil {
		res.PES = strings.TrimSpace(*out.PES)
	}
	if out.DST != nil {
		res.DST = strings.TrimSpace(*out.DST)
	}
	return res, nil
}
