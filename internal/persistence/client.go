// Package persistence is the HTTP client for the canvas storage API.
//
// Endpoints, relative to the API base URL:
//
//	GET  /canvas            -> {elements, lastUpdated, partner?}
//	POST /canvas/save       {elements} -> {success}
//	POST /canvas/broadcast  {elements} -> {success}
//	GET  /canvas/history    -> {history: [snapshot]}
//	POST /upload/image      multipart "image" -> {imageUrl}
//
// Every request carries the bearer token. Requests are independent; there
// is no ordering guarantee relative to realtime messages.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/canvassync/internal/canvas"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 256

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// Client talks to the canvas storage API. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client for the API rooted at baseURL
// (e.g. "http://localhost:3001/api").
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type elementsRequest struct {
	Elements []canvas.Element `json:"elements"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type historyResponse struct {
	History []canvas.Snapshot `json:"history"`
}

type uploadResponse struct {
	ImageURL string `json:"imageUrl"`
}

// Load fetches the stored canvas. A missing element list loads as empty.
func (c *Client) Load(ctx context.Context) (canvas.Snapshot, error) {
	var snap canvas.Snapshot
	if err := c.do(ctx, "load", http.MethodGet, "/canvas", nil, "", &snap); err != nil {
		return canvas.Snapshot{}, err
	}
	if snap.Elements == nil {
		snap.Elements = []canvas.Element{}
	}
	return snap, nil
}

// Save stores elements as the canvas's current state.
func (c *Client) Save(ctx context.Context, elements []canvas.Element) error {
	return c.postElements(ctx, "save", "/canvas/save", elements)
}

// Broadcast asks the server to relay elements to the partner.
func (c *Client) Broadcast(ctx context.Context, elements []canvas.Element) error {
	return c.postElements(ctx, "broadcast", "/canvas/broadcast", elements)
}

// History returns prior saved snapshots, newest first.
func (c *Client) History(ctx context.Context) ([]canvas.Snapshot, error) {
	var resp historyResponse
	if err := c.do(ctx, "history", http.MethodGet, "/canvas/history", nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// UploadImage stores an image and returns the URL an image element can
// reference as its content.
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return "", &Error{Op: "upload", Err: err}
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", &Error{Op: "upload", Err: fmt.Errorf("read image: %w", err)}
	}
	if err := w.Close(); err != nil {
		return "", &Error{Op: "upload", Err: err}
	}

	var resp uploadResponse
	if err := c.do(ctx, "upload", http.MethodPost, "/upload/image", &body, w.FormDataContentType(), &resp); err != nil {
		return "", err
	}
	if resp.ImageURL == "" {
		return "", &Error{Op: "upload", Err: fmt.Errorf("response missing imageUrl")}
	}
	return resp.ImageURL, nil
}

func (c *Client) postElements(ctx context.Context, op, path string, elements []canvas.Element) error {
	if elements == nil {
		elements = []canvas.Element{}
	}
	payload, err := json.Marshal(elementsRequest{Elements: elements})
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	var resp successResponse
	if err := c.do(ctx, op, http.MethodPost, path, bytes.NewReader(payload), "application/json", &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &Error{Op: op, Err: fmt.Errorf("server reported failure")}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s %s: %s", method, path, strings.TrimSpace(string(snippet))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
