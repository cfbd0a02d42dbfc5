package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/kalambet/pal/internal/config"
)

// apiClient talks to a running pal server.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &apiClient{
		baseURL: cfg.Server.BaseURL(),
		// Chat waits on the upstream model.
		httpClient: &http.Client{Timeout: cfg.Upstream.Timeout + 10*time.Second},
	}, nil
}

// profileResponse is the body of the profile endpoints.
type profileResponse struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type chatReply struct {
	Reply         string          `json:"reply"`
	MemoryUpdated bool            `json:"memory_updated"`
	Memory        json.RawMessage `json:"memory"`
}

func (c *apiClient) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is pal running? (%w)", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

// upload posts the file at path as the "file" field of a multipart form.
func (c *apiClient) upload(ctx context.Context, path string, out any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.send(req, out)
}

func (c *apiClient) getProfile(ctx context.Context) (profileResponse, error) {
	var out profileResponse
	err := c.getJSON(ctx, "/profile", &out)
	return out, err
}

// updateProfile posts fields, a map or a *profile.Profile, to be merged.
func (c *apiClient) updateProfile(ctx context.Context, fields any) (profileResponse, error) {
	var out profileResponse
	err := c.postJSON(ctx, "/profile/update", fields, &out)
	return out, err
}

func (c *apiClient) uploadProfile(ctx context.Context, path string) (profileResponse, error) {
	var out profileResponse
	err := c.upload(ctx, path, &out)
	return out, err
}

func (c *apiClient) chat(ctx context.Context, message string) (chatReply, error) {
	var out chatReply
	err := c.postJSON(ctx, "/chat", map[string]string{"message": message}, &out)
	return out, err
}

// decodeResponse decodes a JSON body into out, turning {"error": ...}
// bodies of failed requests into errors.
func decodeResponse(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return errors.New(e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
