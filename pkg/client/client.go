// Package client is the Go client for the engine's HTTP API, used by the
// one-shot CLI mode and by integration tooling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	// Server is the engine base URL, with a trailing slash.
	Server string

	http *http.Client
}

func New(server string) *Client {
	if !strings.HasSuffix(server, "/") {
		server += "/"
	}
	return &Client{
		Server: server,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Server+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s: %s", path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// SetPage uploads a page snapshot.
func (c *Client) SetPage(ctx context.Context, html, url string) error {
	return c.post(ctx, "page", map[string]string{"html": html, "url": url}, nil)
}

// Summarise starts a summary generation.
func (c *Client) Summarise(ctx context.Context) (SessionView, error) {
	var sess SessionView
	err := c.post(ctx, "summarise", nil, &sess)
	return sess, err
}

// Translate starts a translation generation.
func (c *Client) Translate(ctx context.Context) (SessionView, error) {
	var sess SessionView
	err := c.post(ctx, "translate", nil, &sess)
	return sess, err
}

// Simplify starts a plain-language rewrite.
func (c *Client) Simplify(ctx context.Context) (SessionView, error) {
	var sess SessionView
	err := c.post(ctx, "simplify", nil, &sess)
	return sess, err
}

// Ask starts a question generation.
func (c *Client) Ask(ctx context.Context, question string) (SessionView, error) {
	var sess SessionView
	err := c.post(ctx, "ask", map[string]string{"question": question}, &sess)
	return sess, err
}

// Stop cancels the in-flight generation of the given kind.
func (c *Client) Stop(ctx context.Context, kind string) error {
	return c.post(ctx, "stop", map[string]string{"kind": kind}, nil)
}

// Clear wipes the conversation.
func (c *Client) Clear(ctx context.Context) error {
	return c.post(ctx, "clear", nil, nil)
}

// ClickCitation toggles the highlight for a citation key.
func (c *Client) ClickCitation(ctx context.Context, key string) error {
	return c.post(ctx, "citation", map[string]string{"key": key}, nil)
}

// SetLanguage changes the preferred language. Scope "site" overrides the
// current site only; "global" rewrites the fallback default.
func (c *Client) SetLanguage(ctx context.Context, language, scope string) error {
	return c.post(ctx, "language", map[string]string{"language": language, "scope": scope}, nil)
}

// SetSitePrefs updates preferences for the current page's site. Nil fields
// are left untouched.
func (c *Client) SetSitePrefs(ctx context.Context, language *string, autoSummarise *bool) error {
	body := map[string]any{}
	if language != nil {
		body["language"] = *language
	}
	if autoSummarise != nil {
		body["autoSummarise"] = *autoSummarise
	}
	return c.post(ctx, "prefs", body, nil)
}

// Logs fetches the most recent log entries, newest last. A zero limit
// returns everything retained.
func (c *Client) Logs(ctx context.Context, limit int) ([]LogEntry, error) {
	path := "logs"
	if limit > 0 {
		path = fmt.Sprintf("logs?limit=%d", limit)
	}
	var logs []LogEntry
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Server+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("logs: %s", resp.Status)
	}
	return logs, json.NewDecoder(resp.Body).Decode(&logs)
}

// View fetches the full render snapshot.
func (c *Client) View(ctx context.Context) (ViewModel, error) {
	var vm ViewModel
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Server+"view", nil)
	if err != nil {
		return vm, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return vm, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return vm, fmt.Errorf("view: %s", resp.Status)
	}
	return vm, json.NewDecoder(resp.Body).Decode(&vm)
}
