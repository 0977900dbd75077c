// Package telegram is a minimal Bot API client covering what the bot needs:
// long polling, sending and editing messages, and moving documents in both
// directions. Outbound calls are paced by a token bucket so the bot stays
// under the platform send limits.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/promptgate/promptgate/internal/ratelimit"
)

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration for the Bot API client.
type Config struct {
	Token      string
	BaseURL    string // optional, defaults to https://api.telegram.org
	HTTPClient HTTPClient
	// SendRate is the sustained outbound calls per second; zero uses a
	// conservative default below Telegram's published limit.
	SendRate float64
}

// Client talks to the Telegram Bot API.
type Client struct {
	token      string
	baseURL    string
	httpClient HTTPClient
	limiter    *ratelimit.TokenBucket
}

// NewClient constructs a Bot API client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: bot token required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Long polling holds the connection open; leave the timeout to the
		// request context instead of the client.
		httpClient = &http.Client{Timeout: 0}
	}
	rate := cfg.SendRate
	if rate <= 0 {
		rate = 20
	}
	return &Client{
		token:      cfg.Token,
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    ratelimit.NewTokenBucket(rate, rate),
	}, nil
}

type envelope struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}
	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("telegram: unmarshal %s response: %w", method, err)
	}
	if !env.OK {
		if env.Description != "" {
			return fmt.Errorf("telegram: %s failed: %s", method, env.Description)
		}
		return fmt.Errorf("telegram: %s failed: http %d", method, resp.StatusCode)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// GetUpdates long-polls for new message updates after offset. timeout is the
// server-side hold in seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeout,
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends text to the chat and returns the created message, whose
// ID is needed for later edits.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Message{}, err
	}
	payload := map[string]any{"chat_id": chatID, "text": text}
	var msg Message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// EditMessageText replaces the text of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	payload := map[string]any{"chat_id": chatID, "message_id": messageID, "text": text}
	return c.call(ctx, "editMessageText", payload, nil)
}

// DeleteMessage removes a previously sent message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	payload := map[string]any{"chat_id": chatID, "message_id": messageID}
	return c.call(ctx, "deleteMessage", payload, nil)
}

// SendDocument uploads content as a named file attachment to the chat.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, content []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", fmt.Sprintf("%d", chatID)); err != nil {
		return fmt.Errorf("telegram: write chat_id field: %w", err)
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("telegram: create document part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("telegram: write document part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("telegram: finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.methodURL("sendDocument"), &buf)
	if err != nil {
		return fmt.Errorf("telegram: create sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, "sendDocument", nil)
}

// GetFile resolves a file_id into a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (File, error) {
	var f File
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return File{}, err
	}
	return f, nil
}

// DownloadFile fetches the raw bytes for a path returned by GetFile.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, filePath)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download file: http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram: read file body: %w", err)
	}
	return data, nil
}

// NextOffset returns the offset acknowledging everything up to and including
// the given updates.
func NextOffset(updates []Update, current int64) int64 {
	offset := current
	for _, u := range updates {
		if u.UpdateID+1 > offset {
			offset = u.UpdateID + 1
		}
	}
	return offset
}

// WaitBeforeRetry sleeps briefly after a failed poll so a broken network
// does not spin the loop. It returns early if the context ends.
func WaitBeforeRetry(ctx context.Context) {
	timer := time.NewTimer(3 * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
