package stt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

// BanglaSpeechClient talks to a Gradio-hosted Bangla speech model. The app
// exposes a single /transcribe endpoint taking an audio file and a
// grammar-correction flag. Authentication is the Gradio cookie login.
type BanglaSpeechClient struct {
	HTTPClient *http.Client

	baseURL    string
	username   string
	password   string
	maxRetries int
	applyFixes bool

	loginOnce sync.Once
	loginErr  error
}

// BanglaSpeechOptions configures the remote endpoint.
type BanglaSpeechOptions struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	MaxRetries int
	// ApplyCorrection asks the model to run its grammar-correction pass.
	ApplyCorrection bool
}

// NewBanglaSpeechClient constructs the client. The base URL is required.
func NewBanglaSpeechClient(opts BanglaSpeechOptions) (*BanglaSpeechClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("banglaspeech: base URL is required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("banglaspeech: cookie jar: %w", err)
	}
	return &BanglaSpeechClient{
		HTTPClient: &http.Client{Timeout: opts.Timeout, Jar: jar},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		username:   opts.Username,
		password:   opts.Password,
		maxRetries: opts.MaxRetries,
		applyFixes: opts.ApplyCorrection,
	}, nil
}

// Recognize uploads the utterance as WAV and polls for the transcript.
// Transient failures are retried with 1s spacing up to MaxRetries attempts.
func (c *BanglaSpeechClient) Recognize(ctx context.Context, pcm16k []byte) (string, error) {
	if len(pcm16k) == 0 {
		return "", nil
	}
	wav := EncodeWAV(pcm16k, 16000, 1)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
			}
		}
		text, err := c.transcribeOnce(ctx, wav)
		if err == nil {
			return text, nil
		}
		lastErr = err
		log.Printf("banglaspeech: attempt %d/%d failed: %v", attempt+1, c.maxRetries, err)
	}
	return "", fmt.Errorf("banglaspeech: failed after %d attempts: %w", c.maxRetries, lastErr)
}

// Close releases nothing; the HTTP client carries no persistent connection
// state worth tearing down explicitly.
func (c *BanglaSpeechClient) Close() error { return nil }

func (c *BanglaSpeechClient) transcribeOnce(ctx context.Context, wav []byte) (string, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return "", err
	}
	remotePath, err := c.upload(ctx, wav)
	if err != nil {
		return "", err
	}
	eventID, err := c.call(ctx, remotePath)
	if err != nil {
		return "", err
	}
	return c.result(ctx, eventID)
}

// ensureLogin performs the Gradio cookie login once when credentials are set.
func (c *BanglaSpeechClient) ensureLogin(ctx context.Context) error {
	if c.username == "" {
		return nil
	}
	c.loginOnce.Do(func() {
		form := url.Values{}
		form.Set("username", c.username)
		form.Set("password", c.password)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
		if err != nil {
			c.loginErr = err
			return
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			c.loginErr = fmt.Errorf("login: %w", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			c.loginErr = fmt.Errorf("login: status=%d body=%s", resp.StatusCode, string(b))
		}
	})
	return c.loginErr
}

// upload pushes the WAV to the Gradio file store and returns its server path.
func (c *BanglaSpeechClient) upload(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("files", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/gradio_api/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload: status=%d body=%s", resp.StatusCode, string(b))
	}
	var paths []string
	if err := json.NewDecoder(resp.Body).Decode(&paths); err != nil {
		return "", fmt.Errorf("upload: decode: %w", err)
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("upload: empty path list")
	}
	return paths[0], nil
}

// call invokes the /transcribe endpoint and returns the result event id.
func (c *BanglaSpeechClient) call(ctx context.Context, remotePath string) (string, error) {
	payload := map[string]any{
		"data": []any{
			map[string]any{
				"path": remotePath,
				"meta": map[string]any{"_type": "gradio.FileData"},
			},
			c.applyFixes,
		},
	}
	buf, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/gradio_api/call/transcribe", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("call: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("call: decode: %w", err)
	}
	if cr.EventID == "" {
		return "", fmt.Errorf("call: missing event_id")
	}
	return cr.EventID, nil
}

// result streams the server-sent events for the given call until the
// "complete" event and extracts the transcript.
func (c *BanglaSpeechClient) result(ctx context.Context, eventID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gradio_api/call/transcribe/"+eventID, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("result: status=%d body=%s", resp.StatusCode, string(b))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	event := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "error":
				return "", fmt.Errorf("result: remote error: %s", data)
			case "complete":
				var out []any
				if err := json.Unmarshal([]byte(data), &out); err != nil {
					return "", fmt.Errorf("result: decode: %w", err)
				}
				if len(out) == 0 {
					return "", nil
				}
				text, _ := out[0].(string)
				return strings.TrimSpace(text), nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("result: read: %w", err)
	}
	return "", fmt.Errorf("result: stream ended without completion")
}
