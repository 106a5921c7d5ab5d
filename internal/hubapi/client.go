// Package hubapi consumes the hub's REST surface: paginated chat history
// and recording upload. The hub stays authoritative; this client only
// fetches and hands off.
package hubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagecast/engine/internal/domain"
)

const defaultRequestTimeout = 15 * time.Second

type Pagination struct {
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

type HistoryPage struct {
	Records    []domain.ChatMessage `json:"records"`
	Pagination Pagination           `json:"pagination"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

type Client struct {
	base  string
	token string
	http  *http.Client
	log   zerolog.Logger
}

func NewClient(base, token string) *Client {
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: defaultRequestTimeout},
		log:   log.With().Str("module", "hubapi").Logger(),
	}
}

// ChatHistory fetches one page of persisted chat records.
func (c *Client) ChatHistory(ctx context.Context, sessionID domain.SessionID, page, limit int) (HistoryPage, error) {
	var out HistoryPage

	u := fmt.Sprintf("%s/sessions/%s/messages?%s", c.base, sessionID, url.Values{
		"page":  {fmt.Sprint(page)},
		"limit": {fmt.Sprint(limit)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return out, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("chat history: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("chat history: decode: %w", err)
	}
	return out, nil
}

// FullChatHistory walks every page in order.
func (c *Client) FullChatHistory(ctx context.Context, sessionID domain.SessionID, limit int) ([]domain.ChatMessage, error) {
	var all []domain.ChatMessage
	for page := 1; ; page++ {
		hp, err := c.ChatHistory(ctx, sessionID, page, limit)
		if err != nil {
			return nil, err
		}
		all = append(all, hp.Records...)
		if hp.Pagination.Page >= hp.Pagination.Pages || len(hp.Records) == 0 {
			return all, nil
		}
	}
}

// UploadRecording streams the artifact and returns its hub URL. Implements
// capture.Uploader.
func (c *Client) UploadRecording(ctx context.Context, sessionID domain.SessionID, r io.Reader) (string, error) {
	u := fmt.Sprintf("%s/sessions/%s/recordings", c.base, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, r)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload recording: unexpected status %d", resp.StatusCode)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("upload recording: decode: %w", err)
	}
	c.log.Info().Str("session", string(sessionID)).Str("url", out.URL).Msg("recording uploaded")
	return out.URL, nil
}
