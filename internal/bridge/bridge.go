// Package bridge talks to the browser-automation sidecar over HTTP. It
// implements the driver, classifier, and engager interfaces the engine's
// services consume, so the sidecar stays a swappable external process.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/leadscout/leadscout/internal/agent"
	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/logger"
	"github.com/leadscout/leadscout/internal/retry"
	"github.com/leadscout/leadscout/internal/session"
)

const errorBodyLimit = 512

// errSidecarUnavailable wraps 5xx responses so they retry like transport
// failures.
var errSidecarUnavailable = errors.New("automation sidecar unavailable")

// Client is the HTTP client for the automation sidecar.
type Client struct {
	http    *http.Client
	baseURL string
	retry   retry.Config
	logger  logger.Logger
}

// NewClient creates a sidecar client.
func NewClient(cfg config.AutomationConfig, log logger.Logger) *Client {
	retryCfg := retry.DefaultConfig()
	retryCfg.IsRetryable = func(err error) bool {
		return retry.DefaultIsRetryable(err) || errors.Is(err, errSidecarUnavailable)
	}

	return &Client{
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		baseURL: cfg.BaseURL,
		retry:   retryCfg,
		logger:  log,
	}
}

// post sends a JSON request and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Retry(ctx, c.retry, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if reqErr != nil {
			return fmt.Errorf("build request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := c.http.Do(req)
		if doErr != nil {
			return fmt.Errorf("call sidecar: %w", doErr)
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				c.logger.Debug("close sidecar response body", logger.Error(closeErr))
			}
		}()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s status %d", errSidecarUnavailable, path, resp.StatusCode)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
			return fmt.Errorf("sidecar rejected %s: status %d: %s", path, resp.StatusCode, string(msg))
		}

		if out == nil {
			return nil
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
			return fmt.Errorf("decode sidecar response: %w", decodeErr)
		}
		return nil
	})
}

type fetchRequest struct {
	AccountID   string `json:"account_id"`
	SessionBlob []byte `json:"session_blob"`
	GroupKey    string `json:"group_key"`
	Cursor      string `json:"cursor,omitempty"`
	Limit       int    `json:"limit"`
}

type fetchResponse struct {
	Posts []domain.Post `json:"posts"`
}

// FetchSince implements scrape.Driver: posts strictly newer than the
// cursor, oldest first.
func (c *Client) FetchSince(ctx context.Context, handle *session.Handle, group *domain.Group, cursor string, limit int) ([]domain.Post, error) {
	var resp fetchResponse
	err := c.post(ctx, "/v1/scrape/fetch", fetchRequest{
		AccountID:   handle.AccountID,
		SessionBlob: handle.Blob,
		GroupKey:    group.ExternalKey,
		Cursor:      cursor,
		Limit:       limit,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Posts, nil
}

type classifyRequest struct {
	PostURL      string `json:"post_url"`
	AuthorName   string `json:"author_name"`
	AuthorHandle string `json:"author_handle"`
	Content      string `json:"content"`
}

// Classify implements leads.Classifier.
func (c *Client) Classify(ctx context.Context, post *domain.Post) (*domain.Classification, error) {
	var verdict domain.Classification
	err := c.post(ctx, "/v1/classify", classifyRequest{
		PostURL:      post.URL,
		AuthorName:   post.AuthorName,
		AuthorHandle: post.AuthorHandle,
		Content:      post.Content,
	}, &verdict)
	if err != nil {
		return nil, err
	}
	return &verdict, nil
}

type engageRequest struct {
	AccountID   string `json:"account_id"`
	SessionBlob []byte `json:"session_blob"`
	PostURL     string `json:"post_url,omitempty"`
	Handle      string `json:"handle,omitempty"`
}

// CommentOnLead implements agent.Engager: the sidecar composes and posts
// the comment under the lead's source post.
func (c *Client) CommentOnLead(ctx context.Context, handle *session.Handle, lead *domain.Lead) error {
	return c.post(ctx, "/v1/engage/comment", engageRequest{
		AccountID:   handle.AccountID,
		SessionBlob: handle.Blob,
		PostURL:     lead.PostURL,
	}, nil)
}

// SendDM implements agent.Engager.
func (c *Client) SendDM(ctx context.Context, handle *session.Handle, lead *domain.Lead) error {
	return c.post(ctx, "/v1/engage/dm", engageRequest{
		AccountID:   handle.AccountID,
		SessionBlob: handle.Blob,
		PostURL:     lead.PostURL,
		Handle:      lead.AuthorHandle,
	}, nil)
}

type inboxResponse struct {
	Messages []agent.Inbound `json:"messages"`
}

// FetchInbound implements agent.Engager: unread inbox messages since the
// last sweep.
func (c *Client) FetchInbound(ctx context.Context, handle *session.Handle) ([]agent.Inbound, error) {
	var resp inboxResponse
	err := c.post(ctx, "/v1/inbox/unread", engageRequest{
		AccountID:   handle.AccountID,
		SessionBlob: handle.Blob,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}
