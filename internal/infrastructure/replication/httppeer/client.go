package httppeer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"poscore/internal/core/docstore"
	"poscore/internal/core/revision"
	"poscore/internal/infrastructure/codec"
	"poscore/internal/replication"
)

// TokenSource supplies bearer tokens.
type TokenSource interface {
	Token() (string, error)
}

// ErrorBody is the error envelope returned by the remote API.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"error"`
}

// StatusError is a non-2xx response.
type StatusError struct {
	Status int
	Body   ErrorBody
}

func (e *StatusError) Error() string {
	if e.Body.Message != "" {
		return fmt.Sprintf("remote returned %d: %s", e.Status, e.Body.Message)
	}
	return fmt.Sprintf("remote returned %d", e.Status)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the replication root, e.g. https://hq.example.com/api/v1/replication.
	BaseURL string
	Timeout time.Duration
	// Compress sends request bodies zstd-encoded.
	Compress bool
}

// Client is a replication.Peer speaking HTTP.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
	zstd   *codec.Zstd
	cfg    Config
}

var _ replication.Peer = (*Client)(nil)

// New creates a client. A nil httpClient uses a client with cfg.Timeout.
func New(cfg Config, tokens TokenSource, httpClient *http.Client) (*Client, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid replication base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	z, err := codec.NewZstd()
	if err != nil {
		return nil, err
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		http:   httpClient,
		tokens: tokens,
		zstd:   z,
		cfg:    cfg,
	}, nil
}

// Ping checks that the remote is reachable and accepts our token.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, PathPing, nil, nil)
}

// Changes fetches a page of the remote change feed.
func (c *Client) Changes(ctx context.Context, collection string, since int64, limit int) ([]docstore.Change, int64, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("limit", strconv.Itoa(limit))

	var resp ChangesResponse
	path := fmt.Sprintf(PathChanges, url.PathEscape(collection)) + "?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, since, err
	}
	return resp.Changes, resp.Last, nil
}

// RevsDiff asks the remote which revisions it is missing.
func (c *Client) RevsDiff(ctx context.Context, collection string, revs map[string][]revision.Revision) (map[string][]revision.Revision, error) {
	var resp RevsDiffResponse
	path := fmt.Sprintf(PathRevsDiff, url.PathEscape(collection))
	if err := c.do(ctx, http.MethodPost, path, RevsRequest{Revs: revs}, &resp); err != nil {
		return nil, err
	}
	return resp.Missing, nil
}

// Revisions fetches leaf revisions from the remote.
func (c *Client) Revisions(ctx context.Context, collection string, revs map[string][]revision.Revision) ([]docstore.Replica, error) {
	var resp ReplicasBody
	path := fmt.Sprintf(PathRevisions, url.PathEscape(collection))
	if err := c.do(ctx, http.MethodPost, path, RevsRequest{Revs: revs}, &resp); err != nil {
		return nil, err
	}
	return resp.Replicas, nil
}

// BulkReplicate writes replicas on the remote.
func (c *Client) BulkReplicate(ctx context.Context, collection string, replicas []docstore.Replica) (int, error) {
	var resp BulkResponse
	path := fmt.Sprintf(PathBulk, url.PathEscape(collection))
	if err := c.do(ctx, http.MethodPost, path, ReplicasBody{Replicas: replicas}, &resp); err != nil {
		return 0, err
	}
	return resp.Written, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	var encoded bool
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		if c.cfg.Compress {
			payload = c.zstd.Encode(payload)
			encoded = true
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", codec.ContentEncoding)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if encoded {
		req.Header.Set("Content-Encoding", codec.ContentEncoding)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.Header.Get("Content-Encoding") == codec.ContentEncoding {
		if raw, err = c.zstd.Decode(raw); err != nil {
			return err
		}
	}

	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(status int, raw []byte) error {
	se := &StatusError{Status: status}
	_ = json.Unmarshal(raw, &se.Body)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Join(replication.ErrUnauthorized, se)
	case status == http.StatusNotFound && se.Body.Code == "NOT_FOUND":
		return errors.Join(docstore.ErrUnknownCollection, se)
	default:
		return se
	}
}
