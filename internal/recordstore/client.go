package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"reelhub/pkg/models"
)

const (
	defaultBaseURL    = "https://api.airtable.com/v0"
	defaultTable      = "Table 1"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond
	defaultRateLimit  = 5.0 // the store allows 5 requests per second per base
	maxResponseSize   = 5 * 1024 * 1024
)

// Client talks to the record store over its REST API.
type Client struct {
	baseURL    string
	table      string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	logger     *logrus.Logger
}

type ClientConfig struct {
	BaseURL    string
	Table      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	RateLimit  float64 // requests per second, <= 0 disables limiting
	Logger     *logrus.Logger
	HTTPClient *http.Client
}

func NewClient() *Client {
	return NewClientWithConfig(&ClientConfig{
		MaxRetries: defaultMaxRetries,
		RateLimit:  defaultRateLimit,
	})
}

func NewClientWithConfig(config *ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Table == "" {
		config.Table = defaultTable
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RateLimit > 0 {
		burst := int(config.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		table:      config.Table,
		httpClient: httpClient,
		limiter:    limiter,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
		logger:     config.Logger,
	}
}

type basesResponse struct {
	Bases []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"bases"`
	Offset string `json:"offset"`
}

type recordsResponse struct {
	Records []models.Record `json:"records"`
	Offset  string          `json:"offset"`
}

type fieldsPayload struct {
	Fields models.Fields `json:"fields"`
}

type tablePayload struct {
	Name   string `json:"name"`
	Fields Schema `json:"fields"`
}

type createBasePayload struct {
	Name        string         `json:"name"`
	WorkspaceID string         `json:"workspaceId"`
	Tables      []tablePayload `json:"tables"`
}

type createBaseResponse struct {
	ID string `json:"id"`
}

type apiErrorBody struct {
	Error json.RawMessage `json:"error"`
}

func (c *Client) ListCollections(ctx context.Context, d models.Domain) ([]models.Collection, error) {
	const op = "list collections"
	if err := checkDomain(op, d); err != nil {
		return nil, err
	}

	var out []models.Collection
	offset := ""
	for {
		q := url.Values{}
		q.Set("workspaceId", d.WorkspaceID)
		if offset != "" {
			q.Set("offset", offset)
		}

		var resp basesResponse
		if err := c.do(ctx, d, op, http.MethodGet, "/meta/bases", q, nil, &resp); err != nil {
			return nil, err
		}
		for _, b := range resp.Bases {
			out = append(out, models.Collection{ID: b.ID, Name: b.Name})
		}
		if resp.Offset == "" {
			break
		}
		offset = resp.Offset
	}

	c.logger.WithFields(logrus.Fields{
		"domain":      d.Name,
		"collections": len(out),
	}).Debug("listed collections")
	return out, nil
}

func (c *Client) ListRecords(ctx context.Context, d models.Domain, collectionID string) ([]models.Record, error) {
	const op = "list records"
	if err := checkDomain(op, d); err != nil {
		return nil, err
	}

	out := make([]models.Record, 0)
	offset := ""
	for {
		var q url.Values
		if offset != "" {
			q = url.Values{}
			q.Set("offset", offset)
		}

		var resp recordsResponse
		if err := c.do(ctx, d, op, http.MethodGet, c.tablePath(collectionID), q, nil, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Records {
			if r.Fields == nil {
				r.Fields = models.Fields{}
			}
			out = append(out, r)
		}
		if resp.Offset == "" {
			break
		}
		offset = resp.Offset
	}

	c.logger.WithFields(logrus.Fields{
		"domain":     d.Name,
		"collection": collectionID,
		"records":    len(out),
	}).Debug("listed records")
	return out, nil
}

func (c *Client) CreateRecord(ctx context.Context, d models.Domain, collectionID string, fields models.Fields) (models.Record, error) {
	const op = "create record"
	if err := checkDomain(op, d); err != nil {
		return models.Record{}, err
	}

	var rec models.Record
	if err := c.do(ctx, d, op, http.MethodPost, c.tablePath(collectionID), nil, fieldsPayload{Fields: fields}, &rec); err != nil {
		return models.Record{}, err
	}

	c.logger.WithFields(logrus.Fields{
		"domain":     d.Name,
		"collection": collectionID,
		"record":     rec.ID,
	}).Info("record created")
	return rec, nil
}

func (c *Client) PatchRecord(ctx context.Context, d models.Domain, collectionID, recordID string, fields models.Fields) (models.Record, error) {
	const op = "patch record"
	if err := checkDomain(op, d); err != nil {
		return models.Record{}, err
	}

	path := c.tablePath(collectionID) + "/" + url.PathEscape(recordID)
	var rec models.Record
	if err := c.do(ctx, d, op, http.MethodPatch, path, nil, fieldsPayload{Fields: fields}, &rec); err != nil {
		return models.Record{}, err
	}
	return rec, nil
}

func (c *Client) CreateCollection(ctx context.Context, d models.Domain, name string, schema Schema) (models.Collection, error) {
	const op = "create collection"
	if err := checkDomain(op, d); err != nil {
		return models.Collection{}, err
	}

	payload := createBasePayload{
		Name:        name,
		WorkspaceID: d.WorkspaceID,
		Tables:      []tablePayload{{Name: c.table, Fields: schema}},
	}

	var resp createBaseResponse
	if err := c.do(ctx, d, op, http.MethodPost, "/meta/bases", nil, payload, &resp); err != nil {
		return models.Collection{}, err
	}

	c.logger.WithFields(logrus.Fields{
		"domain":     d.Name,
		"collection": resp.ID,
		"name":       name,
	}).Info("collection created")
	return models.Collection{ID: resp.ID, Name: name}, nil
}

func (c *Client) tablePath(collectionID string) string {
	return "/" + url.PathEscape(collectionID) + "/" + url.PathEscape(c.table)
}

// do performs one logical request, retrying 429 and 5xx responses and
// transport failures with exponential backoff.
func (c *Client) do(ctx context.Context, d models.Domain, op, method, path string, query url.Values, body, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return newError(ErrUpstreamRejected, op, 0, "encode request body", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.WithFields(logrus.Fields{
				"op":      op,
				"attempt": attempt,
				"delay":   delay,
				"error":   lastErr,
			}).Warn("record store request failed, retrying...")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return newError(ErrUpstreamUnavailable, op, 0, "", ctx.Err())
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return newError(ErrUpstreamUnavailable, op, 0, "rate limiter", err)
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return newError(ErrUpstreamRejected, op, 0, "build request", err)
		}
		req.Header.Set("Authorization", "Bearer "+d.APIKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return newError(ErrUpstreamUnavailable, op, 0, "", ctx.Err())
			}
			lastErr = newError(ErrUpstreamUnavailable, op, 0, "", err)
			continue
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
		resp.Body.Close()
		if err != nil {
			lastErr = newError(ErrUpstreamUnavailable, op, resp.StatusCode, "read response", err)
			continue
		}
		if len(respBody) > maxResponseSize {
			return newError(ErrUpstreamUnavailable, op, resp.StatusCode, fmt.Sprintf("response exceeded %d bytes", maxResponseSize), nil)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.logger.WithFields(logrus.Fields{
				"op":            op,
				"domain":        d.Name,
				"attempt":       attempt,
				"status":        resp.StatusCode,
				"response_size": len(respBody),
			}).Debug("record store request successful")
			if out == nil || len(respBody) == 0 {
				return nil
			}
			dec := json.NewDecoder(bytes.NewReader(respBody))
			dec.UseNumber()
			if err := dec.Decode(out); err != nil {
				return newError(ErrUpstreamUnavailable, op, resp.StatusCode, "decode response", err)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = newError(ErrUpstreamUnavailable, op, resp.StatusCode, upstreamMessage(respBody), nil)
			continue
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return newError(ErrUpstreamUnavailable, op, resp.StatusCode, "credentials rejected", nil)
		case resp.StatusCode == http.StatusNotFound:
			return newError(ErrNotFound, op, resp.StatusCode, upstreamMessage(respBody), nil)
		default:
			return newError(ErrUpstreamRejected, op, resp.StatusCode, upstreamMessage(respBody), nil)
		}
	}

	var storeErr *Error
	if errors.As(lastErr, &storeErr) {
		storeErr.Message = strings.TrimSpace(fmt.Sprintf("%s (after %d attempts)", storeErr.Message, c.maxRetries+1))
		return storeErr
	}
	return newError(ErrUpstreamUnavailable, op, 0, "retries exhausted", lastErr)
}

const maxUpstreamMessage = 200

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// upstreamMessage extracts the human readable part of a store error body,
// which is either {"error":"TYPE"} or {"error":{"type":..,"message":..}}.
func upstreamMessage(body []byte) string {
	var eb apiErrorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Error) == 0 {
		return truncate(strings.TrimSpace(string(body)), maxUpstreamMessage)
	}

	var s string
	if err := json.Unmarshal(eb.Error, &s); err == nil {
		return s
	}

	var obj struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(eb.Error, &obj); err == nil {
		switch {
		case obj.Type != "" && obj.Message != "":
			return obj.Type + ": " + obj.Message
		case obj.Message != "":
			return obj.Message
		default:
			return obj.Type
		}
	}
	return string(eb.Error)
}
