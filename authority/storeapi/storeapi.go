// Package storeapi is a PurchaseAuthority backed by a store verification service.
//
// The service exposes products, current entitlements, purchases, and a
// Server-Sent Events stream of transaction updates. Every transaction arrives
// as an ES256 JWS and is verified locally before it is trusted.
package storeapi

import (
	"bufio"
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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ineyio/askgate"
)

// Client talks to the store verification service.
type Client struct {
	baseURL        string
	token          string
	verifier       *Verifier
	httpClient     *http.Client
	streamClient   *http.Client
	reconnectDelay time.Duration
	logger         *zap.Logger
}

var _ askgate.PurchaseAuthority = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets the client used for request/response calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithStreamClient sets the client used for the update stream. It must not
// have a total request timeout.
func WithStreamClient(c *http.Client) Option {
	return func(cl *Client) { cl.streamClient = c }
}

// WithToken authenticates as the app user with a bearer token.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

// WithReconnectDelay sets the fixed pause before reopening a dropped update stream.
func WithReconnectDelay(d time.Duration) Option {
	return func(cl *Client) { cl.reconnectDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a client for baseURL that trusts transactions signed for verifier.
func New(baseURL string, verifier *Verifier, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		verifier:       verifier,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		streamClient:   &http.Client{},
		reconnectDelay: 5 * time.Second,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type productResponse struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	DisplayPrice string `json:"display_price"`
}

type entitlementsResponse struct {
	SignedTransactions []string `json:"signed_transactions"`
}

type purchaseRequest struct {
	ProductID string `json:"product_id"`
}

type purchaseResponse struct {
	Status            string `json:"status"`
	SignedTransaction string `json:"signed_transaction"`
}

func (c *Client) Product(ctx context.Context, productID string) (askgate.Product, error) {
	var resp productResponse
	err := c.do(ctx, http.MethodGet, "/v1/products/"+url.PathEscape(productID), nil, &resp)
	if errors.Is(err, errNotFound) {
		return askgate.Product{}, fmt.Errorf("%w: %s", askgate.ErrProductNotFound, productID)
	}
	if err != nil {
		return askgate.Product{}, err
	}
	return askgate.Product{ID: resp.ID, DisplayName: resp.DisplayName, Price: resp.DisplayPrice}, nil
}

func (c *Client) CurrentEntitlements(ctx context.Context, productID string) ([]askgate.VerificationResult, error) {
	var resp entitlementsResponse
	path := "/v1/entitlements?product_id=" + url.QueryEscape(productID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	results := make([]askgate.VerificationResult, 0, len(resp.SignedTransactions))
	for _, jws := range resp.SignedTransactions {
		results = append(results, c.verifier.Verify(jws))
	}
	return results, nil
}

func (c *Client) Purchase(ctx context.Context, product askgate.Product) (askgate.PurchaseResult, error) {
	var resp purchaseResponse
	if err := c.do(ctx, http.MethodPost, "/v1/purchases", purchaseRequest{ProductID: product.ID}, &resp); err != nil {
		return askgate.PurchaseResult{}, err
	}

	status := askgate.PurchaseStatus(resp.Status)
	switch status {
	case askgate.PurchaseSuccess:
		return askgate.PurchaseResult{Status: status, Verification: c.verifier.Verify(resp.SignedTransaction)}, nil
	case askgate.PurchaseCancelled, askgate.PurchasePending:
		return askgate.PurchaseResult{Status: status}, nil
	default:
		return askgate.PurchaseResult{}, fmt.Errorf("askgate/storeapi: unknown purchase status %q", resp.Status)
	}
}

func (c *Client) Finish(ctx context.Context, tx askgate.Transaction) error {
	return c.do(ctx, http.MethodPost, "/v1/transactions/"+url.PathEscape(tx.ID)+"/finish", nil, nil)
}

// Updates opens the SSE update stream and keeps it open until ctx is done,
// reconnecting after reconnectDelay when the server drops it.
func (c *Client) Updates(ctx context.Context) (<-chan askgate.VerificationResult, error) {
	body, err := c.openStream(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan askgate.VerificationResult)
	go func() {
		defer close(out)
		for {
			err := c.readStream(ctx, body, out)
			_ = body.Close()
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("transaction update stream dropped", zap.Error(err))

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.reconnectDelay):
				}
				body, err = c.openStream(ctx)
				if err == nil {
					break
				}
				c.logger.Warn("reopen transaction update stream", zap.Error(err))
			}
		}
	}()
	return out, nil
}

func (c *Client) openStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/transactions/updates", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("askgate/storeapi: open update stream: %w", err)
	}
	if err := mapHTTPError(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// readStream parses Server-Sent Events until the body ends.
// Each data line carries one signed transaction.
func (c *Client) readStream(ctx context.Context, body io.Reader, out chan<- askgate.VerificationResult) error {
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		select {
		case out <- c.verifier.Verify(data):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var errNotFound = errors.New("askgate/storeapi: not found")

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("askgate/storeapi: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("askgate/storeapi: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("askgate/storeapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := mapHTTPError(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("askgate/storeapi: decode response: %w", err)
	}
	return nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	return fmt.Errorf("askgate/storeapi: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}
