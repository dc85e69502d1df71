// Package httpgateway talks to a REST backend that exposes the orders relation.
package httpgateway

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

	"order-sync/internal/auth"
	"order-sync/internal/domain"
	"order-sync/internal/gateway"
)

type Client struct {
	baseURL string
	client  *http.Client
	creds   auth.Provider
}

var _ gateway.Gateway = (*Client)(nil)

// New builds a client for baseURL. creds may be nil for unauthenticated backends.
func New(baseURL string, timeout time.Duration, creds auth.Provider) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		creds:   creds,
	}
}

func (c *Client) FetchOrder(ctx context.Context, id string) (domain.Order, error) {
	var o domain.Order
	err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, nil, &o)
	return o, err
}

func (c *Client) FetchOrders(ctx context.Context, scope domain.Scope) ([]domain.Order, error) {
	if scope.IsNone() {
		return nil, fmt.Errorf("httpgateway: cannot list orders without a scope")
	}
	q := url.Values{}
	q.Set(scope.Column(), "eq."+scope.ID)
	q.Set("order", "created_at.desc")
	var out []domain.Order
	err := c.do(ctx, http.MethodGet, "/orders", q, nil, &out)
	return out, err
}

func (c *Client) MutateOrder(ctx context.Context, id string, p gateway.Patch) (domain.Order, error) {
	if err := p.Validate(); err != nil {
		return domain.Order{}, err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return domain.Order{}, err
	}
	var o domain.Order
	err = c.do(ctx, http.MethodPatch, "/orders/"+url.PathEscape(id), nil, bytes.NewReader(body), &o)
	return o, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		tok, err := c.creds.Token(ctx)
		if err != nil && !errors.Is(err, auth.ErrNoIdentity) {
			return err
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return gateway.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upstream error: status=%d body=%s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
