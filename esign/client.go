package esign

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Page size bounds accepted by the listing endpoint.
const (
	MinPageSize = 1
	MaxPageSize = 1000
)

const apiPrefix = "/restapi/v2.1/accounts/"

// Client is a thin REST client for the envelope endpoints. Every call goes
// through the same RetryPolicy.
type Client struct {
	http    *http.Client
	account AccountContext
	token   string
	retry   RetryPolicy
}

type Option func(*Client)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// NewClient builds a client for account authorized by accessToken.
func NewClient(httpClient *http.Client, account AccountContext, accessToken string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		http:    httpClient,
		account: account,
		token:   accessToken,
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListEnvelopes fetches one page of envelopes whose status changed within the range.
func (c *Client) ListEnvelopes(ctx context.Context, p ListParams) (EnvelopePage, error) {
	if err := p.validate(); err != nil {
		return EnvelopePage{}, err
	}

	q := url.Values{}
	q.Set("from_date", p.FromDate)
	q.Set("status", p.Status)
	q.Set("start_position", strconv.Itoa(p.StartPosition))
	q.Set("count", strconv.Itoa(p.Count))
	if p.ToDate != "" {
		q.Set("to_date", p.ToDate)
	}

	var page EnvelopePage
	if err := c.getJSON(ctx, "/envelopes", q, &page); err != nil {
		return EnvelopePage{}, fmt.Errorf("esign: list envelopes: %w", err)
	}
	return page, nil
}

// ListDocuments returns the raw document entries of an envelope.
func (c *Client) ListDocuments(ctx context.Context, envelopeID string) ([]RawObject, error) {
	var payload documentsPayload
	path := "/envelopes/" + url.PathEscape(envelopeID) + "/documents"
	if err := c.getJSON(ctx, path, nil, &payload); err != nil {
		return nil, fmt.Errorf("esign: list documents: %w", err)
	}
	return payload.list(), nil
}

// OpenDocument starts streaming a document's bytes, following redirects.
// Only obtaining the response is retried; reading Body is the caller's concern.
func (c *Client) OpenDocument(ctx context.Context, envelopeID, documentID string) (*DocumentStream, error) {
	endpoint := c.endpoint("/envelopes/"+url.PathEscape(envelopeID)+"/documents/"+url.PathEscape(documentID), nil)

	var stream *DocumentStream
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, endpoint)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		if err := checkResponse(resp); err != nil {
			return err
		}
		stream = &DocumentStream{Body: resp.Body, Header: resp.Header}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("esign: open document: %w", err)
	}
	return stream, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := c.endpoint(path, q)
	return c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, endpoint)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		if err := checkResponse(resp); err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	})
}

func (c *Client) newRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return req, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := strings.TrimRight(c.account.BaseURI, "/") + apiPrefix + url.PathEscape(c.account.AccountID) + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}
