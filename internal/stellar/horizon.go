// Package stellar watches Stellar accounts through Horizon and delivers their events to webhooks.
package stellar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
	"github.com/stellar/go-stellar-sdk/protocols/horizon/operations"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrHorizon = errors.New("horizon request failed")

// Operation is one Horizon operation record.
type Operation struct {
	ID          string
	PagingToken string
	Type        string
	TxHash      string
	CreatedAt   time.Time
	Raw         string
}

// Horizon reads account operations from a Horizon server.
type Horizon struct {
	baseURL string
	client  *http.Client
}

func NewHorizon(baseURL string, timeout time.Duration) *Horizon {
	return &Horizon{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// LatestCursor is the paging token of the newest operation on the account,
// or "" for an account that has none or does not exist yet.
func (h *Horizon) LatestCursor(ctx context.Context, account string) (string, error) {
	ops, err := h.fetch(ctx, horizonclient.OperationRequest{
		ForAccount: account,
		Order:      horizonclient.OrderDesc,
		Limit:      1,
	})
	if err != nil || len(ops) == 0 {
		return "", err
	}
	return ops[0].PagingToken, nil
}

// Operations returns up to limit operations after cursor, oldest first.
func (h *Horizon) Operations(ctx context.Context, account, cursor string, limit int) ([]Operation, error) {
	return h.fetch(ctx, horizonclient.OperationRequest{
		ForAccount: account,
		Cursor:     cursor,
		Order:      horizonclient.OrderAsc,
		Limit:      uint(limit),
	})
}

// fetch returns no operations for a 404, which Horizon answers for unfunded accounts.
func (h *Horizon) fetch(ctx context.Context, req horizonclient.OperationRequest) ([]Operation, error) {
	client := &horizonclient.Client{
		HorizonURL: h.baseURL,
		HTTP:       contextHTTP{ctx: ctx, client: h.client},
		AppName:    "stellara",
	}
	page, err := client.Operations(req)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return nil, nil
		}
		if herr := horizonclient.GetError(err); herr != nil {
			return nil, fmt.Errorf("%w: %d %s: %s", ErrHorizon, herr.Problem.Status, herr.Problem.Title, herr.Problem.Detail)
		}
		return nil, fmt.Errorf("%w: %w", ErrHorizon, err)
	}
	ops := make([]Operation, 0, len(page.Embedded.Records))
	for _, record := range page.Embedded.Records {
		op, err := toOperation(record)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// toOperation keeps the full record as the event payload.
func toOperation(record operations.Operation) (Operation, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Operation{}, fmt.Errorf("%w: encode record: %w", ErrHorizon, err)
	}
	doc := gjson.ParseBytes(raw)
	op := Operation{
		ID:          record.GetID(),
		PagingToken: doc.Get("paging_token").String(),
		Type:        record.GetType(),
		TxHash:      record.GetTransactionHash(),
		Raw:         string(raw),
	}
	if op.ID == "" || op.PagingToken == "" {
		return Operation{}, fmt.Errorf("%w: record without id or paging_token", ErrHorizon)
	}
	if created := doc.Get("created_at").Time(); !created.IsZero() {
		op.CreatedAt = created.UTC()
	}
	return op, nil
}

// contextHTTP binds the caller's context to every request horizonclient makes.
type contextHTTP struct {
	ctx    context.Context
	client *http.Client
}

func (c contextHTTP) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

func (c contextHTTP) Get(u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

func (c contextHTTP) PostForm(u string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, u, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.client.Do(req)
}
