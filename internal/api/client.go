package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/airline"
	"github.com/ppiankov/surety/internal/common"
	"github.com/ppiankov/surety/internal/eventlog"
	"github.com/ppiankov/surety/internal/model"
	"github.com/ppiankov/surety/internal/protocol"
	"github.com/ppiankov/surety/internal/settlement"
	"github.com/shopspring/decimal"
)

// Client calls the contract API. Errors carry the server's codes, so
// errors.Is matches the same sentinels as in-process calls.
type Client struct {
	httpClient *http.Client
	baseURL    string
	identity   string
	pollWait   time.Duration
}

// NewClient creates a client acting as identity. The HTTP timeout is raised
// above pollWait when needed.
func NewClient(baseURL, identity string, timeout, pollWait time.Duration) *Client {
	if pollWait <= 0 {
		pollWait = 10 * time.Second
	}
	if timeout <= pollWait {
		timeout = pollWait + 10*time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		identity:   identity,
		pollWait:   pollWait,
	}
}

// As returns a copy of the client acting as identity
func (c *Client) As(identity string) *Client {
	cp := *c
	cp.identity = identity
	return &cp
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.identity != "" {
		req.Header.Set(IdentityHeader, c.identity)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.WithCause(common.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(common.WithCause(common.ErrTransport, err), "decode response")
	}
	return nil
}

// decodeError rebuilds a coded error from a failed response
func decodeError(resp *http.Response) error {
	var body ErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &body); err != nil || body.Code == "" {
		return errors.Wrapf(common.ErrTransport, "unexpected status: %s", resp.Status)
	}
	if sentinel, ok := common.Lookup(body.Code); ok {
		return errors.Wrap(sentinel, body.Error)
	}
	return common.NewError(common.ParseKind(body.Kind), body.Code, body.Error)
}

// Status returns the contract status
func (c *Client) Status(ctx context.Context) (StatusBody, error) {
	var out StatusBody
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out)
	return out, err
}

// Info identifies the contract instance behind the server
func (c *Client) Info(ctx context.Context) (model.ChainInfo, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return model.ChainInfo{}, err
	}
	return model.ChainInfo{Instance: st.Instance, Start: st.Start, Head: st.Sequence}, nil
}

// SetOperational pauses or resumes the contract
func (c *Client) SetOperational(ctx context.Context, operational bool) error {
	return c.do(ctx, http.MethodPut, "/v1/operational", operationalBody{Operational: operational}, nil)
}

// RegisterAirline registers id with the client identity as registrar
func (c *Client) RegisterAirline(ctx context.Context, id string) (airline.Airline, error) {
	var out airline.Airline
	err := c.do(ctx, http.MethodPost, "/v1/airlines", airlineBody{Airline: id}, &out)
	return out, err
}

// FundAirline funds id
func (c *Client) FundAirline(ctx context.Context, id string, amount decimal.Decimal) (airline.Airline, error) {
	var out airline.Airline
	err := c.do(ctx, http.MethodPost, "/v1/airlines/"+url.PathEscape(id)+"/fund", amountBody{Amount: amount}, &out)
	return out, err
}

// PurchaseInsurance buys a policy for the client identity
func (c *Client) PurchaseInsurance(ctx context.Context, flight model.FlightKey, premium decimal.Decimal) (model.Purchase, error) {
	var out model.Purchase
	err := c.do(ctx, http.MethodPost, "/v1/insurance", purchaseBody{FlightKey: flight, Premium: premium}, &out)
	return out, err
}

// Purchases lists the client identity's purchases
func (c *Client) Purchases(ctx context.Context) ([]model.Purchase, error) {
	var out []model.Purchase
	err := c.do(ctx, http.MethodGet, "/v1/insurance", nil, &out)
	return out, err
}

// RequestStatus broadcasts a status request for flight
func (c *Client) RequestStatus(ctx context.Context, flight model.FlightKey) (model.RequestKey, error) {
	var out model.RequestKey
	err := c.do(ctx, http.MethodPost, "/v1/flights/status-requests", flight, &out)
	return out, err
}

// RetrySettlement re-runs settlement for flight
func (c *Client) RetrySettlement(ctx context.Context, flight model.FlightKey) (settlement.Report, error) {
	var out settlement.Report
	err := c.do(ctx, http.MethodPost, "/v1/flights/settlements", flight, &out)
	return out, err
}

// Request returns a status request snapshot
func (c *Client) Request(ctx context.Context, key model.RequestKey) (model.RequestView, error) {
	var out model.RequestView
	path := fmt.Sprintf("/v1/requests/%d/%s/%s/%d", key.Index, url.PathEscape(key.Airline), url.PathEscape(key.Flight), key.Timestamp)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// RegistrationFee returns the oracle registration fee
func (c *Client) RegistrationFee(ctx context.Context) (decimal.Decimal, error) {
	var out FeeBody
	err := c.do(ctx, http.MethodGet, "/v1/oracles/fee", nil, &out)
	return out.Fee, err
}

// RegisterOracle registers identity, paying fee
func (c *Client) RegisterOracle(ctx context.Context, identity string, fee decimal.Decimal) (model.IndexSet, error) {
	var out IndicesBody
	err := c.As(identity).do(ctx, http.MethodPost, "/v1/oracles", registerBody{Fee: fee}, &out)
	return out.Indices, err
}

// OracleIndices returns identity's indices
func (c *Client) OracleIndices(ctx context.Context, identity string) (model.IndexSet, error) {
	var out IndicesBody
	err := c.do(ctx, http.MethodGet, "/v1/oracles/"+url.PathEscape(identity)+"/indices", nil, &out)
	return out.Indices, err
}

// SubmitResponse submits resp as resp.Identity
func (c *Client) SubmitResponse(ctx context.Context, resp model.Response) (protocol.Outcome, error) {
	var out protocol.Outcome
	err := c.As(resp.Identity).do(ctx, http.MethodPost, "/v1/oracles/responses",
		responseBody{RequestKey: resp.RequestKey, Status: resp.Status}, &out)
	return out, err
}

// Balance returns identity's balance
func (c *Client) Balance(ctx context.Context, identity string) (decimal.Decimal, error) {
	var out BalanceBody
	err := c.do(ctx, http.MethodGet, "/v1/balances/"+url.PathEscape(identity), nil, &out)
	return out.Balance, err
}

// Withdraw debits the client identity and returns the remaining balance
func (c *Client) Withdraw(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	var out BalanceBody
	err := c.do(ctx, http.MethodPost, "/v1/withdrawals", amountBody{Amount: amount}, &out)
	return out.Balance, err
}

// Events returns up to limit entries after the given sequence, waiting up to wait for the first
func (c *Client) Events(ctx context.Context, after uint64, limit int, wait time.Duration) (EventsBody, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if wait > 0 {
		q.Set("wait", wait.String())
	}
	var out EventsBody
	err := c.do(ctx, http.MethodGet, "/v1/events?"+q.Encode(), nil, &out)
	return out, err
}

// Subscribe long-polls the event log. The channel closes on the first
// transport error, when the server starts answering for another contract
// instance, or when ctx is done; callers resume from the last entry seen.
func (c *Client) Subscribe(ctx context.Context, after uint64) (<-chan eventlog.Entry, error) {
	page, err := c.Events(ctx, after, maxEventPage, 0)
	if err != nil {
		return nil, err
	}
	instance := page.Instance

	out := make(chan eventlog.Entry, 64)
	go func() {
		defer close(out)

		cursor := after
		for {
			for _, e := range page.Entries {
				select {
				case out <- e:
					cursor = e.Sequence
				case <-ctx.Done():
					return
				}
			}
			next, err := c.Events(ctx, cursor, maxEventPage, c.pollWait)
			if err != nil || next.Instance != instance || next.Head < cursor {
				return
			}
			page = next
		}
	}()

	return out, nil
}
