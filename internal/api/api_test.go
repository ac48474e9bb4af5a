package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/surety/internal/airline"
	"github.com/ppiankov/surety/internal/common"
	"github.com/ppiankov/surety/internal/entropy"
	"github.com/ppiankov/surety/internal/feed"
	"github.com/ppiankov/surety/internal/insurance"
	"github.com/ppiankov/surety/internal/model"
	"github.com/ppiankov/surety/internal/oracle"
	"github.com/ppiankov/surety/internal/protocol"
	"github.com/ppiankov/surety/internal/simulator"
	"github.com/ppiankov/surety/internal/surety"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var flight = model.FlightKey{Airline: "airline-1", Flight: "ND1309", Timestamp: 1553367808}

type env struct {
	contract *surety.Contract
	server   *httptest.Server
	client   *Client
}

// newEnv serves a contract on which every oracle and request uses index 4
func newEnv(t *testing.T) *env {
	t.Helper()
	params, err := model.DefaultConfig().Protocol.Params()
	require.NoError(t, err)

	c := surety.New(params, surety.Options{Entropy: entropy.NewSequence(4)})
	srv := httptest.NewServer(NewServer(c, time.Second, nil).Router())
	t.Cleanup(srv.Close)

	return &env{
		contract: c,
		server:   srv,
		client:   NewClient(srv.URL, "", 5*time.Second, 200*time.Millisecond),
	}
}

func (e *env) fundAndBuy(t *testing.T, premium string) model.Purchase {
	t.Helper()
	ctx := context.Background()
	_, err := e.client.As("airline-1").FundAirline(ctx, "airline-1", decimal.NewFromInt(10))
	require.NoError(t, err)
	p, err := e.client.As("passenger-1").PurchaseInsurance(ctx, flight, decimal.RequireFromString(premium))
	require.NoError(t, err)
	return p
}

func TestAPI_QuorumFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.fundAndBuy(t, "1")
	assert.Equal(t, "passenger-1", p.Passenger)

	fee, err := e.client.RegistrationFee(ctx)
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.NewFromInt(1)))

	var ids []string
	for _, id := range []string{"oracle-01", "oracle-02", "oracle-03"} {
		indices, err := e.client.RegisterOracle(ctx, id, fee)
		require.NoError(t, err)
		assert.Equal(t, model.IndexSet{4, 4, 4}, indices)
		ids = append(ids, id)
	}
	got, err := e.client.OracleIndices(ctx, "oracle-02")
	require.NoError(t, err)
	assert.Equal(t, model.IndexSet{4, 4, 4}, got)

	key, err := e.client.RequestStatus(ctx, flight)
	require.NoError(t, err)
	assert.Equal(t, model.RequestKey{Index: 4, FlightKey: flight}, key)

	var out protocol.Outcome
	for _, id := range ids {
		out, err = e.client.SubmitResponse(ctx, model.Response{RequestKey: key, Status: model.StatusLateAirlineFault, Identity: id})
		require.NoError(t, err)
	}
	assert.True(t, out.Resolved)
	require.NotNil(t, out.Report)
	assert.Equal(t, 1, out.Report.Credited)

	view, err := e.client.Request(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, model.RequestResolved, view.State)
	require.NotNil(t, view.ResolvedStatus)
	assert.Equal(t, model.StatusLateAirlineFault, *view.ResolvedStatus)
	assert.Len(t, view.Responses[model.StatusLateAirlineFault], 3)

	bal, err := e.client.Balance(ctx, "passenger-1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("1.5")))

	left, err := e.client.As("passenger-1").Withdraw(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, left.Equal(decimal.RequireFromString("0.5")))

	purchases, err := e.client.As("passenger-1").Purchases(ctx)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.True(t, purchases[0].Settled)

	report, err := e.client.RetrySettlement(ctx, flight)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
}

func TestAPI_ErrorsKeepTheirIdentity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fundAndBuy(t, "1")

	_, err := e.client.As("passenger-1").PurchaseInsurance(ctx, flight, decimal.RequireFromString("1.2"))
	assert.ErrorIs(t, err, insurance.ErrPremiumExceedsCap)
	assert.Equal(t, common.KindValidation, common.KindOf(err))

	_, err = e.client.As("passenger-1").PurchaseInsurance(ctx, model.FlightKey{Airline: "nope", Flight: "X", Timestamp: 1}, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, airline.ErrUnknownAirline)

	_, err = e.client.PurchaseInsurance(ctx, flight, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrMissingIdentity)

	_, err = e.client.RegisterOracle(ctx, "oracle-01", decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = e.client.RegisterOracle(ctx, "oracle-01", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, oracle.ErrAlreadyRegistered)
	assert.True(t, common.IsConflict(err))

	key, err := e.client.RequestStatus(ctx, flight)
	require.NoError(t, err)
	resp := model.Response{RequestKey: key, Status: model.StatusOnTime, Identity: "oracle-01"}
	_, err = e.client.SubmitResponse(ctx, resp)
	require.NoError(t, err)
	_, err = e.client.SubmitResponse(ctx, resp)
	assert.ErrorIs(t, err, protocol.ErrDuplicateSubmission)

	err = e.client.As("passenger-1").SetOperational(ctx, false)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	require.NoError(t, e.client.As("owner").SetOperational(ctx, false))
	_, err = e.client.RequestStatus(ctx, flight)
	assert.ErrorIs(t, err, surety.ErrNotOperational)
}

func TestAPI_HTTPStatusCodes(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		header string
		want   int
		code   string
	}{
		{name: "unknown route", method: http.MethodGet, path: "/v1/nothing", want: http.StatusNotFound, code: "not_found"},
		{name: "malformed body", method: http.MethodPost, path: "/v1/flights/status-requests", body: "{", want: http.StatusBadRequest, code: "bad_request"},
		{name: "unknown field", method: http.MethodPost, path: "/v1/flights/status-requests", body: `{"plane":"x"}`, want: http.StatusBadRequest, code: "bad_request"},
		{name: "bad after", method: http.MethodGet, path: "/v1/events?after=-1", want: http.StatusBadRequest, code: "bad_request"},
		{name: "unknown oracle", method: http.MethodGet, path: "/v1/oracles/ghost/indices", want: http.StatusBadRequest, code: "unknown_oracle"},
		{name: "insufficient funds", method: http.MethodPost, path: "/v1/withdrawals", body: `{"amount":"5"}`, header: "passenger-1", want: http.StatusBadRequest, code: "insufficient_funds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, e.server.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set(IdentityHeader, tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.code, resp.Header.Get(AppErrorHeader))
		})
	}
}

func TestAPI_EventsLongPoll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	page, err := e.client.Events(ctx, 0, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = e.contract.FundAirline(context.Background(), "airline-1", decimal.NewFromInt(10))
	}()

	start := time.Now()
	page, err = e.client.Events(ctx, 0, 0, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, model.EventAirlineFunded, page.Entries[0].Type)
	assert.Less(t, time.Since(start), time.Second, "server long poll is capped")

	// nothing new: the wait is capped by the server
	page, err = e.client.Events(ctx, page.Head, 0, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}

func TestAPI_Subscribe(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := e.contract.FundAirline(ctx, "airline-1", decimal.NewFromInt(10))
	require.NoError(t, err)

	ch, err := e.client.Subscribe(ctx, 0)
	require.NoError(t, err)

	_, err = e.contract.RequestStatus(ctx, flight)
	require.NoError(t, err)

	var types []model.EventType
	for len(types) < 2 {
		select {
		case entry, ok := <-ch:
			require.True(t, ok)
			types = append(types, entry.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
		}
	}
	assert.Equal(t, []model.EventType{model.EventAirlineFunded, model.EventStatusRequested}, types)

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed")
		}
	}
}

func TestAPI_Subscribe_ServerDown(t *testing.T) {
	e := newEnv(t)
	e.server.Close()

	_, err := e.client.Subscribe(context.Background(), 0)
	assert.ErrorIs(t, err, common.ErrTransport)
}

// swappableHandler lets a test replace the contract behind a running server
type swappableHandler struct {
	current atomic.Value
}

func (h *swappableHandler) serve(c *surety.Contract) {
	h.current.Store(NewServer(c, time.Second, nil).Router())
}

func (h *swappableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.current.Load().(http.Handler).ServeHTTP(w, r)
}

func TestAPI_Subscribe_EndsWhenInstanceChanges(t *testing.T) {
	params, err := model.DefaultConfig().Protocol.Params()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fund := func(c *surety.Contract, times int) {
		for i := 0; i < times; i++ {
			_, err := c.FundAirline(ctx, "airline-1", decimal.NewFromInt(10))
			require.NoError(t, err)
		}
	}

	before := surety.New(params, surety.Options{})
	fund(before, 3)
	h := &swappableHandler{}
	h.serve(before)
	srv := httptest.NewServer(h)
	defer srv.Close()
	client := NewClient(srv.URL, "", 5*time.Second, 100*time.Millisecond)

	info, err := client.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Info(), info)

	ch, err := client.Subscribe(ctx, 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		select {
		case _, ok := <-ch:
			require.True(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
		}
	}

	// the replacement already has more entries than the subscriber has seen
	after := surety.New(params, surety.Options{})
	fund(after, 5)
	h.serve(after)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			t.Fatalf("entry %d of another instance delivered", e.Sequence)
		case <-deadline:
			t.Fatal("subscription not closed")
		}
	}
}

func TestAPI_SimulatorOverHTTP(t *testing.T) {
	e := newEnv(t)
	e.fundAndBuy(t, "1")

	cfg := model.SimulatorConfig{Oracles: 4, IdentityPrefix: "oracle", Workers: 4, ReconnectDelay: 10 * time.Millisecond}
	sim := simulator.New(cfg, e.client, e.client, feed.Fixed{Code: model.StatusLateAirlineFault}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return sim.Pool().Len() == 4 }, 2*time.Second, 10*time.Millisecond)
	_, err := e.client.RequestStatus(context.Background(), flight)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, err := e.contract.Balance(context.Background(), "passenger-1")
		return err == nil && b.Equal(decimal.RequireFromString("1.5"))
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return sim.Stats().Conflicts == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(3), sim.Stats().Accepted)
}
