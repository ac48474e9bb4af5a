// Package api exposes the contract over HTTP and provides a client for oracle
// nodes and operators.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/common"
	"github.com/ppiankov/surety/internal/eventlog"
	"github.com/ppiankov/surety/internal/model"
	"github.com/ppiankov/surety/internal/surety"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrBadRequest      = common.Register(common.KindValidation, "bad_request", "malformed request")
	ErrMissingIdentity = common.Register(common.KindValidation, "missing_identity", IdentityHeader+" header is required")
	ErrNotFound        = common.Register(common.KindValidation, "not_found", "no such resource")
)

const maxEventPage = 500

// FlightBody names a flight in request bodies
type FlightBody = model.FlightKey

type operationalBody struct {
	Operational bool `json:"operational"`
}

type airlineBody struct {
	Airline string `json:"airline"`
}

type amountBody struct {
	Amount decimal.Decimal `json:"amount"`
}

type purchaseBody struct {
	model.FlightKey
	Premium decimal.Decimal `json:"premium"`
}

type registerBody struct {
	Fee decimal.Decimal `json:"fee"`
}

type responseBody struct {
	model.RequestKey
	Status model.StatusCode `json:"status_code"`
}

// IndicesBody carries an oracle's indices
type IndicesBody struct {
	Identity string         `json:"identity"`
	Indices  model.IndexSet `json:"indices"`
}

// FeeBody carries the registration fee
type FeeBody struct {
	Fee decimal.Decimal `json:"fee"`
}

// BalanceBody carries a balance
type BalanceBody struct {
	Identity string          `json:"identity"`
	Balance  decimal.Decimal `json:"balance"`
}

// StatusBody describes the contract
type StatusBody struct {
	Operational bool     `json:"operational"`
	Instance    string   `json:"instance"`
	Start       uint64   `json:"start"`
	Sequence    uint64   `json:"sequence"`
	Head        string   `json:"head"`
	IndexSpace  int      `json:"index_space"`
	Quorum      int      `json:"quorum"`
	Fee         string   `json:"registration_fee"`
	PremiumCap  string   `json:"premium_cap"`
	Multiplier  string   `json:"payout_multiplier"`
	Airlines    []string `json:"airlines"`
}

// EventsBody is one page of the event log
type EventsBody struct {
	Entries  []eventlog.Entry `json:"entries"`
	Head     uint64           `json:"head"`
	Instance string           `json:"instance"`
}

// Server serves the contract API
type Server struct {
	contract *surety.Contract
	longPoll time.Duration
	log      *zap.Logger
}

// NewServer creates a server. longPoll caps how long an events call may wait.
func NewServer(c *surety.Contract, longPoll time.Duration, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{contract: c, longPoll: longPoll, log: log}
}

// Router returns the API routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	handle := func(path string, h JSONResponderF, methods ...string) {
		v1.HandleFunc(path, ToJSONResponse(s.log, h)).Methods(methods...)
	}

	handle("/status", s.status, http.MethodGet)
	handle("/operational", s.setOperational, http.MethodPut)

	handle("/airlines", s.listAirlines, http.MethodGet)
	handle("/airlines", s.registerAirline, http.MethodPost)
	handle("/airlines/{airline}", s.getAirline, http.MethodGet)
	handle("/airlines/{airline}/fund", s.fundAirline, http.MethodPost)

	handle("/insurance", s.listPurchases, http.MethodGet)
	handle("/insurance", s.purchase, http.MethodPost)
	handle("/insurance/{id}", s.getPurchase, http.MethodGet)

	handle("/flights/status-requests", s.requestStatus, http.MethodPost)
	handle("/flights/settlements", s.retrySettlement, http.MethodPost)
	handle("/requests/{index:[0-9]+}/{airline}/{flight}/{timestamp:-?[0-9]+}", s.getRequest, http.MethodGet)

	handle("/oracles/fee", s.fee, http.MethodGet)
	handle("/oracles", s.registerOracle, http.MethodPost)
	handle("/oracles/responses", s.submitResponse, http.MethodPost)
	handle("/oracles/{identity}/indices", s.indices, http.MethodGet)

	handle("/balances/{identity}", s.balance, http.MethodGet)
	handle("/withdrawals", s.withdraw, http.MethodPost)

	handle("/events", s.events, http.MethodGet)

	r.NotFoundHandler = ToJSONResponse(s.log, func(context.Context, *http.Request) (interface{}, error) {
		return nil, ErrNotFound
	})
	return r
}

// HTTPServer wraps the router with the configured timeouts
func (s *Server) HTTPServer(cfg model.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return common.WithCause(ErrBadRequest, err)
	}
	return nil
}

func identity(r *http.Request) (string, error) {
	id := r.Header.Get(IdentityHeader)
	if id == "" {
		return "", ErrMissingIdentity
	}
	return id, nil
}

func (s *Server) status(_ context.Context, _ *http.Request) (interface{}, error) {
	seq, head := s.contract.Events().Head()
	p := s.contract.Params()
	info := s.contract.Info()
	return StatusBody{
		Operational: s.contract.IsOperational(),
		Instance:    info.Instance,
		Start:       info.Start,
		Sequence:    seq,
		Head:        head,
		IndexSpace:  p.IndexSpace,
		Quorum:      p.Quorum,
		Fee:         p.RegistrationFee.String(),
		PremiumCap:  p.PremiumCap.String(),
		Multiplier:  p.PayoutMultiplier.String(),
		Airlines:    s.contract.Airlines(),
	}, nil
}

func (s *Server) setOperational(ctx context.Context, r *http.Request) (interface{}, error) {
	caller, err := identity(r)
	if err != nil {
		return nil, err
	}
	var body operationalBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	if err := s.contract.SetOperational(ctx, caller, body.Operational); err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Server) listAirlines(_ context.Context, _ *http.Request) (interface{}, error) {
	return s.contract.Airlines(), nil
}

func (s *Server) getAirline(_ context.Context, r *http.Request) (interface{}, error) {
	a, ok := s.contract.Airline(mux.Vars(r)["airline"])
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "airline %s", mux.Vars(r)["airline"])
	}
	return a, nil
}

func (s *Server) registerAirline(ctx context.Context, r *http.Request) (interface{}, error) {
	registrar, err := identity(r)
	if err != nil {
		return nil, err
	}
	var body airlineBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	if err := s.contract.RegisterAirline(ctx, registrar, body.Airline); err != nil {
		return nil, err
	}
	a, _ := s.contract.Airline(body.Airline)
	return a, nil
}

func (s *Server) fundAirline(ctx context.Context, r *http.Request) (interface{}, error) {
	var body amountBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	return s.contract.FundAirline(ctx, mux.Vars(r)["airline"], body.Amount)
}

func (s *Server) listPurchases(_ context.Context, r *http.Request) (interface{}, error) {
	passenger, err := identity(r)
	if err != nil {
		return nil, err
	}
	return s.contract.Purchases(passenger), nil
}

func (s *Server) getPurchase(_ context.Context, r *http.Request) (interface{}, error) {
	return s.contract.Purchase(mux.Vars(r)["id"])
}

func (s *Server) purchase(ctx context.Context, r *http.Request) (interface{}, error) {
	passenger, err := identity(r)
	if err != nil {
		return nil, err
	}
	var body purchaseBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	return s.contract.PurchaseInsurance(ctx, passenger, body.FlightKey, body.Premium)
}

func (s *Server) requestStatus(ctx context.Context, r *http.Request) (interface{}, error) {
	var body FlightBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	return s.contract.RequestStatus(ctx, body)
}

func (s *Server) retrySettlement(ctx context.Context, r *http.Request) (interface{}, error) {
	var body FlightBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	return s.contract.RetrySettlement(ctx, body)
}

func (s *Server) getRequest(_ context.Context, r *http.Request) (interface{}, error) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		return nil, common.WithCause(ErrBadRequest, err)
	}
	ts, err := strconv.ParseInt(vars["timestamp"], 10, 64)
	if err != nil {
		return nil, common.WithCause(ErrBadRequest, err)
	}
	return s.contract.Request(model.RequestKey{
		Index:     index,
		FlightKey: model.FlightKey{Airline: vars["airline"], Flight: vars["flight"], Timestamp: ts},
	})
}

func (s *Server) fee(_ context.Context, _ *http.Request) (interface{}, error) {
	return FeeBody{Fee: s.contract.RegistrationFee()}, nil
}

func (s *Server) registerOracle(ctx context.Context, r *http.Request) (interface{}, error) {
	id, err := identity(r)
	if err != nil {
		return nil, err
	}
	var body registerBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	indices, err := s.contract.RegisterOracle(ctx, id, body.Fee)
	if err != nil {
		return nil, err
	}
	return IndicesBody{Identity: id, Indices: indices}, nil
}

func (s *Server) indices(_ context.Context, r *http.Request) (interface{}, error) {
	id := mux.Vars(r)["identity"]
	indices, err := s.contract.OracleIndices(id)
	if err != nil {
		return nil, err
	}
	return IndicesBody{Identity: id, Indices: indices}, nil
}

func (s *Server) submitResponse(ctx context.Context, r *http.Request) (interface{}, error) {
	id, err := identity(r)
	if err != nil {
		return nil, err
	}
	var body responseBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	return s.contract.SubmitResponse(ctx, model.Response{RequestKey: body.RequestKey, Status: body.Status, Identity: id})
}

func (s *Server) balance(ctx context.Context, r *http.Request) (interface{}, error) {
	id := mux.Vars(r)["identity"]
	b, err := s.contract.Balance(ctx, id)
	if err != nil {
		return nil, err
	}
	return BalanceBody{Identity: id, Balance: b}, nil
}

func (s *Server) withdraw(ctx context.Context, r *http.Request) (interface{}, error) {
	id, err := identity(r)
	if err != nil {
		return nil, err
	}
	var body amountBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	if err := s.contract.Withdraw(ctx, id, body.Amount); err != nil {
		return nil, err
	}
	return s.balance(ctx, mux.SetURLVars(r, map[string]string{"identity": id}))
}

// events returns entries after ?after=N. With ?wait=D the call blocks up to
// min(D, long poll) for the first new entry.
func (s *Server) events(ctx context.Context, r *http.Request) (interface{}, error) {
	q := r.URL.Query()

	var after uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errors.Wrap(common.WithCause(ErrBadRequest, err), "after")
		}
		after = n
	}

	limit := maxEventPage
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.Wrapf(ErrBadRequest, "limit %q", v)
		}
		if n < limit {
			limit = n
		}
	}

	var wait time.Duration
	if v := q.Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(common.WithCause(ErrBadRequest, err), "wait")
		}
		wait = d
	}
	if wait > s.longPoll {
		wait = s.longPoll
	}

	log := s.contract.Events()
	if wait > 0 {
		wctx, cancel := context.WithTimeout(ctx, wait)
		err := log.Wait(wctx, after)
		cancel()
		if err != nil && ctx.Err() != nil {
			return nil, errors.Wrap(common.ErrTransport, "client went away")
		}
	}

	entries, err := log.Since(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	head, _ := log.Head()
	return EventsBody{Entries: entries, Head: head, Instance: s.contract.Info().Instance}, nil
}
