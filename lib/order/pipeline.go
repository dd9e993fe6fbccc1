// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package order drives a selected offer through the service's order
// pipeline:
//
//	Idle → Submitted → Confirming → PassengersLoaded → Checked → Queued → Committed
//
// Each call consumes what the previous one produced: the offer's
// single-use booking secret, then the repeat-submission token scraped
// from the confirmation page. A failed stage ends the attempt; a new
// attempt starts over from a fresh availability query. The commit
// step (confirmSingleForQueue) creates a real order and is never
// retried: the pipeline claims its token in the ledger first, and a
// commit whose reply is lost is reported as unknown, not failed.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/railclerk/railclerk/lib/availability"
	"github.com/railclerk/railclerk/lib/clock"
	"github.com/railclerk/railclerk/lib/ledger"
	"github.com/railclerk/railclerk/lib/transport"
)

const (
	pathSubmitOrder  = "/otn/leftTicket/submitOrderRequest"
	pathInitDc       = "/otn/confirmPassenger/initDc"
	pathPassengers   = "/otn/confirmPassenger/getPassengerDTOs"
	pathCheckOrder   = "/otn/confirmPassenger/checkOrderInfo"
	pathQueueCount   = "/otn/confirmPassenger/getQueueCount"
	pathConfirmQueue = "/otn/confirmPassenger/confirmSingleForQueue"

	refererQuery = "/otn/leftTicket/init"
)

// Pacing is the minimum pause around each step.
type Pacing struct {
	AfterSubmit     time.Duration
	AfterConfirm    time.Duration
	AfterPassengers time.Duration
	AfterCheck      time.Duration
	BeforeQueue     time.Duration
	AfterQueue      time.Duration
}

// DefaultPacing matches the cadence of a person clicking through the
// booking pages.
func DefaultPacing() Pacing {
	return Pacing{
		AfterSubmit:     1500 * time.Millisecond,
		AfterConfirm:    time.Second,
		AfterPassengers: 800 * time.Millisecond,
		AfterCheck:      time.Second,
		BeforeQueue:     2 * time.Second,
		AfterQueue:      time.Second,
	}
}

// Trip is the journey metadata submitOrderRequest echoes back.
type Trip struct {
	// Date is YYYY-MM-DD.
	Date     string
	FromName string
	ToName   string
}

// Request is one booking attempt's input.
type Request struct {
	Offer    availability.Offer
	Class    availability.Class
	Traveler string
	Trip     Trip
}

// OrderSession is the working state of one attempt. It is created
// when the attempt starts and discarded when it ends.
type OrderSession struct {
	Offer availability.Offer
	Class availability.Class
	Trip  Trip

	// RepeatToken is issued by the confirmation page and required on
	// every later call of the attempt.
	RepeatToken string

	// TicketInfo is advisory metadata; nil when the page had none.
	TicketInfo *TicketInfo

	Traveler Traveler
}

func (s *OrderSession) info() *TicketInfo {
	if s.TicketInfo == nil {
		return &TicketInfo{}
	}
	return s.TicketInfo
}

func (s *OrderSession) trainDate() string {
	return firstNonEmpty(s.info().Request.TrainDate, s.Trip.Date)
}

// Recorder keeps a durable record of attempts and owns the commit
// guard. *ledger.Ledger implements it.
type Recorder interface {
	Begin(ctx context.Context, attempt ledger.Attempt) (string, error)
	RecordStage(ctx context.Context, id, stage string) error
	SaveConfirmPage(ctx context.Context, id string, page []byte) error
	ClaimCommit(ctx context.Context, id, token string) error
	Finish(ctx context.Context, id string, result ledger.Result) error
}

// Config configures a Pipeline.
type Config struct {
	Client *transport.Client

	// QueueTemplate defaults to StaticQueueTemplate.
	QueueTemplate *RequestTemplate

	Pacing Pacing

	// Recorder is optional. Without it the commit guard only spans
	// this process.
	Recorder Recorder

	// DryRun stops every attempt after the queue step.
	DryRun bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Pipeline runs attempts. Runs may be concurrent; commits are
// serialized per repeat-submission token.
type Pipeline struct {
	client   *transport.Client
	template *RequestTemplate
	pacing   Pacing
	recorder Recorder
	dryRun   bool
	clock    clock.Clock
	logger   *slog.Logger

	// claimed holds tokens committed by this process.
	mu      sync.Mutex
	claimed map[string]bool
}

// NewPipeline returns a Pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Client == nil {
		return nil, errors.New("order: Client is required")
	}
	if cfg.QueueTemplate == nil {
		cfg.QueueTemplate = StaticQueueTemplate()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		client:   cfg.Client,
		template: cfg.QueueTemplate,
		pacing:   cfg.Pacing,
		recorder: cfg.Recorder,
		dryRun:   cfg.DryRun,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		claimed:  make(map[string]bool),
	}, nil
}

// attempt carries one run's bookkeeping.
type attempt struct {
	id      string
	session *OrderSession
	logger  *slog.Logger
}

// Run drives one attempt from Idle to a terminal outcome.
func (p *Pipeline) Run(ctx context.Context, request Request) Outcome {
	session := &OrderSession{Offer: request.Offer, Class: request.Class, Trip: request.Trip}
	run := &attempt{
		session: session,
		logger: p.logger.With(
			"train", request.Offer.TrainCode,
			"seat_class", request.Class.String(),
		),
	}
	if p.recorder != nil {
		id, err := p.recorder.Begin(ctx, ledger.Attempt{
			Train:     request.Offer.TrainCode,
			SeatClass: request.Class.String(),
			Traveler:  request.Traveler,
		})
		if err != nil {
			run.logger.Warn("recording attempt failed", "error", err)
		} else {
			run.id = id
			run.logger = run.logger.With("attempt", id)
		}
	}

	outcome := p.run(ctx, run, request.Traveler)
	outcome.AttemptID = run.id
	p.finish(ctx, run, outcome)
	return outcome
}

func (p *Pipeline) run(ctx context.Context, run *attempt, travelerName string) Outcome {
	steps := []struct {
		stage Stage
		do    func(context.Context, *attempt) error
		pause time.Duration
	}{
		{Submitted, p.submit, p.pacing.AfterSubmit},
		{Confirming, p.confirm, p.pacing.AfterConfirm},
		{PassengersLoaded, func(ctx context.Context, run *attempt) error {
			return p.loadPassengers(ctx, run, travelerName)
		}, p.pacing.AfterPassengers},
		{Checked, p.check, p.pacing.AfterCheck},
		{Queued, p.queue, 0},
	}
	for _, step := range steps {
		p.enter(ctx, run, step.stage)
		if err := step.do(ctx, run); err != nil {
			return failed(step.stage, err)
		}
		run.logger.Info("order step ok", "stage", step.stage.String())
		if err := clock.Wait(ctx, p.clock, step.pause); err != nil {
			return failed(step.stage, err)
		}
	}

	if p.dryRun {
		run.logger.Info("dry run: not committing")
		return failed(Committed, errDryRun)
	}
	p.enter(ctx, run, Committed)
	return p.commit(ctx, run)
}

func (p *Pipeline) enter(ctx context.Context, run *attempt, stage Stage) {
	run.logger.Debug("order step", "stage", stage.String(), "endpoint", stage.Endpoint())
	if p.recorder != nil && run.id != "" {
		if err := p.recorder.RecordStage(ctx, run.id, stage.String()); err != nil {
			run.logger.Warn("recording stage failed", "error", err)
		}
	}
}

func (p *Pipeline) finish(ctx context.Context, run *attempt, outcome Outcome) {
	result := "failed"
	switch {
	case outcome.Committed:
		result = "committed"
		run.logger.Info("order committed", "order_id", outcome.OrderID)
	case outcome.Unknown:
		result = "unknown"
		run.logger.Error("order state unknown", "stage", outcome.Stage.String(), "error", outcome.Err)
	default:
		run.logger.Warn("order failed", "stage", outcome.Stage.String(), "code", outcome.Code, "message", outcome.Message)
	}
	if p.recorder == nil || run.id == "" {
		return
	}
	// The record outlives a cancelled run.
	ctx = context.WithoutCancel(ctx)
	err := p.recorder.Finish(ctx, run.id, ledger.Result{
		Stage:   outcome.Stage.String(),
		Outcome: result,
		OrderID: outcome.OrderID,
		Code:    outcome.Code,
		Message: outcome.Message,
	})
	if err != nil {
		run.logger.Warn("recording outcome failed", "error", err)
	}
}

// send issues one pipeline call without following redirects. An
// expired session is answered with a redirect to login, which becomes
// a KindAuthExpired error.
func (p *Pipeline) send(ctx context.Context, request transport.Request) (*transport.Response, error) {
	request.NoRedirect = true
	response, err := p.client.Do(ctx, request)
	if err != nil {
		return nil, err
	}
	if response.BouncedToLogin() {
		return nil, transport.AuthExpired(response.Endpoint, "redirected to "+response.Location())
	}
	return response, nil
}

// post sends a form and decodes the JSON envelope. A false status is a
// business rejection carrying the service's messages.
func (p *Pipeline) post(ctx context.Context, path string, form url.Values, referer string, data any) (*transport.Envelope, error) {
	response, err := p.send(ctx, transport.Request{Method: "POST", Path: path, Form: form, Referer: referer})
	if err != nil {
		return nil, err
	}
	var envelope transport.Envelope
	if err := transport.DecodeJSON(response, &envelope); err != nil {
		return nil, err
	}
	if data != nil {
		if err := envelope.DecodeData(data); err != nil && envelope.Status {
			return nil, transport.ProtocolViolation(path, "decoding data: %v", err)
		}
	}
	return &envelope, nil
}

func (p *Pipeline) submit(ctx context.Context, run *attempt) error {
	session := run.session
	secret, err := url.PathUnescape(session.Offer.Secret)
	if err != nil {
		secret = session.Offer.Secret
	}
	form := url.Values{
		"secretStr":               {secret},
		"train_date":              {session.Trip.Date},
		"back_train_date":         {session.Trip.Date},
		"tour_flag":               {"dc"},
		"purpose_codes":           {"ADULT"},
		"query_from_station_name": {firstNonEmpty(session.Trip.FromName, session.Offer.FromName)},
		"query_to_station_name":   {firstNonEmpty(session.Trip.ToName, session.Offer.ToName)},
		"cancel_flag":             {"2"},
	}
	envelope, err := p.post(ctx, pathSubmitOrder, form, refererQuery, nil)
	if err != nil {
		return err
	}
	if !envelope.Status {
		return transport.BusinessRejection(pathSubmitOrder, "", envelope.Message())
	}
	return nil
}

func (p *Pipeline) confirm(ctx context.Context, run *attempt) error {
	response, err := p.send(ctx, transport.Request{
		Method:  "POST",
		Path:    pathInitDc,
		Form:    url.Values{"_json_att": {""}},
		Referer: refererQuery,
	})
	if err != nil {
		return err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return transport.TransportError(pathInitDc, response.StatusCode, fmt.Errorf("unexpected status"))
	}
	if p.recorder != nil && run.id != "" {
		if err := p.recorder.SaveConfirmPage(ctx, run.id, response.Body); err != nil {
			run.logger.Warn("saving confirmation page failed", "error", err)
		}
	}

	token, ok := extractRepeatToken(response.Body)
	if !ok {
		return transport.ProtocolViolation(pathInitDc, "repeat-submission token marker not found")
	}
	run.session.RepeatToken = token

	info, err := parseTicketInfo(response.Body)
	if err != nil {
		run.logger.Debug("confirmation metadata unreadable", "error", err)
	}
	run.session.TicketInfo = info
	label := run.session.Class.Label()
	run.logger.Info("order confirmation page loaded",
		"repeat_token", transport.Redact(token),
		"seat", label,
		"price", info.SeatPrice(label),
	)
	return nil
}

type passengersData struct {
	NormalPassengers []Traveler `json:"normal_passengers"`
	ExMsg            string     `json:"exMsg"`
}

func (p *Pipeline) loadPassengers(ctx context.Context, run *attempt, name string) error {
	form := url.Values{"_json_att": {""}, "REPEAT_SUBMIT_TOKEN": {run.session.RepeatToken}}
	var data passengersData
	envelope, err := p.post(ctx, pathPassengers, form, pathInitDc, &data)
	if err != nil {
		return err
	}
	if !envelope.Status {
		return transport.BusinessRejection(pathPassengers, "", firstNonEmpty(envelope.Message(), data.ExMsg))
	}
	if len(data.NormalPassengers) == 0 {
		return ErrNoTravelers
	}
	run.logger.Info("travelers loaded", "count", len(data.NormalPassengers))
	traveler, err := FindTraveler(data.NormalPassengers, name)
	if err != nil {
		return err
	}
	run.session.Traveler = traveler
	return nil
}

type checkData struct {
	SubmitStatus bool   `json:"submitStatus"`
	ErrMsg       string `json:"errMsg"`
}

func (p *Pipeline) check(ctx context.Context, run *attempt) error {
	session := run.session
	form := url.Values{
		"cancel_flag":         {"2"},
		"bed_level_order_num": {"000000000000000000000000000000"},
		"passengerTicketStr":  {PassengerTicketStr(session.Class, session.Traveler)},
		"oldPassengerStr":     {OldPassengerStr(session.Traveler)},
		"tour_flag":           {"dc"},
		"randCode":            {""},
		"whatsSelect":         {"1"},
		"_json_att":           {""},
		"REPEAT_SUBMIT_TOKEN": {session.RepeatToken},
	}
	var data checkData
	envelope, err := p.post(ctx, pathCheckOrder, form, pathInitDc, &data)
	if err != nil {
		return err
	}
	if !envelope.Status {
		return transport.BusinessRejection(pathCheckOrder, "", firstNonEmpty(data.ErrMsg, envelope.Message()))
	}
	return nil
}

// queue is advisory: its failure is logged and the pipeline moves on,
// unless the session is gone.
func (p *Pipeline) queue(ctx context.Context, run *attempt) error {
	if err := clock.Wait(ctx, p.clock, p.pacing.BeforeQueue); err != nil {
		return err
	}
	response, err := p.send(ctx, transport.Request{
		Method:  "POST",
		Path:    p.template.Path,
		Form:    p.template.Form(run.session),
		Referer: p.template.Referer(),
		Header:  p.template.Header,
	})
	if err == nil {
		var envelope transport.Envelope
		if err = transport.DecodeJSON(response, &envelope); err == nil {
			if envelope.Status {
				run.logger.Info("queue status", "template", p.template.Source, "data", string(envelope.Data))
			} else {
				err = transport.BusinessRejection(pathQueueCount, "", envelope.Message())
			}
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if transport.IsAuthExpired(err) {
			return err
		}
		run.logger.Warn("queue count failed; continuing", "error", err)
	}
	return clock.Wait(ctx, p.clock, p.pacing.AfterQueue)
}

// commitData takes ids and codes as strings or numbers; the service
// sends both.
type commitData struct {
	SubmitStatus bool           `json:"submitStatus"`
	OrderID      transport.Code `json:"orderId"`
	OrderIDAlt   transport.Code `json:"order_id"`
	ErrMsg       string         `json:"errMsg"`
	ErrMsgAlt    string         `json:"err_msg"`
	ErrorCode    transport.Code `json:"errorCode"`
}

func (p *Pipeline) commit(ctx context.Context, run *attempt) Outcome {
	session := run.session
	if outcome, ok := p.claim(ctx, run); !ok {
		return outcome
	}

	info := session.info()
	form := url.Values{
		"passengerTicketStr":  {PassengerTicketStr(session.Class, session.Traveler)},
		"oldPassengerStr":     {OldPassengerStr(session.Traveler)},
		"randCode":            {""},
		"purpose_codes":       {firstNonEmpty(info.PurposeCodes, "00")},
		"key_check_isChange":  {info.KeyCheckIsChange},
		"leftTicketStr":       {info.LeftTicketStr},
		"train_location":      {info.TrainLocation},
		"choose_seats":        {""},
		"seatDetailType":      {"000"},
		"whatsSelect":         {"1"},
		"roomType":            {"00"},
		"dwAll":               {"N"},
		"_json_att":           {""},
		"REPEAT_SUBMIT_TOKEN": {session.RepeatToken},
	}
	envelope, err := p.post(ctx, pathConfirmQueue, form, pathInitDc, nil)
	if err != nil {
		if transport.IsTransport(err) || ctx.Err() != nil {
			return unknown(err)
		}
		// A login bounce never reached the order service.
		return failed(Committed, err)
	}
	if !envelope.Status {
		return failed(Committed, transport.BusinessRejection(pathConfirmQueue, "", envelope.Message()))
	}
	var data commitData
	if err := envelope.DecodeData(&data); err != nil {
		// The call was accepted; what it did cannot be read.
		return unknown(transport.ProtocolViolation(pathConfirmQueue, "decoding data: %v", err))
	}
	if !data.SubmitStatus {
		message := firstNonEmpty(data.ErrMsg, data.ErrMsgAlt, envelope.Message())
		return failed(Committed, transport.BusinessRejection(pathConfirmQueue, string(data.ErrorCode), message))
	}
	orderID := firstNonEmpty(string(data.OrderID), string(data.OrderIDAlt))
	return Outcome{Committed: true, Stage: Committed, OrderID: strings.TrimSpace(orderID)}
}

// unknown is the outcome of a commit whose effect cannot be known.
func unknown(err error) Outcome {
	return Outcome{Stage: Committed, Unknown: true, Err: &StageError{Stage: Committed, Err: err}, Message: err.Error()}
}

// claim reserves the repeat-submission token for this commit. A token
// is committed at most once per process and, with a recorder, at most
// once across processes.
func (p *Pipeline) claim(ctx context.Context, run *attempt) (Outcome, bool) {
	token := run.session.RepeatToken
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.claimed[token] {
		return Outcome{Stage: Committed, Code: CodeAlreadyCommitted, Message: ledger.ErrAlreadyCommitted.Error(),
			Err: &StageError{Stage: Committed, Err: ledger.ErrAlreadyCommitted}}, false
	}
	if p.recorder != nil {
		err := p.recorder.ClaimCommit(ctx, run.id, token)
		switch {
		case errors.Is(err, ledger.ErrAlreadyCommitted):
			return Outcome{Stage: Committed, Code: CodeAlreadyCommitted, Message: err.Error(),
				Err: &StageError{Stage: Committed, Err: err}}, false
		case err != nil:
			return Outcome{Stage: Committed, Code: CodeLedgerUnavailable, Message: err.Error(),
				Err: &StageError{Stage: Committed, Err: err}}, false
		}
	}
	p.claimed[token] = true
	return Outcome{}, true
}
