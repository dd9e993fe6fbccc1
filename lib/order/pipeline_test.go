// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package order

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/railclerk/railclerk/lib/clock"
	"github.com/railclerk/railclerk/lib/ledger"
	"github.com/railclerk/railclerk/lib/transport"
)

// stageEndpoints lists the endpoints in the order a full attempt calls
// them.
var stageEndpoints = []string{
	pathSubmitOrder,
	pathInitDc,
	pathPassengers,
	pathCheckOrder,
	pathQueueCount,
	pathConfirmQueue,
}

func TestPipelineCommitsOrder(t *testing.T) {
	service := newOrderService()
	pipeline := newPipeline(t, service, Config{})

	outcome := pipeline.Run(context.Background(), testRequest())
	if !outcome.Committed || outcome.OrderID != "X" {
		t.Fatalf("outcome = %+v, want committed order X", outcome)
	}
	if outcome.NoOrder() {
		t.Error("committed outcome reports no order")
	}
	for _, path := range stageEndpoints {
		if got := service.count(path); got != 1 {
			t.Errorf("%s called %d times, want 1", path, got)
		}
	}

	submit := service.form(pathSubmitOrder)
	if got := submit.Get("secretStr"); got != "secret+one" {
		t.Errorf("secretStr = %q, want the unescaped secret", got)
	}
	if got := submit.Get("train_date"); got != "2026-02-01" {
		t.Errorf("train_date = %q", got)
	}
	if got := submit.Get("query_from_station_name"); got != "深圳" {
		t.Errorf("query_from_station_name = %q", got)
	}

	for _, path := range stageEndpoints[2:] {
		if got := service.form(path).Get("REPEAT_SUBMIT_TOKEN"); got != "abc123DEF" {
			t.Errorf("%s REPEAT_SUBMIT_TOKEN = %q, want abc123DEF", path, got)
		}
	}

	wantTicket := "O,0,1,张三,1,430102199001011234,13800000000,N"
	wantOld := "张三,1,430102199001011234,1_"
	for _, path := range []string{pathCheckOrder, pathConfirmQueue} {
		form := service.form(path)
		if got := form.Get("passengerTicketStr"); got != wantTicket {
			t.Errorf("%s passengerTicketStr = %q, want %q", path, got, wantTicket)
		}
		if got := form.Get("oldPassengerStr"); got != wantOld {
			t.Errorf("%s oldPassengerStr = %q, want %q", path, got, wantOld)
		}
	}

	commit := service.form(pathConfirmQueue)
	for field, want := range map[string]string{
		"key_check_isChange": "KC123",
		"leftTicketStr":      "LT%2Bxyz",
		"train_location":     "Q6",
		"purpose_codes":      "00",
	} {
		if got := commit.Get(field); got != want {
			t.Errorf("commit %s = %q, want %q", field, got, want)
		}
	}

	queue := service.form(pathQueueCount)
	if got := queue.Get("train_date"); got != "20260201" {
		t.Errorf("queue train_date = %q, want the confirmation page's date", got)
	}
	if got := queue.Get("seatType"); got != "O" {
		t.Errorf("queue seatType = %q", got)
	}
}

func TestPipelineStopsAtFailedStep(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		handler   http.HandlerFunc
		wantStage Stage
		wantCode  string
		wantMsg   string
	}{
		{
			name:      "submit rejected",
			path:      pathSubmitOrder,
			handler:   respond(`{"status":false,"httpstatus":200,"messages":["车票信息已过期，请重新查询最新车票信息"]}`),
			wantStage: Submitted,
			wantCode:  "business_rejection",
			wantMsg:   "车票信息已过期，请重新查询最新车票信息",
		},
		{
			name: "confirmation page error",
			path: pathInitDc,
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "busy", http.StatusInternalServerError)
			},
			wantStage: Confirming,
			wantCode:  "transport",
		},
		{
			name: "confirmation page without token",
			path: pathInitDc,
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "<html><body>系统维护中</body></html>")
			},
			wantStage: Confirming,
			wantCode:  "protocol_violation",
		},
		{
			name:      "passengers rejected",
			path:      pathPassengers,
			handler:   respond(`{"status":false,"httpstatus":200,"messages":["系统忙"]}`),
			wantStage: PassengersLoaded,
			wantCode:  "business_rejection",
			wantMsg:   "系统忙",
		},
		{
			name:      "check rejected",
			path:      pathCheckOrder,
			handler:   respond(`{"status":false,"httpstatus":200,"data":{"submitStatus":false,"errMsg":"您选择了1位乘车人，但本次列车二等座仅剩0张。"}}`),
			wantStage: Checked,
			wantCode:  "business_rejection",
			wantMsg:   "您选择了1位乘车人，但本次列车二等座仅剩0张。",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := newOrderService()
			service.set(tt.path, tt.handler)
			pipeline := newPipeline(t, service, Config{})

			outcome := pipeline.Run(context.Background(), testRequest())
			if outcome.Committed || outcome.Unknown {
				t.Fatalf("outcome = %+v, want a failure", outcome)
			}
			if !outcome.NoOrder() {
				t.Error("failure does not guarantee no order")
			}
			if outcome.Stage != tt.wantStage {
				t.Errorf("stage = %v, want %v", outcome.Stage, tt.wantStage)
			}
			if outcome.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", outcome.Code, tt.wantCode)
			}
			if tt.wantMsg != "" && outcome.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", outcome.Message, tt.wantMsg)
			}
			var stageErr *StageError
			if !errors.As(outcome.Err, &stageErr) || stageErr.Stage != tt.wantStage {
				t.Errorf("Err = %v, want a StageError at %v", outcome.Err, tt.wantStage)
			}

			// Every step up to the failed one ran once; nothing after it ran.
			failedAt := int(tt.wantStage) - 1
			for i, path := range stageEndpoints {
				want := 0
				if i <= failedAt {
					want = 1
				}
				if got := service.count(path); got != want {
					t.Errorf("%s called %d times, want %d", path, got, want)
				}
			}
		})
	}
}

func TestCommitNeedsSubmitStatus(t *testing.T) {
	service := newOrderService()
	service.set(pathConfirmQueue, respond(`{"status":true,"httpstatus":200,"data":{"submitStatus":false,"errorCode":"0","errMsg":"出票失败，余票不足"}}`))
	pipeline := newPipeline(t, service, Config{})

	outcome := pipeline.Run(context.Background(), testRequest())
	if outcome.Committed || outcome.Unknown {
		t.Fatalf("outcome = %+v, want a failure", outcome)
	}
	if outcome.Stage != Committed {
		t.Errorf("stage = %v, want %v", outcome.Stage, Committed)
	}
	if outcome.Code != "0" || outcome.Message != "出票失败，余票不足" {
		t.Errorf("code, message = %q, %q; want the service's verbatim", outcome.Code, outcome.Message)
	}
	if Retryable(outcome) {
		t.Error("a rejected commit must not be retried")
	}
}

func TestCommitStatusFalseFails(t *testing.T) {
	service := newOrderService()
	service.set(pathConfirmQueue, respond(`{"status":false,"httpstatus":200,"messages":["提交失败"]}`))
	pipeline := newPipeline(t, service, Config{})

	outcome := pipeline.Run(context.Background(), testRequest())
	if outcome.Committed || outcome.Unknown || outcome.Message != "提交失败" {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestCommitWithoutReplyIsUnknown(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"gateway error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}},
		{"connection dropped", func(w http.ResponseWriter, r *http.Request) {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
		}},
		{"html reply", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "<html>网络繁忙</html>")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := newOrderService()
			service.set(pathConfirmQueue, tt.handler)
			pipeline := newPipeline(t, service, Config{})

			outcome := pipeline.Run(context.Background(), testRequest())
			if !outcome.Unknown || outcome.Committed {
				t.Fatalf("outcome = %+v, want unknown", outcome)
			}
			if outcome.NoOrder() {
				t.Error("unknown outcome claims no order")
			}
			if !strings.Contains(outcome.String(), "unknown") {
				t.Errorf("String() = %q", outcome.String())
			}
			if Retryable(outcome) {
				t.Error("unknown outcome must not be retried")
			}
		})
	}
}

func TestCommitAcceptsNumericFields(t *testing.T) {
	service := newOrderService()
	service.set(pathConfirmQueue, respond(`{"status":true,"httpstatus":200,"data":{"submitStatus":true,"orderId":123456}}`))
	pipeline := newPipeline(t, service, Config{})

	outcome := pipeline.Run(context.Background(), testRequest())
	if !outcome.Committed || outcome.OrderID != "123456" {
		t.Fatalf("outcome = %+v, want committed order 123456", outcome)
	}

	service = newOrderService()
	service.set(pathConfirmQueue, respond(`{"status":true,"httpstatus":200,"data":{"submitStatus":false,"errorCode":7,"errMsg":"排队人数过多"}}`))
	pipeline = newPipeline(t, service, Config{})

	outcome = pipeline.Run(context.Background(), testRequest())
	if outcome.Committed || outcome.Unknown || outcome.Code != "7" {
		t.Fatalf("outcome = %+v, want a failure with code 7", outcome)
	}
}

func TestCommitUnreadableDataIsUnknown(t *testing.T) {
	service := newOrderService()
	service.set(pathConfirmQueue, respond(`{"status":true,"httpstatus":200,"data":{"submitStatus":"maybe","orderId":{"id":1}}}`))
	pipeline := newPipeline(t, service, Config{})

	outcome := pipeline.Run(context.Background(), testRequest())
	if !outcome.Unknown || outcome.Committed {
		t.Fatalf("outcome = %+v, want unknown", outcome)
	}
	if outcome.NoOrder() || Retryable(outcome) {
		t.Error("an unreadable commit reply was treated as a guaranteed non-order")
	}
}

func TestLoginRedirectIsAuthExpired(t *testing.T) {
	for i, path := range stageEndpoints {
		stage := Stage(i + 1)
		t.Run(stage.String(), func(t *testing.T) {
			service := newOrderService()
			service.set(path, func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/otn/login/init", http.StatusFound)
			})
			pipeline := newPipeline(t, service, Config{})

			outcome := pipeline.Run(context.Background(), testRequest())
			if outcome.Stage != stage || !outcome.NoOrder() {
				t.Fatalf("outcome = %+v, want a failure at %v", outcome, stage)
			}
			if !transport.IsAuthExpired(outcome.Err) || outcome.Code != "auth_expired" {
				t.Errorf("error = %v (code %q), want auth_expired", outcome.Err, outcome.Code)
			}
			if Retryable(outcome) {
				t.Error("an expired session is retried without a login")
			}
			if service.count("/otn/login/init") != 0 {
				t.Error("the login redirect was followed")
			}
		})
	}
}

func TestQueueFailureIsNotFatal(t *testing.T) {
	service := newOrderService()
	service.set(pathQueueCount, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})
	pipeline := newPipeline(t, service, Config{})

	outcome := pipeline.Run(context.Background(), testRequest())
	if !outcome.Committed || outcome.OrderID != "X" {
		t.Fatalf("outcome = %+v, want committed", outcome)
	}
	if service.count(pathQueueCount) != 1 {
		t.Errorf("queue called %d times", service.count(pathQueueCount))
	}
}

func TestDryRunStopsBeforeCommit(t *testing.T) {
	service := newOrderService()
	pipeline := newPipeline(t, service, Config{DryRun: true})

	outcome := pipeline.Run(context.Background(), testRequest())
	if outcome.Committed || outcome.Code != CodeDryRun {
		t.Fatalf("outcome = %+v, want dry run", outcome)
	}
	if service.count(pathQueueCount) != 1 {
		t.Error("dry run skipped the queue step")
	}
	if service.count(pathConfirmQueue) != 0 {
		t.Error("dry run committed")
	}
	if Retryable(outcome) {
		t.Error("dry run outcome is retryable")
	}
}

func TestTravelerProblems(t *testing.T) {
	t.Run("none bound", func(t *testing.T) {
		service := newOrderService()
		service.set(pathPassengers, respond(`{"status":true,"httpstatus":200,"data":{"normal_passengers":[]}}`))
		pipeline := newPipeline(t, service, Config{})

		outcome := pipeline.Run(context.Background(), testRequest())
		if outcome.Stage != PassengersLoaded || outcome.Code != CodeNoTravelers {
			t.Fatalf("outcome = %+v, want no_travelers", outcome)
		}
		if !errors.Is(outcome.Err, ErrNoTravelers) {
			t.Errorf("Err = %v", outcome.Err)
		}
		if service.count(pathCheckOrder) != 0 {
			t.Error("pipeline continued without a traveler")
		}
	})

	t.Run("name not bound", func(t *testing.T) {
		service := newOrderService()
		pipeline := newPipeline(t, service, Config{})

		request := testRequest()
		request.Traveler = "张四"
		outcome := pipeline.Run(context.Background(), request)
		if outcome.Code != CodeTravelerNotFound {
			t.Fatalf("outcome = %+v, want traveler_not_found", outcome)
		}
		var notFound *TravelerNotFoundError
		if !errors.As(outcome.Err, &notFound) {
			t.Fatalf("Err = %v, want TravelerNotFoundError", outcome.Err)
		}
		if notFound.Available != 2 || len(notFound.Suggestions) == 0 || notFound.Suggestions[0] != "张三" {
			t.Errorf("not found = %+v, want 2 available and 张三 suggested", notFound)
		}
		if Retryable(outcome) {
			t.Error("traveler problems are not retryable")
		}
	})
}

func TestPipelinePacing(t *testing.T) {
	service := newOrderService()
	clk := clock.Fake(time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC))
	pipeline := newPipeline(t, service, Config{Pacing: DefaultPacing(), Clock: clk})

	start := clk.Now()
	var outcome Outcome
	drive(t, clk, 100*time.Millisecond, func() {
		outcome = pipeline.Run(context.Background(), testRequest())
	})
	if !outcome.Committed {
		t.Fatalf("outcome = %+v", outcome)
	}
	if elapsed := clk.Now().Sub(start); elapsed != 7300*time.Millisecond {
		t.Errorf("paced for %v, want 7.3s", elapsed)
	}
}

func TestPipelineCancelledWhilePacing(t *testing.T) {
	service := newOrderService()
	clk := clock.Fake(time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC))
	pipeline := newPipeline(t, service, Config{Pacing: DefaultPacing(), Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() { done <- pipeline.Run(ctx, testRequest()) }()
	clk.WaitForTimers(1)
	cancel()

	select {
	case outcome := <-done:
		if outcome.Stage != Submitted || outcome.Committed || outcome.Unknown {
			t.Errorf("outcome = %+v, want failure after submit", outcome)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline ignored cancellation")
	}
	if service.count(pathInitDc) != 0 {
		t.Error("pipeline continued after cancellation")
	}
}

func TestCommitClaimedOnce(t *testing.T) {
	book, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { book.Close() })

	service := newOrderService()
	pipeline := newPipeline(t, service, Config{Recorder: book})

	first := pipeline.Run(context.Background(), testRequest())
	if !first.Committed {
		t.Fatalf("first outcome = %+v", first)
	}
	// The service reissues the same token; it must not commit twice.
	second := pipeline.Run(context.Background(), testRequest())
	if second.Committed || second.Code != CodeAlreadyCommitted {
		t.Fatalf("second outcome = %+v, want already_committed", second)
	}
	if got := service.count(pathConfirmQueue); got != 1 {
		t.Errorf("commit sent %d times, want 1", got)
	}

	// A second process sharing the ledger is refused too.
	other := newPipeline(t, service, Config{Recorder: book})
	third := other.Run(context.Background(), testRequest())
	if third.Code != CodeAlreadyCommitted {
		t.Errorf("third outcome = %+v, want already_committed", third)
	}

	attempts, err := book.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 3 {
		t.Fatalf("ledger holds %d attempts, want 3", len(attempts))
	}
	var committed int
	for _, attempt := range attempts {
		if attempt.Outcome == "committed" {
			committed++
			if attempt.OrderID != "X" || attempt.Stage != Committed.String() {
				t.Errorf("committed attempt = %+v", attempt)
			}
		}
	}
	if committed != 1 {
		t.Errorf("%d committed attempts, want 1", committed)
	}

	page, err := book.ConfirmPage(context.Background(), first.AttemptID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(page), "globalRepeatSubmitToken") {
		t.Error("confirmation page not kept for the attempt")
	}
}

func TestClaimWithBrokenLedger(t *testing.T) {
	service := newOrderService()
	recorder := &failingRecorder{claimErr: errors.New("disk I/O error")}
	pipeline := newPipeline(t, service, Config{Recorder: recorder})

	outcome := pipeline.Run(context.Background(), testRequest())
	if outcome.Code != CodeLedgerUnavailable || outcome.Committed {
		t.Fatalf("outcome = %+v, want ledger_unavailable", outcome)
	}
	if service.count(pathConfirmQueue) != 0 {
		t.Error("committed without a claim")
	}
	if recorder.finished != "failed" {
		t.Errorf("recorded outcome %q, want failed", recorder.finished)
	}
}

type failingRecorder struct {
	claimErr error
	finished string
}

func (r *failingRecorder) Begin(ctx context.Context, attempt ledger.Attempt) (string, error) {
	return "attempt-1", nil
}

func (r *failingRecorder) RecordStage(ctx context.Context, id, stage string) error { return nil }

func (r *failingRecorder) SaveConfirmPage(ctx context.Context, id string, page []byte) error {
	return nil
}

func (r *failingRecorder) ClaimCommit(ctx context.Context, id, token string) error {
	return r.claimErr
}

func (r *failingRecorder) Finish(ctx context.Context, id string, result ledger.Result) error {
	r.finished = result.Outcome
	return nil
}

func TestCapturedQueueTemplateReplayed(t *testing.T) {
	capture := []byte(`[
  // the confirmation page load
  {"url": "https://kyfw.12306.cn/otn/confirmPassenger/initDc", "headers": {}, "post_data": "_json_att="},
  {
    "url": "https://kyfw.12306.cn/otn/confirmPassenger/getQueueCount?v=2",
    "method": "POST",
    "headers": {
      "Cookie": "JSESSIONID=stale",
      "X-Capture": "yes",
      ":authority": "kyfw.12306.cn",
      "Content-Length": "99"
    },
    "post_data": "train_no=6c000G601000&seatType=&REPEAT_SUBMIT_TOKEN=stale&leftTicket=LT1&leftTicket=LT2"
  }
]`)
	template, err := ParseCapturedTemplate(capture, "capture.json")
	if err != nil {
		t.Fatal(err)
	}
	if template.Path != "/otn/confirmPassenger/getQueueCount?v=2" {
		t.Errorf("path = %q", template.Path)
	}
	for _, dropped := range []string{"Cookie", "Content-Length"} {
		if template.Header.Get(dropped) != "" {
			t.Errorf("header %s kept", dropped)
		}
	}
	if template.Header.Get("X-Requested-With") != "XMLHttpRequest" {
		t.Error("default X-Requested-With missing")
	}

	service := newOrderService()
	pipeline := newPipeline(t, service, Config{QueueTemplate: template})
	outcome := pipeline.Run(context.Background(), testRequest())
	if !outcome.Committed {
		t.Fatalf("outcome = %+v", outcome)
	}

	form := service.form(pathQueueCount)
	for field, want := range map[string]string{
		"REPEAT_SUBMIT_TOKEN": "abc123DEF",
		"seatType":            "O",
		"train_date":          "20260201",
		"leftTicket":          "LT2",
		"train_no":            "6c000G601000",
	} {
		if got := form.Get(field); got != want {
			t.Errorf("queue %s = %q, want %q", field, got, want)
		}
	}
	header := service.header(pathQueueCount)
	if header.Get("X-Capture") != "yes" {
		t.Error("captured header not replayed")
	}
	if strings.Contains(header.Get("Cookie"), "stale") {
		t.Error("captured cookie replayed")
	}
}

func TestCapturedTemplateWithoutQueueRequest(t *testing.T) {
	_, err := ParseCapturedTemplate([]byte(`[{"url":"https://kyfw.12306.cn/otn/leftTicket/init"}]`), "capture.json")
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, err := ParseCapturedTemplate([]byte(`{not json`), "capture.json"); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    bool
	}{
		{"committed", Outcome{Committed: true, Stage: Committed}, false},
		{"unknown", Outcome{Unknown: true, Stage: Committed}, false},
		{"submit rejected", failed(Submitted, transport.BusinessRejection(pathSubmitOrder, "", "过期")), true},
		{"confirm transport", failed(Confirming, transport.TransportError(pathInitDc, 502, errors.New("bad gateway"))), true},
		{"protocol", failed(Confirming, transport.ProtocolViolation(pathInitDc, "no token")), false},
		{"auth expired", failed(Submitted, transport.AuthExpired(pathSubmitOrder, "login")), false},
		{"no travelers", failed(PassengersLoaded, ErrNoTravelers), false},
		{"commit rejected", failed(Committed, transport.BusinessRejection(pathConfirmQueue, "", "余票不足")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.outcome); got != tt.want {
				t.Errorf("Retryable = %v, want %v", got, tt.want)
			}
		})
	}
}

// drive runs fn while advancing clk whenever something waits on it.
func drive(t *testing.T, clk *clock.FakeClock, step time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-timeout:
			t.Fatal("operation did not finish")
		case <-time.After(time.Millisecond):
			if clk.PendingCount() > 0 {
				clk.Advance(step)
			}
		}
	}
}
