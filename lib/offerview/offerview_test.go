// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package offerview

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/railclerk/railclerk/lib/availability"
	"github.com/railclerk/railclerk/lib/ledger"
	"github.com/railclerk/railclerk/lib/order"
)

func parseOffer(t *testing.T, trainCode, second, noSeat string) availability.Offer {
	t.Helper()
	fields := make([]string, availability.MinRecordFields)
	fields[0] = "secret"
	fields[3] = trainCode
	fields[6], fields[7] = "IOQ", "CWQ"
	fields[8], fields[9], fields[10] = "09:05", "12:31", "03:26"
	fields[30], fields[26] = second, noSeat
	offer, err := availability.ParseRecord(strings.Join(fields, "|"), 0)
	if err != nil {
		t.Fatal(err)
	}
	return offer
}

func TestOffersPlain(t *testing.T) {
	r := New(io.Discard, false)
	offer := parseOffer(t, "G6011", "有", "无")
	offer.FromName = "深圳北站至长沙南站直达特别快速列车区间"
	out := r.Offers([]availability.Offer{offer}, []availability.Class{availability.Second, availability.NoSeat})

	for _, want := range []string{"G6011", "09:05", "二等座", "无座", "有", "CWQ", "…"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "区间") {
		t.Errorf("long station name not truncated:\n%s", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("plain renderer emitted escape codes:\n%s", out)
	}
}

func TestOffersEmpty(t *testing.T) {
	if out := New(io.Discard, false).Offers(nil, nil); out != "no trains" {
		t.Errorf("Offers(nil) = %q", out)
	}
}

func TestTravelersMasked(t *testing.T) {
	out := New(io.Discard, false).Travelers([]order.Traveler{{
		Name:       "张三",
		TypeName:   "成人",
		IDTypeName: "居民身份证",
		IDNumber:   "430102199001011234",
		Phone:      "13800000000",
	}})
	if strings.Contains(out, "430102199001011234") || strings.Contains(out, "13800000000") {
		t.Errorf("identifiers shown in full:\n%s", out)
	}
	for _, want := range []string{"张三", "4301**********1234", "1380***0000"} {
		if !strings.Contains(out, want) {
			t.Errorf("travelers missing %q:\n%s", want, out)
		}
	}
}

func TestAttempts(t *testing.T) {
	r := New(io.Discard, false)
	if out := r.Attempts(nil); out != "no booking attempts recorded" {
		t.Errorf("Attempts(nil) = %q", out)
	}

	started := time.Date(2026, 1, 20, 8, 0, 0, 0, time.Local)
	out := r.Attempts([]ledger.Attempt{
		{ID: "a1", Started: started, Train: "G6011", SeatClass: "second", Traveler: "张三",
			Stage: "committed", Outcome: "committed", OrderID: "E42"},
		{ID: "a0", Started: started.Add(-time.Minute), Train: "G6011", SeatClass: "second", Traveler: "张三",
			Stage: "checked", Outcome: "failed", Code: "business_rejection"},
	})
	for _, want := range []string{"2026-01-20 08:00:00", "a1", "a0", "E42", "business_rejection", "committed", "failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "a1") > strings.Index(out, "a0") {
		t.Errorf("rows reordered:\n%s", out)
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":           "",
		"1234":       "****",
		"12345678":   "12****78",
		"1234567890": "1234**7890",
	}
	for in, want := range tests {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOutcome(t *testing.T) {
	r := New(io.Discard, false)
	tests := []struct {
		name    string
		outcome order.Outcome
		want    []string
	}{
		{"committed", order.Outcome{Committed: true, Stage: order.Committed, OrderID: "E123"}, []string{"committed", "E123"}},
		{"committed without id", order.Outcome{Committed: true, Stage: order.Committed}, []string{"no order id", "check your account"}},
		{"unknown", order.Outcome{Unknown: true, Stage: order.Committed}, []string{"unknown", "check your account"}},
		{"dry run", order.Outcome{Stage: order.Committed, Code: order.CodeDryRun}, []string{"dry run complete", "no order was created"}},
		{"failed", order.Outcome{Stage: order.Checked, Code: "business_rejection", Message: "余票不足"},
			[]string{"failed at checked", "[business_rejection]", "余票不足", "no order was created"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Outcome(tt.outcome)
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("Outcome missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestJSON(t *testing.T) {
	data := []byte(`{"path":"/otn/confirmPassenger/getQueueCount","fields":{"seatType":["O"]}}`)

	plain := New(io.Discard, false).JSON(data)
	if !strings.Contains(plain, "\n  \"path\"") || strings.Contains(plain, "\x1b[") {
		t.Errorf("plain JSON:\n%s", plain)
	}

	colored := New(io.Discard, true).JSON(data)
	if !strings.Contains(colored, "\x1b[") {
		t.Errorf("colored JSON has no escape codes:\n%s", colored)
	}

	if got := New(io.Discard, true).JSON([]byte("not json")); got != "not json" {
		t.Errorf("JSON(non-JSON) = %q", got)
	}
}
