// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package order

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/railclerk/railclerk/lib/availability"
	"github.com/railclerk/railclerk/lib/transport"
)

const confirmPageHTML = `<!DOCTYPE html>
<html><head><script type="text/javascript">
var ctx='/otn/';
var globalRepeatSubmitToken = 'abc123DEF';
var ticketInfoForPassengerForm={'queryLeftTicketRequestDTO':{'train_date':'20260201','train_no':'6c000G601000','station_train_code':'G6011','from_station':'IOQ','to_station':'CWQ'},'leftTicketStr':'LT%2Bxyz','purpose_codes':'00','train_location':'Q6','key_check_isChange':'KC123','leftDetails':['二等座(553.50元)有票','无座(553.50元)有票']};
</script></head>
<body><select id="seatType_1"><option value="O" selected="selected">二等座（￥553.5元）</option><option value="WZ">无座</option></select></body></html>
`

const passengersJSON = `{"status":true,"httpstatus":200,"data":{"normal_passengers":[
{"passenger_name":"张三","passenger_id_type_code":"1","passenger_id_no":"430102199001011234","mobile_no":"13800000000","passenger_type":"1"},
{"passenger_name":"李四","passenger_id_type_code":"1","passenger_id_no":"430102199202021234","mobile_no":"13900000000","passenger_type":"1"}
]},"messages":[]}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// orderService emulates the order endpoints. Handlers may be replaced
// per test; every call is counted and its form kept.
type orderService struct {
	mu       sync.Mutex
	calls    map[string]int
	forms    map[string]url.Values
	headers  map[string]http.Header
	handlers map[string]http.HandlerFunc
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json;charset=UTF-8")
		io.WriteString(w, body)
	}
}

func newOrderService() *orderService {
	record := make([]string, 36)
	record[0] = "secret%2Bone"
	record[2], record[3] = "6c000G601000", "G6011"
	record[6], record[7] = "IOQ", "CWQ"
	record[8], record[9], record[10] = "09:05", "12:31", "03:26"
	record[30], record[26] = "3", "--"
	queryReply := fmt.Sprintf(`{"httpstatus":200,"status":true,"data":{"result":[%q],"map":{"IOQ":"深圳北","CWQ":"长沙南"}}}`,
		strings.Join(record, "|"))

	return &orderService{
		calls:   make(map[string]int),
		forms:   make(map[string]url.Values),
		headers: make(map[string]http.Header),
		handlers: map[string]http.HandlerFunc{
			"/otn/leftTicket/queryZ": respond(queryReply),
			pathSubmitOrder:          respond(`{"status":true,"httpstatus":200,"data":"N","messages":[]}`),
			pathInitDc: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html;charset=UTF-8")
				io.WriteString(w, confirmPageHTML)
			},
			pathPassengers:   respond(passengersJSON),
			pathCheckOrder:   respond(`{"status":true,"httpstatus":200,"data":{"ifShowPassCode":"N","submitStatus":true}}`),
			pathQueueCount:   respond(`{"status":true,"httpstatus":200,"data":{"count":"0","ticket":"有","op_2":"false"}}`),
			pathConfirmQueue: respond(`{"status":true,"httpstatus":200,"data":{"submitStatus":true,"orderId":"X"}}`),
		},
	}
}

func (s *orderService) set(path string, handler http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[path] = handler
}

func (s *orderService) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *orderService) form(path string) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forms[path]
}

func (s *orderService) header(path string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[path]
}

func (s *orderService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	s.mu.Lock()
	s.calls[r.URL.Path]++
	s.forms[r.URL.Path] = r.PostForm
	s.headers[r.URL.Path] = r.Header.Clone()
	handler := s.handlers[r.URL.Path]
	s.mu.Unlock()
	if handler == nil {
		http.NotFound(w, r)
		return
	}
	handler(w, r)
}

func newClient(t *testing.T, service *orderService) *transport.Client {
	t.Helper()
	server := httptest.NewServer(service)
	t.Cleanup(server.Close)
	client, err := transport.New(transport.Config{BaseURL: server.URL, Logger: discardLogger()})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func newPipeline(t *testing.T, service *orderService, cfg Config) *Pipeline {
	t.Helper()
	cfg.Client = newClient(t, service)
	cfg.Logger = discardLogger()
	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return pipeline
}

func testOffer() availability.Offer {
	return availability.Offer{
		Secret:    "secret%2Bone",
		TrainNo:   "6c000G601000",
		TrainCode: "G6011",
		From:      "IOQ",
		To:        "CWQ",
		FromName:  "深圳北",
		ToName:    "长沙南",
		Departs:   "09:05",
	}
}

func testRequest() Request {
	return Request{
		Offer:    testOffer(),
		Class:    availability.Second,
		Traveler: "张三",
		Trip:     Trip{Date: "2026-02-01", FromName: "深圳", ToName: "长沙"},
	}
}
