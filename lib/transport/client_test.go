// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/railclerk/railclerk/lib/session"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, server
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"", "kyfw.12306.cn", "://"} {
		if _, err := New(Config{BaseURL: base}); err == nil {
			t.Errorf("New(%q) succeeded", base)
		}
	}
}

func TestFormHeaders(t *testing.T) {
	var got *http.Request
	var form url.Values
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		got = r
		form = r.PostForm
		w.Write([]byte(`{}`))
	}))

	_, err := client.PostForm(context.Background(), "/otn/leftTicket/submitOrderRequest",
		url.Values{"secretStr": {"abc"}}, "/otn/leftTicket/init")
	if err != nil {
		t.Fatalf("PostForm: %v", err)
	}
	if got.Header.Get("Origin") != server.URL {
		t.Errorf("Origin = %q, want %q", got.Header.Get("Origin"), server.URL)
	}
	if got.Header.Get("Referer") != server.URL+"/otn/leftTicket/init" {
		t.Errorf("Referer = %q", got.Header.Get("Referer"))
	}
	if got.Header.Get("X-Requested-With") != "XMLHttpRequest" {
		t.Errorf("X-Requested-With = %q", got.Header.Get("X-Requested-With"))
	}
	if got.Header.Get("User-Agent") != DefaultUserAgent {
		t.Errorf("User-Agent = %q", got.Header.Get("User-Agent"))
	}
	if form.Get("secretStr") != "abc" {
		t.Errorf("form secretStr = %q", form.Get("secretStr"))
	}
}

func TestRequestHeaderOverridesDefaults(t *testing.T) {
	var referer string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("Referer")
	}))
	_, err := client.Do(context.Background(), Request{
		Path:   "/otn/index/initMy12306",
		Header: http.Header{"Referer": {"https://example.test/captured"}},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if referer != "https://example.test/captured" {
		t.Errorf("Referer = %q", referer)
	}
}

func TestNoRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/otn/index/initMy12306", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/otn/resources/login.html", http.StatusFound)
	})
	mux.HandleFunc("/otn/resources/login.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("login page"))
	})
	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	response, err := client.Do(ctx, Request{Path: "/otn/index/initMy12306", NoRedirect: true})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !response.Redirected() || response.Location() != "/otn/resources/login.html" {
		t.Errorf("status %d location %q, want 302 to login", response.StatusCode, response.Location())
	}

	followed, err := client.Get(ctx, "/otn/index/initMy12306", nil, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if followed.URL.Path != "/otn/resources/login.html" || string(followed.Body) != "login page" {
		t.Errorf("followed to %s with body %q", followed.URL.Path, followed.Body)
	}
	if !response.BouncedToLogin() || !followed.BouncedToLogin() {
		t.Errorf("BouncedToLogin = %v (redirect), %v (followed); want both true",
			response.BouncedToLogin(), followed.BouncedToLogin())
	}

	page, err := client.Get(ctx, "/otn/resources/login.html", nil, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if page.BouncedToLogin() {
		t.Error("a page requested directly counts as a bounce")
	}
}

func TestIsLoginPath(t *testing.T) {
	tests := []struct {
		target string
		want   bool
	}{
		{"/otn/login/init", true},
		{"https://kyfw.12306.cn/otn/resources/login.html", true},
		{"/otn/passport?redirect=/otn/login/userLogin", true},
		{"/otn/confirmPassenger/initDc", false},
		{"/otn/index/initMy12306", false},
		{"%zz", true},
	}
	for _, tt := range tests {
		if got := IsLoginPath(tt.target); got != tt.want {
			t.Errorf("IsLoginPath(%q) = %v, want %v", tt.target, got, tt.want)
		}
	}
}

func TestGzipBodyIsDecoded(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buffer bytes.Buffer
		writer := gzip.NewWriter(&buffer)
		writer.Write([]byte(`{"status":true}`))
		writer.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "application/json")
		w.Write(buffer.Bytes())
	}))
	response, err := client.Get(context.Background(), "/otn/login/checkUser", nil, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var body struct {
		Status bool `json:"status"`
	}
	if err := DecodeJSON(response, &body); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if !body.Status {
		t.Error("status = false, want true")
	}
}

func TestDecodeJSONClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		throttled bool
	}{
		{"html error page", 200, "<html>error</html>", false},
		{"busy page", 200, "<html>网络繁忙</html>", true},
		{"too many requests", 429, "", true},
		{"server error", 500, "{}", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			response := &Response{StatusCode: test.status, Body: []byte(test.body), Endpoint: "/otn/x"}
			var v map[string]any
			err := DecodeJSON(response, &v)
			if !IsTransport(err) {
				t.Fatalf("error %v is not a transport error", err)
			}
			if IsThrottled(err) != test.throttled {
				t.Errorf("throttled = %v, want %v", IsThrottled(err), test.throttled)
			}
		})
	}
}

func TestTransportErrorOnUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()
	client, err := New(Config{BaseURL: base})
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Get(context.Background(), "/otn/login/conf", nil, "")
	var remoteErr *Error
	if !errors.As(err, &remoteErr) || remoteErr.Kind != KindTransport {
		t.Fatalf("error = %v, want transport error", err)
	}
	if remoteErr.Endpoint != "/otn/login/conf" {
		t.Errorf("endpoint = %q", remoteErr.Endpoint)
	}
}

func TestArtifactsFlowThroughJar(t *testing.T) {
	var seen string
	mux := http.NewServeMux()
	mux.HandleFunc("/passport/web/auth/uamtk", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "tk", Value: "fresh", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "_passport_session", Value: "ps", Path: "/passport"})
	})
	mux.HandleFunc("/otn/login/checkUser", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("JSESSIONID")
		if err == nil {
			seen = cookie.Value
		}
	})
	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	client.Import(session.FromSimple(map[string]string{"JSESSIONID": "J1"}))
	if _, err := client.Get(ctx, "/otn/login/checkUser", nil, ""); err != nil {
		t.Fatal(err)
	}
	if seen != "J1" {
		t.Errorf("server saw JSESSIONID %q, want J1", seen)
	}

	if _, err := client.PostForm(ctx, "/passport/web/auth/uamtk", url.Values{"appid": {"otn"}}, ""); err != nil {
		t.Fatal(err)
	}
	exported := client.Export()
	simple := exported.Simple()
	for name, want := range map[string]string{"JSESSIONID": "J1", "tk": "fresh", "_passport_session": "ps"} {
		if simple[name] != want {
			t.Errorf("exported %s = %q, want %q", name, simple[name], want)
		}
	}
	for _, artifact := range exported.Artifacts() {
		if artifact.Name == "_passport_session" && artifact.Path != "/passport" {
			t.Errorf("_passport_session path = %q, want /passport", artifact.Path)
		}
		if artifact.Name == "JSESSIONID" && artifact.Domain != session.HostDomain {
			t.Errorf("imported JSESSIONID domain = %q, want %q", artifact.Domain, session.HostDomain)
		}
	}

	if err := client.ClearArtifacts(); err != nil {
		t.Fatal(err)
	}
	if client.Export().Len() != 0 {
		t.Errorf("artifacts survived clear: %v", client.Export().Simple())
	}
	if _, ok := client.Artifact("tk"); ok {
		t.Error("tk still present after clear")
	}
}

func TestCodeAcceptsStringsAndNumbers(t *testing.T) {
	var reply struct {
		A Code `json:"a"`
		B Code `json:"b"`
		C Code `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"4","b":0,"c":null}`), &reply); err != nil {
		t.Fatal(err)
	}
	if reply.A != "4" || reply.B != "0" || reply.C != "" {
		t.Errorf("codes = %q %q %q", reply.A, reply.B, reply.C)
	}
}

func TestEnvelope(t *testing.T) {
	var envelope Envelope
	body := `{"status":false,"httpstatus":200,"data":null,"messages":["系统忙","请稍后"]}`
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Message() != "系统忙; 请稍后" {
		t.Errorf("Message = %q", envelope.Message())
	}
	data := map[string]any{"kept": true}
	if err := envelope.DecodeData(&data); err != nil || data["kept"] != true {
		t.Errorf("DecodeData on null data = %v, %v", data, err)
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("abcdef123456"); got != "abcd..." {
		t.Errorf("Redact = %q", got)
	}
	if got := Redact("abc"); got != "***" {
		t.Errorf("Redact short = %q", got)
	}
}
