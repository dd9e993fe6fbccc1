// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package interactive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/railclerk/railclerk/lib/auth"
	"github.com/railclerk/railclerk/lib/session"
	"github.com/railclerk/railclerk/lib/transport"
)

// accountService serves the account page only to the "live" session.
func accountService() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(AccountPage, func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(session.SessionID)
		if err != nil || cookie.Value != "live" {
			http.Redirect(w, r, "/otn/login/init", http.StatusFound)
			return
		}
		io.WriteString(w, "<html>我的12306</html>")
	})
	return mux
}

func newDirect(t *testing.T) (Direct, *session.Persister) {
	t.Helper()
	return newDirectWith(t, accountService())
}

func newDirectWith(t *testing.T, handler http.Handler) (Direct, *session.Persister) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := transport.New(transport.Config{BaseURL: server.URL, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	persister := session.NewPersister(&session.FileStore{Path: filepath.Join(t.TempDir(), "session.json")}, logger)
	engine, err := auth.New(auth.Config{Client: client, Persister: persister, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	return Direct{Engine: engine}, persister
}

func TestResume(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		wantOK     bool
		wantTarget string
	}{
		{"live session", "live", true, ""},
		{"stale session", "stale", false, "/otn/login/init"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			direct, persister := newDirect(t)
			ctx := context.Background()
			set := session.NewArtifactSet(session.Artifact{
				Name: session.SessionID, Value: tt.value, Domain: session.HostDomain, Path: "/otn/",
			})
			if !persister.Persist(ctx, set) {
				t.Fatal("persist wrote nothing")
			}

			navigation, ok, err := Resume(ctx, direct, persister)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.wantOK {
				t.Errorf("Resume ok = %v, want %v (navigation %+v)", ok, tt.wantOK, navigation)
			}
			if navigation.Location != tt.wantTarget {
				t.Errorf("Location = %q, want %q", navigation.Location, tt.wantTarget)
			}

			exported, err := direct.ExportArtifacts(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if value, _ := exported.Get(session.SessionID); value != tt.value {
				t.Errorf("exported %s = %q, want %q", session.SessionID, value, tt.value)
			}
		})
	}
}

func TestResumeWithoutSession(t *testing.T) {
	direct, persister := newDirect(t)
	_, ok, err := Resume(context.Background(), direct, persister)
	if ok || !errors.Is(err, ErrNoSession) {
		t.Fatalf("Resume = %v, %v; want ErrNoSession", ok, err)
	}
}

func TestCheckRejectsFailingService(t *testing.T) {
	direct, _ := newDirectWith(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	ctx := context.Background()
	direct.ImportArtifacts(ctx, session.NewArtifactSet(session.Artifact{
		Name: session.SessionID, Value: "live", Domain: session.HostDomain, Path: "/otn/",
	}))

	navigation, ok, err := Check(ctx, direct)
	if ok {
		t.Fatalf("a %d answer counted as a live session", navigation.StatusCode)
	}
	if !transport.IsTransport(err) {
		t.Errorf("err = %v, want a transport error", err)
	}
	if navigation.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", navigation.StatusCode)
	}
}

func TestCheckNeedsKeyArtifact(t *testing.T) {
	direct, _ := newDirectWith(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>我的12306</html>")
	}))
	ctx := context.Background()

	_, ok, err := Check(ctx, direct)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("a session without key artifacts counted as live")
	}

	direct.ImportArtifacts(ctx, session.NewArtifactSet(session.Artifact{
		Name: "tk", Value: "tk-1", Domain: session.HostDomain, Path: "/",
	}))
	if _, ok, err := Check(ctx, direct); err != nil || !ok {
		t.Errorf("Check with tk = %v, %v; want live", ok, err)
	}
}

func TestCaptchaRoundWithoutSolver(t *testing.T) {
	direct, _ := newDirect(t)
	if _, err := direct.CaptchaRound(context.Background()); err == nil {
		t.Fatal("expected an error without a solver")
	}
}

func TestLandedOn(t *testing.T) {
	tests := []struct {
		navigation Navigation
		want       bool
	}{
		{Navigation{URL: "https://kyfw.12306.cn/otn/index/initMy12306", StatusCode: 200}, true},
		{Navigation{URL: "https://kyfw.12306.cn/otn/index/initMy12306", StatusCode: 302, Redirected: true}, false},
		{Navigation{URL: "https://kyfw.12306.cn/otn/index/initMy12306", StatusCode: 503}, false},
		{Navigation{URL: "https://kyfw.12306.cn/otn/login/init", StatusCode: 200}, false},
		{Navigation{URL: "://bad", StatusCode: 200}, false},
	}
	for _, tt := range tests {
		if got := tt.navigation.LandedOn("initMy12306"); got != tt.want {
			t.Errorf("%+v LandedOn = %v, want %v", tt.navigation, got, tt.want)
		}
	}
}
