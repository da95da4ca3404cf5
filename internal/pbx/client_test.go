package pbx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"
)

// testServer wraps a TLS httptest server speaking the PBX session protocol.
// The self-signed certificate doubles as coverage for the permissive TLS
// default.
type testServer struct {
	ts *httptest.Server

	mu            sync.Mutex
	logins        int
	downloads     int
	recordingCode func(attempt int) int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{}

	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.logins++
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "sess-ok"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(recordingPath, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.downloads++
		n := s.downloads
		code := http.StatusOK
		if s.recordingCode != nil {
			code = s.recordingCode(n)
		}
		s.mu.Unlock()

		if code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"response":"error","message":"nope"}`))
			return
		}
		if r.Header.Get("Cookie") != "session=sess-ok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("RIFFaudio-bytes"))
	})
	mux.HandleFunc(statusPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "session=sess-ok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	s.ts = httptest.NewTLSServer(mux)
	t.Cleanup(s.ts.Close)
	return s
}

func (s *testServer) client(t *testing.T, sleeps *[]time.Duration) *Client {
	t.Helper()

	u, err := url.Parse(s.ts.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	opts := []Option{}
	if sleeps != nil {
		opts = append(opts, WithSleep(func(ctx context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		}))
	}
	return NewClient(Config{
		Host:     host,
		Port:     port,
		Username: "api",
		Password: "secret",
	}, opts...)
}

func (s *testServer) counts() (logins, downloads int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins, s.downloads
}

func TestDownloadRecording_Success(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t, nil)

	data, err := c.DownloadRecording(context.Background(), "rec-001.wav")
	if err != nil {
		t.Fatalf("DownloadRecording: %v", err)
	}
	if string(data) != "RIFFaudio-bytes" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestDownloadRecording_RetriesOn404WithSchedule(t *testing.T) {
	s := newTestServer(t)
	s.recordingCode = func(attempt int) int {
		if attempt <= 2 {
			return http.StatusNotFound
		}
		return http.StatusOK
	}

	var sleeps []time.Duration
	c := s.client(t, &sleeps)

	data, err := c.DownloadRecording(context.Background(), "rec-002.wav")
	if err != nil {
		t.Fatalf("DownloadRecording: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected audio bytes")
	}

	_, downloads := s.counts()
	if downloads != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", downloads)
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d backoff sleeps, got %v", len(want), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("sleep %d: got %v want %v", i, sleeps[i], want[i])
		}
	}
}

func TestDownloadRecording_NotReadyAfterBudget(t *testing.T) {
	s := newTestServer(t)
	s.recordingCode = func(int) int { return http.StatusNotFound }

	var sleeps []time.Duration
	c := s.client(t, &sleeps)

	_, err := c.DownloadRecording(context.Background(), "rec-003.wav")
	if !errors.Is(err, ErrRecordingNotReady) {
		t.Fatalf("expected ErrRecordingNotReady, got %v", err)
	}
	_, downloads := s.counts()
	if downloads != 3 {
		t.Fatalf("expected 3 attempts, got %d", downloads)
	}
}

func TestDownloadRecording_ReauthOn401(t *testing.T) {
	s := newTestServer(t)
	s.recordingCode = func(attempt int) int {
		if attempt == 1 {
			return http.StatusUnauthorized
		}
		return http.StatusOK
	}

	var sleeps []time.Duration
	c := s.client(t, &sleeps)

	data, err := c.DownloadRecording(context.Background(), "rec-004.wav")
	if err != nil {
		t.Fatalf("DownloadRecording: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected audio bytes")
	}

	logins, downloads := s.counts()
	if logins != 2 {
		t.Fatalf("expected exactly one re-authentication (2 logins total), got %d", logins)
	}
	if downloads != 2 {
		t.Fatalf("expected 2 download attempts, got %d", downloads)
	}
	if len(sleeps) != 0 {
		t.Fatalf("401 handling must not back off, slept %v", sleeps)
	}
}

func TestDownloadRecording_PersistentUnauthorized(t *testing.T) {
	s := newTestServer(t)
	s.recordingCode = func(attempt int) int {
		return http.StatusUnauthorized
	}

	var sleeps []time.Duration
	c := s.client(t, &sleeps)

	_, err := c.DownloadRecording(context.Background(), "rec-005.wav")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}

	_, downloads := s.counts()
	if downloads != maxDownloadAttempts {
		t.Fatalf("expected %d download attempts, got %d", maxDownloadAttempts, downloads)
	}
	if len(sleeps) != 0 {
		t.Fatalf("401 handling must not back off, slept %v", sleeps)
	}
}

func TestDownloadRecording_OtherStatusTerminal(t *testing.T) {
	s := newTestServer(t)
	s.recordingCode = func(int) int { return http.StatusInternalServerError }

	c := s.client(t, nil)

	_, err := c.DownloadRecording(context.Background(), "rec-005.wav")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected code %d", statusErr.StatusCode)
	}
	if statusErr.Message != "nope" {
		t.Fatalf("expected error envelope message, got %q", statusErr.Message)
	}
	_, downloads := s.counts()
	if downloads != 1 {
		t.Fatalf("5xx must not retry, got %d attempts", downloads)
	}
}

func TestTestConnection_ReportsSuccessAndElapsed(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t, nil)

	res := c.TestConnection(context.Background())
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ResponseTimeMs < 0 {
		t.Fatalf("negative elapsed %d", res.ResponseTimeMs)
	}
}

func TestTestConnection_RefusedClassified(t *testing.T) {
	// Reserve a port and close it so the dial is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	c := NewClient(Config{Host: host, Port: port, Username: "api", Password: "x", AuthTimeout: 2 * time.Second})
	res := c.TestConnection(context.Background())
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Error == "" {
		t.Fatalf("expected classified error message")
	}
}
