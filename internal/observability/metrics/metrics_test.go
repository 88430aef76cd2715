package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRecorderCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/api/files", 200, 10*time.Millisecond)
	recorder.ObserveRequest("GET", "/api/files", 200, 5*time.Millisecond)
	recorder.ObserveAuthEvent("login_success")
	recorder.ObserveAuthEvent("Login_Failure")
	recorder.ObserveFileEvent("upload")
	recorder.ObserveShareEvent("issued")
	recorder.ObserveUploadBytes(2048)

	var buf bytes.Buffer
	recorder.Write(&buf)
	output := buf.String()

	for _, want := range []string{
		`cirrusdrive_http_requests_total{method="GET",path="/api/files",status="200"} 2`,
		`cirrusdrive_auth_events_total{event="login_success"} 1`,
		`cirrusdrive_auth_events_total{event="login_failure"} 1`,
		`cirrusdrive_file_events_total{event="upload"} 1`,
		`cirrusdrive_share_events_total{event="issued"} 1`,
		`cirrusdrive_uploaded_bytes_total 2048`,
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected output to contain %q:\n%s", want, output)
		}
	}

	if counts := recorder.AuthCounts(); counts["login_success"] != 1 || counts["login_failure"] != 1 {
		t.Fatalf("unexpected auth counts: %v", counts)
	}
}

func TestActiveDownloadsGauge(t *testing.T) {
	recorder := New()
	recorder.DownloadStarted()
	recorder.DownloadStarted()
	if recorder.ActiveDownloads() != 2 {
		t.Fatalf("expected 2 in-flight downloads, got %d", recorder.ActiveDownloads())
	}
	recorder.DownloadFinished()
	if recorder.ActiveDownloads() != 1 {
		t.Fatalf("expected 1 in-flight download, got %d", recorder.ActiveDownloads())
	}
	recorder.DownloadFinished()
	recorder.DownloadFinished()
	if recorder.ActiveDownloads() != 0 {
		t.Fatalf("gauge must not go negative, got %d", recorder.ActiveDownloads())
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"", "/"},
		{"/api/files", "/api/files"},
		{"/api/files/0123456789abcdef0123456789abcdef", "/api/files/:id"},
		{"/api/admin/users/user123", "/api/admin/users/:id"},
		{"/api/files/", "/api/files"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.path); got != tc.want {
			t.Fatalf("normalizePath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestHandlerServesPrometheusText(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("GET", "/healthz", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if contentType := rec.Header().Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type %q", contentType)
	}
	if !strings.Contains(rec.Body.String(), "cirrusdrive_http_requests_total") {
		t.Fatal("expected request counter in scrape output")
	}
}

func TestReset(t *testing.T) {
	recorder := New()
	recorder.ObserveAuthEvent("login_success")
	recorder.ObserveUploadBytes(10)
	recorder.DownloadStarted()

	recorder.Reset()
	if counts := recorder.AuthCounts(); len(counts) != 0 {
		t.Fatalf("expected cleared counters, got %v", counts)
	}
	if recorder.ActiveDownloads() != 0 {
		t.Fatal("expected cleared gauge")
	}
}

func TestRecorderConcurrentAccess(t *testing.T) {
	recorder := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				recorder.ObserveRequest("GET", "/api/files", 200, time.Microsecond)
				recorder.ObserveFileEvent("download")
				recorder.DownloadStarted()
				recorder.DownloadFinished()
			}
		}()
	}
	wg.Wait()

	if counts := recorder.FileCounts(); counts["download"] != 1600 {
		t.Fatalf("expected 1600 download events, got %d", counts["download"])
	}
	if recorder.ActiveDownloads() != 0 {
		t.Fatalf("expected drained gauge, got %d", recorder.ActiveDownloads())
	}
}
