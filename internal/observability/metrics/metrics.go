package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// authentication outcomes, file lifecycle events, and share-link activity.
// It coordinates concurrent writers via a RWMutex while exposing thread-safe
// gauges for in-flight download tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	authEvents      map[string]uint64
	fileEvents      map[string]uint64
	shareEvents     map[string]uint64
	uploadedBytes   atomic.Int64
	activeDownloads atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		authEvents:      make(map[string]uint64),
		fileEvents:      make(map[string]uint64),
		shareEvents:     make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveAuthEvent records an authentication outcome such as "login_success",
// "login_failure", or "token_rejected".
func (r *Recorder) ObserveAuthEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.authEvents[normalized]++
	r.mu.Unlock()
}

// ObserveFileEvent records a file lifecycle event such as "upload",
// "download", "update", or "delete".
func (r *Recorder) ObserveFileEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.fileEvents[normalized]++
	r.mu.Unlock()
}

// ObserveShareEvent records share-link activity such as "issued", "resolved",
// or "miss".
func (r *Recorder) ObserveShareEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.shareEvents[normalized]++
	r.mu.Unlock()
}

// ObserveUploadBytes accumulates the total number of content bytes accepted.
func (r *Recorder) ObserveUploadBytes(n int64) {
	if n > 0 {
		r.uploadedBytes.Add(n)
	}
}

// DownloadStarted increments the in-flight download gauge.
func (r *Recorder) DownloadStarted() {
	r.activeDownloads.Add(1)
}

// DownloadFinished decrements the in-flight download gauge, guarding against
// negative counts when concurrent updates race.
func (r *Recorder) DownloadFinished() {
	r.decrementGauge(&r.activeDownloads)
}

// ActiveDownloads exposes the current gauge of in-flight downloads.
func (r *Recorder) ActiveDownloads() int64 {
	return r.activeDownloads.Load()
}

// AuthCounts returns a copy of the authentication event counters for testing
// and reporting purposes.
func (r *Recorder) AuthCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.authEvents))
	for k, v := range r.authEvents {
		counts[k] = v
	}
	return counts
}

// FileCounts returns a copy of the file event counters.
func (r *Recorder) FileCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.fileEvents))
	for k, v := range r.fileEvents {
		counts[k] = v
	}
	return counts
}

// ShareCounts returns a copy of the share-link event counters.
func (r *Recorder) ShareCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.shareEvents))
	for k, v := range r.shareEvents {
		counts[k] = v
	}
	return counts
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.authEvents = make(map[string]uint64)
	r.fileEvents = make(map[string]uint64)
	r.shareEvents = make(map[string]uint64)
	r.uploadedBytes.Store(0)
	r.activeDownloads.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	authEvents := sortedKeys(r.authEvents)
	fileEvents := sortedKeys(r.fileEvents)
	shareEvents := sortedKeys(r.shareEvents)

	fmt.Fprintln(w, "# HELP cirrusdrive_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE cirrusdrive_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "cirrusdrive_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP cirrusdrive_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE cirrusdrive_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "cirrusdrive_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP cirrusdrive_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE cirrusdrive_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "cirrusdrive_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP cirrusdrive_auth_events_total Authentication outcomes by type")
	fmt.Fprintln(w, "# TYPE cirrusdrive_auth_events_total counter")
	for _, event := range authEvents {
		fmt.Fprintf(w, "cirrusdrive_auth_events_total{event=\"%s\"} %d\n", event, r.authEvents[event])
	}

	fmt.Fprintln(w, "# HELP cirrusdrive_file_events_total File lifecycle events by type")
	fmt.Fprintln(w, "# TYPE cirrusdrive_file_events_total counter")
	for _, event := range fileEvents {
		fmt.Fprintf(w, "cirrusdrive_file_events_total{event=\"%s\"} %d\n", event, r.fileEvents[event])
	}

	fmt.Fprintln(w, "# HELP cirrusdrive_share_events_total Share-link events by type")
	fmt.Fprintln(w, "# TYPE cirrusdrive_share_events_total counter")
	for _, event := range shareEvents {
		fmt.Fprintf(w, "cirrusdrive_share_events_total{event=\"%s\"} %d\n", event, r.shareEvents[event])
	}

	fmt.Fprintln(w, "# HELP cirrusdrive_uploaded_bytes_total Total content bytes accepted by uploads")
	fmt.Fprintln(w, "# TYPE cirrusdrive_uploaded_bytes_total counter")
	fmt.Fprintf(w, "cirrusdrive_uploaded_bytes_total %d\n", r.uploadedBytes.Load())

	fmt.Fprintln(w, "# HELP cirrusdrive_active_downloads Current number of in-flight downloads")
	fmt.Fprintln(w, "# TYPE cirrusdrive_active_downloads gauge")
	fmt.Fprintf(w, "cirrusdrive_active_downloads %d\n", r.activeDownloads.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(counters map[string]uint64) []string {
	keys := make([]string, 0, len(counters))
	for key := range counters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveAuthEvent records an authentication outcome on the default recorder.
func ObserveAuthEvent(event string) {
	defaultRecorder.ObserveAuthEvent(event)
}

// ObserveFileEvent records a file lifecycle event on the default recorder.
func ObserveFileEvent(event string) {
	defaultRecorder.ObserveFileEvent(event)
}

// ObserveShareEvent records share-link activity on the default recorder.
func ObserveShareEvent(event string) {
	defaultRecorder.ObserveShareEvent(event)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
