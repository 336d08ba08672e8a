package observe

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newMiddlewareHarness returns the history-style routes of the API behind
// [Middleware], together with the metric reader and span exporter.
func newMiddlewareHarness(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	exp := useTracer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		io.WriteString(w, r.PathValue("id"))
	})
	mux.HandleFunc("POST /api/speech", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {})
	mux.HandleFunc("GET /trace", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, CorrelationID(r.Context()))
	})
	return Middleware(m)(mux), reader, exp
}

func serve(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h, _, _ := newMiddlewareHarness(t)

	rec := serve(h, "GET", "/trace", nil)
	cid := rec.Body.String()
	if len(cid) != 32 {
		t.Fatalf("correlation ID %q, want 32 hex characters", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}

	const parent = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec = serve(h, "GET", "/trace", http.Header{"Traceparent": {"00-" + parent + "-00f067aa0ba902b7-01"}})
	if got := rec.Body.String(); got != parent {
		t.Errorf("trace not continued: correlation ID %q, want %q", got, parent)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != parent {
		t.Errorf("X-Correlation-ID = %q, want %q", got, parent)
	}
}

func TestMiddleware_SpanUsesRoute(t *testing.T) {
	h, _, exp := newMiddlewareHarness(t)

	serve(h, "GET", "/api/history/missing", nil)
	serve(h, "GET", "/nowhere", nil)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	tests := []struct {
		name   string
		route  string
		status int64
	}{
		{"HTTP GET /api/history/{id}", "GET /api/history/{id}", 404},
		{"HTTP unmatched", "unmatched", 404},
	}
	for i, tt := range tests {
		s := spans[i]
		if s.Name != tt.name {
			t.Errorf("span %d name = %q, want %q", i, s.Name, tt.name)
		}
		attrs := attribute.NewSet(s.Attributes...)
		if v, _ := attrs.Value("http.route"); v.AsString() != tt.route {
			t.Errorf("span %d http.route = %q, want %q", i, v.AsString(), tt.route)
		}
		if v, _ := attrs.Value("http.response.status_code"); v.AsInt64() != tt.status {
			t.Errorf("span %d status = %d, want %d", i, v.AsInt64(), tt.status)
		}
	}
}

func TestMiddleware_DurationByRoute(t *testing.T) {
	h, reader, _ := newMiddlewareHarness(t)

	// Three distinct IDs must land in a single series.
	for _, id := range []string{"a", "b", "c"} {
		serve(h, "GET", "/api/history/"+id, nil)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "wicara.http.request.duration")
	if met == nil {
		t.Fatal("wicara.http.request.duration not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d series, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 3 {
		t.Errorf("count = %d, want 3", dp.Count)
	}
	want := attribute.NewSet(
		attribute.String("method", "GET"),
		attribute.String("route", "GET /api/history/{id}"),
		attribute.Int("status", 200),
	)
	if !dp.Attributes.Equals(&want) {
		t.Errorf("attributes = %v, want %v", dp.Attributes.ToSlice(), want.ToSlice())
	}
}

func TestMiddleware_LogLevels(t *testing.T) {
	h, _, _ := newMiddlewareHarness(t)
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	serve(h, "GET", "/healthz", nil)
	if buf.Len() != 0 {
		t.Errorf("probe logged at info: %s", buf.String())
	}

	serve(h, "GET", "/api/history/abc", nil)
	if out := buf.String(); !strings.Contains(out, "level=INFO") || !strings.Contains(out, "path=/api/history/abc") {
		t.Errorf("api request not logged at info: %s", out)
	}

	buf.Reset()
	serve(h, "POST", "/api/speech", nil)
	if out := buf.String(); !strings.Contains(out, "level=WARN") || !strings.Contains(out, "status=500") {
		t.Errorf("server error not logged at warn: %s", out)
	}
}

func TestMiddleware_Hijack(t *testing.T) {
	useTracer(t)
	m, err := NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, brw, err := http.NewResponseController(w).Hijack()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()
		brw.WriteString("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: test\r\n\r\n")
		brw.Flush()
	})))
	t.Cleanup(srv.Close)

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	io.WriteString(conn, "GET /ws HTTP/1.1\r\nHost: wicara\r\nConnection: Upgrade\r\nUpgrade: test\r\n\r\n")

	status, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 101") {
		t.Errorf("status line = %q, want 101 Switching Protocols", status)
	}
}
