package app_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/wicara/internal/app"
	"github.com/MrWong99/wicara/internal/config"
	"github.com/MrWong99/wicara/internal/history"
	"github.com/MrWong99/wicara/internal/script"
	"github.com/MrWong99/wicara/pkg/audio"
	audiomock "github.com/MrWong99/wicara/pkg/audio/mock"
	"github.com/MrWong99/wicara/pkg/provider/llm"
	llmmock "github.com/MrWong99/wicara/pkg/provider/llm/mock"
	livemock "github.com/MrWong99/wicara/pkg/provider/live/mock"
	ttsmock "github.com/MrWong99/wicara/pkg/provider/tts/mock"
)

const sermonText = "# Kultum: Kesabaran\n\n## Pambuko\nAssalamu'alaikum warahmatullahi wabarakatuh."

// testConfig returns a config with defaults applied and no PostgreSQL.
func testConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			LLM:  config.ProviderEntry{Name: "gemini", APIKey: "k"},
			Live: config.ProviderEntry{Name: "gemini", APIKey: "k"},
			TTS:  config.ProviderEntry{Name: "gemini", APIKey: "k"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

type fixture struct {
	llm     *llmmock.Provider
	tts     *ttsmock.Provider
	speaker *audiomock.Speaker
	store   *history.MemoryStore
	app     *app.App
	srv     *httptest.Server
}

// pcm returns base64 PCM16 holding d of silence at the output rate.
func pcm(d time.Duration) string {
	frames := int(d * time.Duration(audio.OutputFormat.SampleRate) / time.Second)
	return audio.EncodeBase64(make([]byte, frames*2))
}

func newFixture(t *testing.T, opts ...app.Option) *fixture {
	t.Helper()
	f := &fixture{
		llm:     &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: sermonText}},
		tts:     &ttsmock.Provider{Audio: pcm(100 * time.Millisecond)},
		speaker: audiomock.NewSpeaker(),
		store:   history.NewMemoryStore(),
	}
	providers := &app.Providers{
		LLM:  f.llm,
		TTS:  f.tts,
		Live: &livemock.Transport{},
		Devices: &audiomock.Devices{
			MicrophoneResult: &audiomock.Microphone{},
			SpeakerResult:    f.speaker,
		},
	}
	opts = append([]app.Option{app.WithHistory(f.store), app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), testConfig(), providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a
	f.srv = httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		f.srv.Close()
		_ = a.Shutdown(context.Background())
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, want, body)
	}
}

// ─── Scripts ─────────────────────────────────────────────────────────────────

func TestSermon_SavesToHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/scripts/sermon", `{"topic":"Kesabaran","audience":"Remaja"}`)
	expectStatus(t, resp, http.StatusOK)
	res := decodeJSON[app.ScriptResult](t, resp)

	if res.Text != sermonText {
		t.Errorf("Text = %q, want %q", res.Text, sermonText)
	}
	if res.Fallback {
		t.Error("Fallback should be false")
	}
	if res.Entry == nil {
		t.Fatal("Entry should be set")
	}
	if res.Entry.Title != "Kultum: Kesabaran" {
		t.Errorf("Title = %q, want %q", res.Entry.Title, "Kultum: Kesabaran")
	}
	if !strings.Contains(f.llm.LastPrompt(), "Kanggo: Remaja") {
		t.Errorf("prompt does not name the audience: %q", f.llm.LastPrompt())
	}

	saved, err := f.store.Get(context.Background(), res.Entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if saved.Kind != history.KindSermon {
		t.Errorf("Kind = %q, want sermon", saved.Kind)
	}
}

func TestSermon_FallbackNotSaved(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.llm.CompleteErr = errors.New("quota exceeded")

	resp := f.do(t, http.MethodPost, "/api/scripts/sermon", `{"topic":"Kesabaran"}`)
	expectStatus(t, resp, http.StatusOK)
	res := decodeJSON[app.ScriptResult](t, resp)

	if !res.Fallback || res.Text != script.SermonFallback {
		t.Errorf("result = %+v, want the sermon fallback", res)
	}
	if res.Entry != nil {
		t.Error("fallback text should not be saved")
	}
	entries, _ := f.store.List(context.Background(), "", 0)
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
}

func TestMC_SavesToHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/scripts/mc", `{"event":"Syukuran","tone":"Santai"}`)
	expectStatus(t, resp, http.StatusOK)
	res := decodeJSON[app.ScriptResult](t, resp)

	if res.Entry == nil || res.Entry.Kind != history.KindMC {
		t.Fatalf("Entry = %+v, want an mc entry", res.Entry)
	}
	if !strings.Contains(f.llm.LastPrompt(), `"Syukuran"`) {
		t.Errorf("prompt does not name the event: %q", f.llm.LastPrompt())
	}
}

func TestScripts_BadRequests(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"sermon without topic", "/api/scripts/sermon", `{"tone":"Formal"}`},
		{"mc without event", "/api/scripts/mc", `{}`},
		{"malformed json", "/api/scripts/sermon", `{"topic":`},
		{"unknown field", "/api/scripts/sermon", `{"topic":"x","length":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, tt.path, tt.body)
			expectStatus(t, resp, http.StatusBadRequest)
		})
	}
	if got := len(f.llm.Calls()); got != 0 {
		t.Errorf("llm calls = %d, want 0", got)
	}
}

// ─── Speech ──────────────────────────────────────────────────────────────────

func TestSpeech_ReturnsWAV(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/speech", `{"text":"## Pambuko\nSugeng **enjing**"}`)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	// 100 ms at 24 kHz mono 16-bit.
	const dataSize = 2400 * 2
	if len(body) != audio.WAVHeaderSize+dataSize {
		t.Fatalf("body = %d bytes, want %d", len(body), audio.WAVHeaderSize+dataSize)
	}
	if !bytes.Equal(body[0:4], []byte("RIFF")) {
		t.Errorf("missing RIFF tag")
	}
	if got := binary.LittleEndian.Uint32(body[24:28]); got != 24000 {
		t.Errorf("sample rate = %d, want 24000", got)
	}

	calls := f.tts.Calls()
	if len(calls) != 1 {
		t.Fatalf("tts calls = %d, want 1", len(calls))
	}
	if want := script.SpeechPrompt("## Pambuko\nSugeng **enjing**"); calls[0].Text != want {
		t.Errorf("tts text = %q, want %q", calls[0].Text, want)
	}
}

func TestSpeech_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty text", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		resp := f.do(t, http.MethodPost, "/api/speech", `{"text":"  "}`)
		expectStatus(t, resp, http.StatusBadRequest)
	})
	t.Run("no audio", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.tts.Audio = ""
		resp := f.do(t, http.MethodPost, "/api/speech", `{"text":"Sugeng enjing"}`)
		expectStatus(t, resp, http.StatusBadGateway)
	})
	t.Run("provider failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.tts.SynthesizeErr = errors.New("backend down")
		resp := f.do(t, http.MethodPost, "/api/speech", `{"text":"Sugeng enjing"}`)
		expectStatus(t, resp, http.StatusInternalServerError)
	})
}

func TestSpeech_PlayAndStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/speech/play", `{"text":"Sugeng enjing"}`)
	expectStatus(t, resp, http.StatusAccepted)

	deadline := time.Now().Add(2 * time.Second)
	for len(f.speaker.Calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("nothing was played")
		}
		time.Sleep(time.Millisecond)
	}

	resp = f.do(t, http.MethodPost, "/api/speech/play", `{"text":"Sugeng enjing"}`)
	expectStatus(t, resp, http.StatusConflict)

	resp = f.do(t, http.MethodPost, "/api/speech/stop", "")
	expectStatus(t, resp, http.StatusOK)
	if got := decodeJSON[map[string]bool](t, resp); !got["stopped"] {
		t.Error("stop reported nothing playing")
	}
}

// ─── Practice ────────────────────────────────────────────────────────────────

func TestPracticeAPI_Lifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/practice", "")
	expectStatus(t, resp, http.StatusOK)
	if info := decodeJSON[app.PracticeInfo](t, resp); info.State != "idle" {
		t.Errorf("initial state = %q, want idle", info.State)
	}

	resp = f.do(t, http.MethodPost, "/api/practice/start", "")
	expectStatus(t, resp, http.StatusOK)
	info := decodeJSON[app.PracticeInfo](t, resp)
	if info.State != "active" || info.Voice != config.DefaultPracticeVoice {
		t.Errorf("info = %+v, want active with the default voice", info)
	}

	resp = f.do(t, http.MethodPost, "/api/practice/start", "")
	expectStatus(t, resp, http.StatusConflict)

	resp = f.do(t, http.MethodPost, "/api/practice/interrupt", "")
	expectStatus(t, resp, http.StatusOK)
	if got := decodeJSON[map[string]int](t, resp); got["flushed"] != 0 {
		t.Errorf("flushed = %d, want 0", got["flushed"])
	}

	resp = f.do(t, http.MethodPost, "/api/practice/stop", "")
	expectStatus(t, resp, http.StatusOK)
	if info := decodeJSON[app.PracticeInfo](t, resp); info.State != "closed" {
		t.Errorf("state after stop = %q, want closed", info.State)
	}
}

func TestPracticeAPI_ConnectFailure(t *testing.T) {
	t.Parallel()
	m := testMetrics(t)
	providers := &app.Providers{
		Live: &livemock.Transport{ConnectErr: errors.New("dial refused")},
		Devices: &audiomock.Devices{
			MicrophoneResult: &audiomock.Microphone{},
			SpeakerResult:    audiomock.NewSpeaker(),
		},
	}
	a, err := app.New(context.Background(), testConfig(), providers, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/practice/start", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 (body %s)", rec.Code, rec.Body)
	}
}

func TestUnavailableFeatures(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(), nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	h := a.Handler()

	tests := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/scripts/sermon", `{"topic":"Kesabaran"}`},
		{http.MethodPost, "/api/scripts/mc", `{"event":"Syukuran"}`},
		{http.MethodPost, "/api/speech", `{"text":"Sugeng"}`},
		{http.MethodPost, "/api/speech/play", `{"text":"Sugeng"}`},
		{http.MethodGet, "/api/practice", ""},
		{http.MethodPost, "/api/practice/start", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want 503", rec.Code)
			}
		})
	}

	if _, err := a.Practice(); !errors.Is(err, app.ErrUnavailable) {
		t.Errorf("Practice() error = %v, want ErrUnavailable", err)
	}
}

// ─── History ─────────────────────────────────────────────────────────────────

func TestHistoryAPI(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sermon, err := f.store.Save(ctx, history.Entry{Kind: history.KindSermon, Text: "# Sabar\nIsi"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := f.store.Save(ctx, history.Entry{Kind: history.KindMC, Text: "# Syukuran\nIsi"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	resp := f.do(t, http.MethodGet, "/api/history", "")
	expectStatus(t, resp, http.StatusOK)
	if got := decodeJSON[[]history.Entry](t, resp); len(got) != 2 {
		t.Errorf("all entries = %d, want 2", len(got))
	}

	resp = f.do(t, http.MethodGet, "/api/history?kind=sermon&limit=10", "")
	expectStatus(t, resp, http.StatusOK)
	got := decodeJSON[[]history.Entry](t, resp)
	if len(got) != 1 || got[0].ID != sermon.ID {
		t.Errorf("sermon entries = %+v, want only %s", got, sermon.ID)
	}

	resp = f.do(t, http.MethodGet, "/api/history/"+sermon.ID.String(), "")
	expectStatus(t, resp, http.StatusOK)
	if e := decodeJSON[history.Entry](t, resp); e.Title != "Sabar" {
		t.Errorf("Title = %q, want Sabar", e.Title)
	}

	resp = f.do(t, http.MethodDelete, "/api/history/"+sermon.ID.String(), "")
	expectStatus(t, resp, http.StatusNoContent)

	resp = f.do(t, http.MethodGet, "/api/history/"+sermon.ID.String(), "")
	expectStatus(t, resp, http.StatusNotFound)
}

func TestHistoryAPI_BadRequests(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown kind", http.MethodGet, "/api/history?kind=poem", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/history?limit=-1", http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/history/not-a-uuid", http.StatusBadRequest},
		{"missing id", http.MethodDelete, "/api/history/" + uuid.NewString(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, tt.method, tt.path, "")
			expectStatus(t, resp, tt.want)
		})
	}
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp := f.do(t, http.MethodGet, path, "")
		expectStatus(t, resp, http.StatusOK)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(), nil,
		app.WithHistory(history.NewMemoryStore()), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestShutdown_DrainsReadiness(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// A second call is a no-op.
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	resp := f.do(t, http.MethodGet, "/readyz", "")
	expectStatus(t, resp, http.StatusServiceUnavailable)
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	var lv slog.LevelVar
	f := newFixture(t, app.WithLogLevel(&lv))

	old := testConfig()
	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Practice.Voice = "Kore"
	updated.Practice.Language = "jv-ID"

	f.app.ApplyConfig(config.Diff(old, updated))

	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
	p, err := f.app.Practice()
	if err != nil {
		t.Fatalf("Practice: %v", err)
	}
	if got := p.Settings(); got.Voice != "Kore" || got.Language != "jv-ID" {
		t.Errorf("practice settings = %+v, want voice Kore language jv-ID", got)
	}
}
