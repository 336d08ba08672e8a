package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/wicara/internal/history"
	"github.com/MrWong99/wicara/internal/observe"
	"github.com/MrWong99/wicara/internal/script"
	"github.com/MrWong99/wicara/internal/session"
	"github.com/MrWong99/wicara/internal/speech"
	"github.com/MrWong99/wicara/pkg/audio"
	"github.com/MrWong99/wicara/pkg/provider/live"
	"github.com/MrWong99/wicara/pkg/provider/tts"
)

// maxBody caps JSON request bodies.
const maxBody = 1 << 20

// Handler returns the HTTP API:
//
//	POST   /api/scripts/sermon      draft a kultum
//	POST   /api/scripts/mc          draft an MC script
//	POST   /api/speech              synthesize text, respond with a WAV file
//	POST   /api/speech/play         synthesize text and play it locally
//	POST   /api/speech/stop         stop local playback
//	GET    /api/practice            practice state
//	POST   /api/practice/start      start a practice run
//	POST   /api/practice/stop       stop the practice run
//	POST   /api/practice/interrupt  discard the model's queued speech
//	GET    /api/history             list saved texts (?kind=&limit=)
//	GET    /api/history/{id}        fetch one saved text
//	DELETE /api/history/{id}        delete one saved text
//	GET    /ws                      live practice transcript
//	GET    /metrics                 Prometheus metrics
//	GET    /healthz, /readyz        probes
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/scripts/sermon", a.handleSermon)
	mux.HandleFunc("POST /api/scripts/mc", a.handleMC)
	mux.HandleFunc("POST /api/speech", a.handleSpeech)
	mux.HandleFunc("POST /api/speech/play", a.handleSpeechPlay)
	mux.HandleFunc("POST /api/speech/stop", a.handleSpeechStop)
	mux.HandleFunc("GET /api/practice", a.handlePracticeInfo)
	mux.HandleFunc("POST /api/practice/start", a.handlePracticeStart)
	mux.HandleFunc("POST /api/practice/stop", a.handlePracticeStop)
	mux.HandleFunc("POST /api/practice/interrupt", a.handlePracticeInterrupt)
	mux.HandleFunc("GET /api/history", a.handleHistoryList)
	mux.HandleFunc("GET /api/history/{id}", a.handleHistoryGet)
	mux.HandleFunc("DELETE /api/history/{id}", a.handleHistoryDelete)
	mux.Handle("GET /ws", a.feed)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// ── Scripts ───────────────────────────────────────────────────────────────────

type sermonRequest struct {
	Topic    string `json:"topic"`
	Tone     string `json:"tone"`
	Audience string `json:"audience"`
}

type mcRequest struct {
	Event  string `json:"event"`
	Tone   string `json:"tone"`
	Agenda string `json:"agenda"`
}

func (a *App) handleSermon(w http.ResponseWriter, r *http.Request) {
	var req sermonRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	res, err := a.Sermon(r.Context(), script.SermonRequest(req))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *App) handleMC(w http.ResponseWriter, r *http.Request) {
	var req mcRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	res, err := a.MC(r.Context(), script.MCRequest(req))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ── Speech ────────────────────────────────────────────────────────────────────

type speechRequest struct {
	Text string `json:"text"`
}

func (a *App) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if !decode(w, r, &req) {
		return
	}
	// Buffer so a failed synthesis can still answer with JSON.
	var buf bytes.Buffer
	if err := a.ExportSpeech(r.Context(), req.Text, &buf); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="wicara.wav"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (a *App) handleSpeechPlay(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.StartReading(r.Context(), req.Text); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"playing": true})
}

func (a *App) handleSpeechStop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": a.StopReading()})
}

// ── Practice ──────────────────────────────────────────────────────────────────

func (a *App) handlePracticeInfo(w http.ResponseWriter, r *http.Request) {
	p, err := a.Practice()
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Info())
}

func (a *App) handlePracticeStart(w http.ResponseWriter, r *http.Request) {
	p, err := a.Practice()
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	// The run outlives the request; only the connect is bound to it.
	if err := p.Start(r.Context()); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Info())
}

func (a *App) handlePracticeStop(w http.ResponseWriter, r *http.Request) {
	p, err := a.Practice()
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := p.Stop(); err != nil {
		observe.Logger(r.Context()).Warn("app: stop practice", "err", err)
	}
	writeJSON(w, http.StatusOK, p.Info())
}

func (a *App) handlePracticeInterrupt(w http.ResponseWriter, r *http.Request) {
	p, err := a.Practice()
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"flushed": p.Interrupt()})
}

// ── History ───────────────────────────────────────────────────────────────────

func (a *App) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := history.ParseKind(q.Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}
	entries, err := a.history.List(r.Context(), kind, limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *App) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := a.history.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *App) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.history.Delete(r.Context(), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// ── Helpers ───────────────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusOf maps a domain error to an HTTP status.
func statusOf(err error) int {
	var (
		de  *audio.DeviceError
		te  *live.TransportError
		dce *audio.DecodeError
	)
	switch {
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tts.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAlreadyStarted), errors.Is(err, speech.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable), errors.As(err, &de):
		return http.StatusServiceUnavailable
	case errors.As(err, &te), errors.As(err, &dce), errors.Is(err, speech.ErrNoAudio):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("app: request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("app: marshal response", "err", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
