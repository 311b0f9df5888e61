package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/roach88/certsync/internal/feed"
	"github.com/roach88/certsync/internal/identity"
	"github.com/roach88/certsync/internal/model"
	"github.com/roach88/certsync/internal/reconciler"
)

// WebhookChannel tags events received over HTTP.
const WebhookChannel = "webhook"

// Response models

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	Loaded        bool   `json:"loaded"`
	Version       int64  `json:"version"`
	FeedConnected *bool  `json:"feed_connected,omitempty"`
}

// StatsResponse is returned by /v1/stats.
type StatsResponse struct {
	reconciler.Stats
	FeedReceived *int64 `json:",omitempty"`
}

// CountsResponse maps trainer primary keys to pending counts.
type CountsResponse struct {
	Version int64          `json:"version"`
	Loaded  bool           `json:"loaded"`
	Counts  map[string]int `json:"counts"`
}

// TrainerResponse is a trainer with its pending count.
type TrainerResponse struct {
	ID              string   `json:"id"`
	UserID          string   `json:"userId,omitempty"`
	Name            string   `json:"name,omitempty"`
	Status          string   `json:"status,omitempty"`
	Specializations []string `json:"specializations"`
	PendingCount    int      `json:"pendingCount"`
}

// TrainersResponse lists trainers.
type TrainersResponse struct {
	Version  int64             `json:"version"`
	Trainers []TrainerResponse `json:"trainers"`
}

// PendingResponse lists one trainer's pending certifications.
type PendingResponse struct {
	TrainerID      string                      `json:"trainerId"`
	Count          int                         `json:"count"`
	Certifications []model.CertificationRecord `json:"certifications"`
}

// AcceptedResponse acknowledges a webhook event.
type AcceptedResponse struct {
	Accepted bool   `json:"accepted"`
	EventID  string `json:"eventId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type handlers struct {
	rec Reconciler
	cfg *serverConfig
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	snap := h.rec.Snapshot()
	resp := HealthResponse{Status: "ok", Loaded: snap.Loaded, Version: snap.Version}
	if h.cfg.feed != nil {
		up := h.cfg.feed.Connected()
		resp.FeedConnected = &up
	}
	writeJSON(w, resp, http.StatusOK)
}

func (h *handlers) pendingCounts(w http.ResponseWriter, _ *http.Request) {
	snap := h.rec.Snapshot()
	writeJSON(w, CountsResponse{Version: snap.Version, Loaded: snap.Loaded, Counts: snap.Counts}, http.StatusOK)
}

func (h *handlers) listTrainers(w http.ResponseWriter, _ *http.Request) {
	snap := h.rec.Snapshot()
	resp := TrainersResponse{Version: snap.Version, Trainers: make([]TrainerResponse, 0, len(snap.Trainers))}
	for _, t := range snap.Trainers {
		resp.Trainers = append(resp.Trainers, trainerResponse(t, snap.CountFor(t.ID)))
	}
	writeJSON(w, resp, http.StatusOK)
}

func (h *handlers) getTrainer(w http.ResponseWriter, r *http.Request) {
	snap := h.rec.Snapshot()
	key, ok := resolveParam(w, r, snap)
	if !ok {
		return
	}
	t, found := snap.Trainer(key)
	if !found {
		writeError(w, "trainer not found", http.StatusNotFound)
		return
	}
	writeJSON(w, trainerResponse(t, snap.CountFor(key)), http.StatusOK)
}

func (h *handlers) trainerPending(w http.ResponseWriter, r *http.Request) {
	snap := h.rec.Snapshot()
	key, ok := resolveParam(w, r, snap)
	if !ok {
		return
	}
	recs := snap.PendingFor(key)
	if recs == nil {
		recs = []model.CertificationRecord{}
	}
	writeJSON(w, PendingResponse{TrainerID: key, Count: snap.CountFor(key), Certifications: recs}, http.StatusOK)
}

func (h *handlers) stats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{Stats: h.rec.Stats()}
	if h.cfg.feed != nil {
		n := h.cfg.feed.Received()
		resp.FeedReceived = &n
	}
	writeJSON(w, resp, http.StatusOK)
}

// postEnvelope accepts {"type": "certification.created", "payload": {...}}.
func (h *handlers) postEnvelope(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	ev, err := feed.DecodeMessage(body, WebhookChannel)
	if errors.Is(err, feed.ErrIgnored) {
		writeJSON(w, AcceptedResponse{Accepted: false, Reason: err.Error()}, http.StatusAccepted)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.submit(w, ev)
}

// postEvent accepts a bare certification payload for the kind in the path.
func (h *handlers) postEvent(w http.ResponseWriter, r *http.Request) {
	kind, ok := model.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, fmt.Sprintf("unknown event kind %q", chi.URLParam(r, "kind")), http.StatusNotFound)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	payload, err := model.DecodeObject(body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ev, err := model.ParseEvent(kind, payload)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ev.ID == "" {
		ev.ID = r.Header.Get("X-Event-Id")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.Channel = WebhookChannel
	h.submit(w, ev)
}

func (h *handlers) submit(w http.ResponseWriter, ev model.Event) {
	if err := h.rec.Submit(ev); err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, AcceptedResponse{Accepted: true, EventID: ev.ID}, http.StatusAccepted)
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.refreshTimeout)
	defer cancel()

	err := h.rec.Refresh(ctx)
	switch {
	case err == nil:
		snap := h.rec.Snapshot()
		writeJSON(w, CountsResponse{Version: snap.Version, Loaded: snap.Loaded, Counts: snap.Counts}, http.StatusOK)
	case reconciler.IsTransientFetch(err):
		writeError(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, "refresh timed out", http.StatusGatewayTimeout)
	default:
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	}
}

// resolveParam reads the {id} parameter and maps it onto a primary key,
// accepting either trainer identifier.
func resolveParam(w http.ResponseWriter, r *http.Request, snap *reconciler.Snapshot) (string, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || strings.TrimSpace(raw) == "" {
		writeError(w, "invalid trainer id", http.StatusBadRequest)
		return "", false
	}
	return identity.Resolve(raw, snap.Trainers).Key, true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, "request body too large or unreadable", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return body, true
}

func trainerResponse(t model.Trainer, count int) TrainerResponse {
	specs := t.Specializations
	if specs == nil {
		specs = []string{}
	}
	return TrainerResponse{
		ID:              t.ID,
		UserID:          t.UserID,
		Name:            t.Name,
		Status:          t.Status,
		Specializations: specs,
		PendingCount:    count,
	}
}

func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}
