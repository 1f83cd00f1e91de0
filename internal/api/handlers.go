package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/featurestore/internal/featurestore"
	"github.com/aristath/featurestore/internal/featurestore/metrics"
	fs "github.com/aristath/featurestore/internal/fstypes"
)

type handlers struct {
	facade      *featurestore.Facade
	metricsSink *metrics.MemorySink
	log         zerolog.Logger
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.log, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.metricsSink == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(h.metricsSink.Dump())); err != nil {
		h.log.Error().Err(err).Msg("writing metrics dump")
	}
}

// featuresRequest is the wire shape of POST /api/features.
type featuresRequest struct {
	Ticker       string   `json:"ticker"`
	AsOf         string   `json:"as_of"` // RFC3339
	FeatureNames []string `json:"feature_names"`
	TTLOverrideS *float64 `json:"ttl_override_seconds,omitempty"`
	Partial      bool     `json:"partial"`
}

type featureResultDTO struct {
	Value        *float64               `json:"value,omitempty"`
	Absent       bool                   `json:"absent"`
	CalculatedAt string                 `json:"calculated_at,omitempty"`
	SourceTier   string                 `json:"source_tier,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// telemetryDTO mirrors featurestore.Telemetry, the per-call summary
// spec.md §6's external interface promises alongside the features map.
type telemetryDTO struct {
	CacheHits        int               `json:"cache_hits"`
	CacheMisses      int               `json:"cache_misses"`
	Computed         int               `json:"computed"`
	LatencyMS        float64           `json:"latency_ms"`
	SourcePerFeature map[string]string `json:"source_per_feature"`
}

func (h *handlers) handleGetFeatures(w http.ResponseWriter, r *http.Request) {
	var req featuresRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(h.log, w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		parsed, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			writeJSON(h.log, w, http.StatusBadRequest, map[string]string{"error": "invalid as_of: " + err.Error()})
			return
		}
		asOf = parsed
	}

	opts := featurestore.Options{Partial: req.Partial}
	if req.TTLOverrideS != nil {
		d := time.Duration(*req.TTLOverrideS * float64(time.Second))
		opts.TTLOverride = &d
	}

	resp, err := h.facade.GetFeatures(r.Context(), featurestore.GetFeaturesRequest{
		Ticker:       req.Ticker,
		AsOf:         asOf,
		FeatureNames: req.FeatureNames,
		Options:      opts,
	})
	if err != nil {
		writeJSON(h.log, w, statusForError(err), map[string]string{"error": err.Error()})
		return
	}

	out := make(map[string]featureResultDTO, len(resp.Features))
	for name, fr := range resp.Features {
		dto := featureResultDTO{Absent: fr.Value.Absent}
		if fr.Err != nil {
			dto.Error = fr.Err.Error()
		} else {
			if !fr.Value.Absent {
				v := fr.Value.Value
				dto.Value = &v
			}
			dto.CalculatedAt = fr.Value.CalculatedAt.Format(time.RFC3339)
			dto.SourceTier = string(fr.Value.SourceTier)
			dto.Metadata = fr.Value.Metadata
		}
		out[name] = dto
	}
	telemetry := telemetryDTO{
		CacheHits:        resp.Telemetry.CacheHits,
		CacheMisses:      resp.Telemetry.CacheMisses,
		Computed:         resp.Telemetry.Computed,
		LatencyMS:        resp.Telemetry.LatencyMS,
		SourcePerFeature: resp.Telemetry.SourcePerFeature,
	}
	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{"features": out, "telemetry": telemetry})
}

type warmRequest struct {
	Tickers      []string `json:"tickers"`
	FeatureNames []string `json:"feature_names"`
	AsOf         string   `json:"as_of"`
}

func (h *handlers) handleWarm(w http.ResponseWriter, r *http.Request) {
	var req warmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(h.log, w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	asOf := time.Now().UTC()
	if req.AsOf != "" {
		parsed, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			writeJSON(h.log, w, http.StatusBadRequest, map[string]string{"error": "invalid as_of: " + err.Error()})
			return
		}
		asOf = parsed
	}
	if err := h.facade.Warm(r.Context(), req.Tickers, req.FeatureNames, asOf); err != nil {
		writeJSON(h.log, w, statusForError(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(h.log, w, http.StatusAccepted, map[string]string{"status": "warmed"})
}

type invalidateRequest struct {
	Ticker      string `json:"ticker"`
	FeatureName string `json:"feature_name"`
	From        string `json:"from"`
	To          string `json:"to"`
}

func (h *handlers) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(h.log, w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		writeJSON(h.log, w, http.StatusBadRequest, map[string]string{"error": "invalid from: " + err.Error()})
		return
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		writeJSON(h.log, w, http.StatusBadRequest, map[string]string{"error": "invalid to: " + err.Error()})
		return
	}
	if err := h.facade.Invalidate(r.Context(), req.Ticker, req.FeatureName, from, to); err != nil {
		writeJSON(h.log, w, statusForError(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, fs.ErrUnknownFeature), errors.Is(err, fs.ErrUnknownTicker):
		return http.StatusNotFound
	case errors.Is(err, fs.ErrOverloaded):
		return http.StatusTooManyRequests
	case errors.Is(err, fs.ErrDeadline):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(log zerolog.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}
