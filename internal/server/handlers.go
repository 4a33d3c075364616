package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"gatewayz/internal/cache"
	"gatewayz/internal/domain"
	"gatewayz/internal/metrics"
	"gatewayz/internal/usage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": int64(time.Since(s.started).Seconds()),
		"bucket": usage.CurrentBucket(),
	})
}

// resolveBucket validates an optional ?bucket= parameter and falls back to
// the current hour. A malformed bucket is a client error, not an empty
// result.
func resolveBucket(r *http.Request) (string, error) {
	bucket := r.URL.Query().Get("bucket")
	if bucket == "" {
		return usage.CurrentBucket(), nil
	}
	if _, err := usage.BucketStart(bucket); err != nil {
		return "", fmt.Errorf("invalid bucket %q", bucket)
	}
	return bucket, nil
}

func (s *Server) handleModelMetrics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	bucket, err := resolveBucket(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := cache.Aside(r.Context(), s.store, cache.ModelKey(id, bucket), s.ttl.model, "model_metrics",
		func(ctx context.Context) (*domain.ModelMetrics, error) {
			return s.agg.ModelMetrics(id, bucket)
		})
	if err != nil {
		s.writeDataError(w, err, "model metrics")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleProviderSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	bucket, err := resolveBucket(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := cache.Aside(r.Context(), s.store, cache.ProviderKey(id, bucket), s.ttl.provider, "provider_summary",
		func(ctx context.Context) (*domain.ProviderSummary, error) {
			return s.agg.ProviderSummary(id, bucket)
		})
	if err != nil {
		s.writeDataError(w, err, "provider summary")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 10
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
			return
		}
		limit = n
	}

	order := q.Get("order")
	if order == "" {
		order = domain.OrderDesc
	}
	if !domain.ValidOrder(order) {
		writeError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	bucket, err := resolveBucket(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := cache.Aside(r.Context(), s.store, cache.LeaderboardKey(limit, order, bucket), s.ttl.leaderboard, "leaderboard",
		func(ctx context.Context) ([]domain.LeaderboardEntry, error) {
			out, err := s.agg.HealthLeaderboard(limit, order, bucket)
			if err != nil {
				return nil, err
			}
			for i := range out {
				out[i].DisplayName = s.cat.ProviderName(out[i].Provider)
			}
			return out, nil
		})
	if err != nil {
		s.writeDataError(w, err, "leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bucket":  bucket,
		"order":   order,
		"entries": entries,
	})
}

func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var sample domain.RequestSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if sample.Model == "" && sample.Provider == "" {
		writeError(w, http.StatusBadRequest, "model or provider is required")
		return
	}

	// Fire-and-forget: the reporter gets its 202 before the sample lands.
	go func() {
		s.agg.RecordRequestComplete(sample)
		metrics.UsageRecords.Inc()
	}()

	w.WriteHeader(http.StatusAccepted)
}

type saveMessageRequest struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Model     string `json:"model,omitempty"`
	TokensIn  int64  `json:"tokens_in,omitempty"`
	TokensOut int64  `json:"tokens_out,omitempty"`
}

func (s *Server) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req saveMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	switch req.Role {
	case "user", "assistant", "system":
	default:
		writeError(w, http.StatusBadRequest, "role must be one of: user, assistant, system")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	id, err := s.hist.SaveMessage(r.Context(), domain.ChatMessage{
		SessionID: sessionID,
		Role:      req.Role,
		Content:   req.Content,
		Model:     req.Model,
		TokensIn:  req.TokensIn,
		TokensOut: req.TokensOut,
	})
	if err != nil {
		s.logger.Error("save message failed", "session", sessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// The write succeeded no matter what happens to the eviction.
	s.inv.OnMessageSave(sessionID)

	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	limit, err := parseLimit(r, 50, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := s.hist.Messages(r.Context(), sessionID, limit)
	if err != nil {
		s.logger.Error("list messages failed", "session", sessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	stats, err := cache.Aside(r.Context(), s.store, cache.StatsKey(sessionID), s.ttl.stats, "session_stats",
		func(ctx context.Context) (*domain.SessionStats, error) {
			return s.hist.SessionStats(ctx, sessionID)
		})
	if err != nil {
		s.writeDataError(w, err, "session stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, err := parseLimit(r, 20, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := cache.SearchKey(sessionID, fmt.Sprintf("%s:%d", query, limit))
	msgs, err := cache.Aside(r.Context(), s.store, key, s.ttl.search, "session_search",
		func(ctx context.Context) ([]domain.ChatMessage, error) {
			return s.hist.SearchMessages(ctx, sessionID, query, limit)
		})
	if err != nil {
		s.writeDataError(w, err, "search")
		return
	}
	// Register the entry so the next write to this session evicts it.
	s.inv.TrackSearchKey(sessionID, key)

	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleCatalogModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.cat.Models()})
}

func (s *Server) handleCatalogProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.cat.Providers()})
}

type notifyRequest struct {
	Content     string   `json:"content"`
	Model       string   `json:"model,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "outbound queue is not configured")
		return
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if s.queue.HasDuplicatePending(req.Content) {
		writeError(w, http.StatusConflict, "identical message already pending")
		return
	}

	id := s.queue.Enqueue(req.Content, req.Model, req.Attachments)
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "outbound queue is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.queue.Messages()})
}

func (s *Server) handleQueueDequeue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "outbound queue is not configured")
		return
	}
	id := r.PathValue("id")
	if !s.queue.Dequeue(id) {
		writeError(w, http.StatusConflict, "message is not pending or does not exist")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeDataError maps a read-path failure: missing data is 404, everything
// else is an internal error.
func (s *Server) writeDataError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, domain.ErrNoData) {
		writeError(w, http.StatusNotFound, "no data")
		return
	}
	s.logger.Error(what+" failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseLimit(r *http.Request, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > ceiling {
		return 0, fmt.Errorf("limit must be an integer between 1 and %d", ceiling)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
