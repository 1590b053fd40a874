package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"framevault/internal/generate"
	"framevault/internal/ledger"
	"framevault/internal/render"
	"framevault/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// webhook event kinds the ledger gateway emits for item changes.
var webhookEventKinds = map[string]struct{}{
	"minted":  {},
	"mutated": {},
}

// Deps carries everything the handlers need. Token, when non-empty, enables
// bearer auth on every route except the health probe.
type Deps struct {
	Driver         *generate.Driver
	Store          storage.Store
	Ledger         ledger.Client
	Token          string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewHandler builds the job server router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 2 * time.Minute
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth())

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/generate/{itemID}", handleGenerateOne(deps))
		r.Post("/generate/batch", handleGenerateBatch(deps))
		r.Post("/webhook/item-update", handleWebhook(deps))
		r.Get("/artifacts/{itemID}", handleGetArtifact(deps))
	})

	return r
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func handleGenerateOne(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID, ok := parseItemID(w, r)
		if !ok {
			return
		}

		h, joined, err := deps.Driver.Request(itemID)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", itemID, "%v", err)
			return
		}
		if joined {
			writeJSON(w, http.StatusAccepted, map[string]any{
				"message": "in progress",
				"itemId":  itemID,
			})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), deps.RequestTimeout)
		defer cancel()
		if _, err := h.Wait(ctx); err != nil {
			status := http.StatusInternalServerError
			errType := "generation_error"
			switch {
			case errors.Is(err, render.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
				errType = "timeout_error"
			case errors.Is(err, render.ErrUnavailable):
				errType = "renderer_unavailable"
			}
			httpError(w, status, errType, itemID, "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"itemId":           itemID,
			"artifactLocation": deps.Store.Location(itemID),
		})
	}
}

type batchRequest struct {
	ItemIDs []int64 `json:"itemIds"`
}

type batchItemResponse struct {
	ItemID           int64  `json:"itemId"`
	Success          bool   `json:"success"`
	ArtifactLocation string `json:"artifactLocation,omitempty"`
	Error            string `json:"error,omitempty"`
}

func handleGenerateBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", 0, "invalid request body: %v", err)
			return
		}
		if len(req.ItemIDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", 0, "itemIds must not be empty")
			return
		}
		if len(req.ItemIDs) > deps.Driver.MaxBatch() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", 0,
				"batch of %d items exceeds cap of %d", len(req.ItemIDs), deps.Driver.MaxBatch())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), deps.RequestTimeout)
		defer cancel()
		results, err := deps.Driver.GenerateBatch(ctx, req.ItemIDs)
		if err != nil {
			// Cap and emptiness are pre-checked; anything here is unexpected.
			httpError(w, http.StatusInternalServerError, "api_error", 0, "%v", err)
			return
		}

		out := make([]batchItemResponse, len(results))
		for i, res := range results {
			out[i] = batchItemResponse{ItemID: res.ItemID, Success: res.Err == nil}
			if res.Err != nil {
				out[i].Error = res.Err.Error()
				continue
			}
			out[i].ArtifactLocation = deps.Store.Location(res.ItemID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": out})
	}
}

type webhookRequest struct {
	ItemID    int64  `json:"itemId"`
	EventKind string `json:"eventKind"`
}

func handleWebhook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req webhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", 0, "invalid request body: %v", err)
			return
		}
		if req.ItemID <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", req.ItemID, "itemId must be a positive integer")
			return
		}
		if _, ok := webhookEventKinds[req.EventKind]; !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", req.ItemID, "unknown eventKind %q", req.EventKind)
			return
		}

		// Fire and forget: acknowledge now, generate in the background. The
		// episode runs on its own detached context, so the outcome lands in
		// logs, not in this response.
		eventID := uuid.New().String()
		h, joined, err := deps.Driver.Request(req.ItemID)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", req.ItemID, "%v", err)
			return
		}
		logger := deps.Logger.With("event", eventID, "item", req.ItemID, "kind", req.EventKind)
		if joined {
			logger.Info("webhook joined in-flight generation")
		} else {
			logger.Info("webhook queued generation")
		}
		go func() {
			if _, err := h.Wait(context.Background()); err != nil {
				logger.Warn("webhook generation failed", "error", err)
				return
			}
			logger.Info("webhook generation complete")
		}()

		writeJSON(w, http.StatusOK, map[string]any{
			"message":   "queued",
			"itemId":    req.ItemID,
			"eventKind": req.EventKind,
		})
	}
}

func handleGetArtifact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID, ok := parseItemID(w, r)
		if !ok {
			return
		}

		meta, err := deps.Store.Stat(r.Context(), itemID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", itemID, "no artifact for item %d", itemID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", itemID, "%v", err)
			return
		}

		body := map[string]any{
			"itemId":           meta.ItemID,
			"width":            meta.Width,
			"height":           meta.Height,
			"frameCount":       meta.FrameCount,
			"mutationCount":    meta.MutationCount,
			"renderedAt":       meta.RenderedAt.UTC().Format(time.RFC3339),
			"artifactLocation": deps.Store.Location(meta.ItemID),
		}
		// Best effort: compare against the live ledger when a client is wired.
		if deps.Ledger != nil {
			if mutations, err := deps.Ledger.MutationCount(r.Context(), itemID); err == nil {
				body["ledgerMutationCount"] = mutations
				body["stale"] = mutations != meta.MutationCount
			}
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func parseItemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "itemID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", 0, "item id %q must be a positive integer", raw)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// httpError writes the error envelope. itemID 0 means the failure is not
// attributable to a single item.
func httpError(w http.ResponseWriter, code int, errType string, itemID int64, format string, args ...any) {
	body := map[string]any{
		"error":   errType,
		"message": fmt.Sprintf(format, args...),
	}
	if itemID != 0 {
		body["itemId"] = itemID
	}
	writeJSON(w, code, body)
}
