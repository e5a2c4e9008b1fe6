package server

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"

	"BarOracle/internal/cycle"
	"BarOracle/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("query")
	})
	return v
}

type historyQuery struct {
	Symbol string `query:"symbol" validate:"required"`
	Limit  int    `query:"limit" validate:"gte=1,lte=1000"`
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", fe.Field(), fe.Tag())
	}
}

type healthResponse struct {
	Status  string   `json:"status"`
	Symbols []string `json:"symbols"`
}

// handleHealth reports liveness.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Symbols: s.cfg.Symbols})
}

// handlePredictions returns recent predictions for a symbol, newest first.
// GET /api/predictions?symbol=X&limit=N
func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	q := historyQuery{Symbol: r.URL.Query().Get("symbol"), Limit: s.cfg.HistoryLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		q.Limit = n
	}
	if err := validate.StructCtx(r.Context(), &q); err != nil {
		s.writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	symbol, ok := s.symbol(q.Symbol)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown symbol "+q.Symbol)
		return
	}

	preds, err := s.cfg.History.MostRecent(r.Context(), symbol, q.Limit)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("failed to read predictions")
		s.writeError(w, http.StatusInternalServerError, "failed to read predictions")
		return
	}
	if preds == nil {
		preds = []model.Prediction{}
	}
	s.writeJSON(w, http.StatusOK, preds)
}

// handleStats returns win rates over each symbol's last HistoryLimit predictions.
// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := make([]model.Stats, 0, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		preds, err := s.cfg.History.MostRecent(r.Context(), symbol, s.cfg.HistoryLimit)
		if err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("failed to read predictions")
			s.writeError(w, http.StatusInternalServerError, "failed to read predictions")
			return
		}
		stats = append(stats, model.Summarize(symbol, preds, s.cfg.HistoryLimit))
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleTick runs one prediction cycle immediately.
// POST /api/symbols/{symbol}/tick
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbol(chi.URLParam(r, "symbol"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown symbol "+chi.URLParam(r, "symbol"))
		return
	}

	report, err := s.cfg.Ticker.Tick(r.Context(), symbol)
	var contract *model.FeatureContractError
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, report)
	case errors.Is(err, model.ErrDataUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, model.ErrArtifactMissing):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &contract):
		s.writeError(w, http.StatusConflict, err.Error())
	case report != nil && report.Final() != cycle.StateIdle:
		// Inference ran but the write failed; the report still carries the call.
		s.writeJSON(w, http.StatusInternalServerError, report)
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleModel describes the artifact serving a symbol.
// GET /api/symbols/{symbol}/model
func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbol(chi.URLParam(r, "symbol"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown symbol "+chi.URLParam(r, "symbol"))
		return
	}
	a, err := s.cfg.Models.Get(symbol, s.cfg.Interval)
	switch {
	case errors.Is(err, model.ErrArtifactMissing):
		s.writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.log.Error().Err(err).Str("symbol", symbol).Msg("failed to load model")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, a)
	}
}

// handleRetrain retrains the symbol's model and swaps it in.
// POST /api/symbols/{symbol}/retrain
func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Retrainer == nil {
		s.writeError(w, http.StatusNotImplemented, "retraining is not available")
		return
	}
	symbol, ok := s.symbol(chi.URLParam(r, "symbol"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown symbol "+chi.URLParam(r, "symbol"))
		return
	}
	a, err := s.cfg.Retrainer.Retrain(r.Context(), symbol, s.cfg.TrainPeriod, s.cfg.Interval)
	switch {
	case errors.Is(err, model.ErrDataUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, a)
	}
}
