package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/manningwu07/namer/dataset"
	"github.com/manningwu07/namer/decode"
	"github.com/manningwu07/namer/model"
	"github.com/manningwu07/namer/params"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PredictRequest carries a method body as whitespace separated subtokens or
// as vocabulary ids. Zero overrides fall back to the run's beam config.
type PredictRequest struct {
	Body      string `json:"body,omitempty"`
	IDs       []int  `json:"ids,omitempty"`
	BeamWidth int    `json:"beam_width,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
}

type Prediction struct {
	Name   string   `json:"name"`
	Tokens []string `json:"tokens"`
	IDs    []int    `json:"ids"`
	Score  float64  `json:"score"`
}

type PredictResponse struct {
	Predictions []Prediction `json:"predictions"`
}

type Server struct {
	Model  *model.Model
	Logger *slog.Logger

	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	latency  prometheus.Summary
}

// New serves m. Metrics are registered on reg, or on a fresh registry when
// reg is nil.
func New(m *model.Model, reg *prometheus.Registry) *Server {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Server{
		Model:    m,
		Logger:   slog.Default(),
		reg:      reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{Name: "namer_predict_requests_total", Help: "Prediction requests by status"}, []string{"status"}),
		latency:  f.NewSummary(prometheus.SummaryOpts{Name: "namer_predict_seconds", Help: "Prediction latency"}),
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/predict", s.Predict)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJsonResponse(w, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) Predict(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(s.latency)
	defer timer.ObserveDuration()

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Sprintf("Error parsing request body: %v", err))
		return
	}
	ids := req.IDs
	if len(ids) == 0 {
		ids = s.Model.Vocab.Tokenize(req.Body)
	}
	if len(ids) == 0 {
		s.fail(w, http.StatusBadRequest, "Either 'body' or 'ids' must be non empty.")
		return
	}

	beam := s.Model.Beam
	if req.BeamWidth > 0 {
		beam.BeamWidth = req.BeamWidth
	}
	if req.MaxLength > 0 {
		beam.MaxDecodeLength = req.MaxLength
	}
	cands, err := decode.Decode(s.Model, ids, decode.OptionsFrom(beam, s.Model.EndID))
	switch {
	case errors.Is(err, params.ErrConfiguration):
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, decode.ErrDecode):
		s.fail(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.fail(w, http.StatusInternalServerError, err.Error())
		return
	}

	res := PredictResponse{Predictions: make([]Prediction, 0, len(cands))}
	for _, c := range cands {
		res.Predictions = append(res.Predictions, s.prediction(c))
	}
	s.requests.WithLabelValues("ok").Inc()
	writeJsonResponse(w, res)
}

func (s *Server) prediction(c decode.Candidate) Prediction {
	p := Prediction{Score: c.Score, IDs: []int{}, Tokens: []string{}}
	for _, id := range c.Tokens {
		if id == dataset.PadID || id == s.Model.StartID || id == s.Model.EndID {
			continue
		}
		p.IDs = append(p.IDs, id)
		p.Tokens = append(p.Tokens, s.Model.Vocab.Token(id))
	}
	p.Name = CamelCase(p.Tokens)
	return p
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	s.requests.WithLabelValues(http.StatusText(status)).Inc()
	s.Logger.Warn("predict request failed", "status", status, "error", msg)
	http.Error(w, msg, status)
}

// CamelCase joins name subtokens into an identifier: [get user id] -> getUserId.
func CamelCase(tokens []string) string {
	var sb strings.Builder
	for i, t := range tokens {
		t = strings.ToLower(t)
		if i == 0 {
			sb.WriteString(t)
			continue
		}
		r, size := utf8.DecodeRuneInString(t)
		sb.WriteRune(unicode.ToUpper(r))
		sb.WriteString(t[size:])
	}
	return sb.String()
}

func writeJsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("error serializing response body", "error", err)
	}
}
