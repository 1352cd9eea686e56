package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/bms-acquisition/db"
	"github.com/thatsimonsguy/bms-acquisition/internal/config"
	"github.com/thatsimonsguy/bms-acquisition/internal/model"
	"github.com/thatsimonsguy/bms-acquisition/internal/telemetry"
	"github.com/thatsimonsguy/bms-acquisition/internal/temperature"
)

const (
	defaultHistory = 10
	maxHistory     = 1000
)

type Server struct {
	latest   *telemetry.Latest
	db       *sql.DB
	config   *config.Config
	channels *temperature.Monitor
	started  time.Time
}

type VoltagesResponse struct {
	Seq      uint64              `json:"seq"`
	Voltages model.VoltageMatrix `json:"voltages"`
}

type TemperaturesResponse struct {
	Seq     uint64                  `json:"seq"`
	Tenths  model.TemperatureMatrix `json:"tenths"`
	Celsius [][]float64             `json:"celsius"`
}

type DeviceResponse struct {
	Device       int       `json:"device"`
	Seq          uint64    `json:"seq"`
	Voltages     []int32   `json:"voltages"`
	RawAux       []uint16  `json:"raw_aux"`
	Temperatures []int16   `json:"temperatures"`
	Celsius      []float64 `json:"celsius"`
}

type StatusResponse struct {
	Ready       bool          `json:"ready"`
	Seq         uint64        `json:"seq"`
	Fault       bool          `json:"fault"`
	Errors      int           `json:"errors"`
	LastCycleAt time.Time     `json:"last_cycle_at"`
	Dims        model.Dims    `json:"dims"`
	ADCMode     string        `json:"adc_mode"`
	Period      time.Duration `json:"period_ns"`
	Uptime      string        `json:"uptime"`
}

type ChannelsResponse struct {
	Disabled int                         `json:"disabled"`
	Channels []temperature.ChannelStatus `json:"channels"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the read-only API. database may be nil, which disables history.
func NewServer(latest *telemetry.Latest, database *sql.DB, cfg *config.Config) *Server {
	return &Server{
		latest:  latest,
		db:      database,
		config:  cfg,
		started: time.Now(),
	}
}

// SetChannelMonitor exposes thermistor channel health on /api/channels.
func (s *Server) SetChannelMonitor(m *temperature.Monitor) {
	s.channels = m
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)
	r.Use(requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/cycle", s.getCycle)
		r.Get("/voltages", s.getVoltages)
		r.Get("/temperatures", s.getTemperatures)
		r.Get("/devices/{device}", s.getDevice)
		r.Get("/history", s.getHistory)
		r.Get("/status", s.getStatus)
		r.Get("/channels", s.getChannels)
	})
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", addr).Msg("Starting REST API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("API request")
	})
}

func (s *Server) current(w http.ResponseWriter) (model.Cycle, bool) {
	cycle, ok := s.latest.Get()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, "No cycle completed yet")
	}
	return cycle, ok
}

func (s *Server) getCycle(w http.ResponseWriter, r *http.Request) {
	cycle, ok := s.current(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, cycle)
}

func (s *Server) getVoltages(w http.ResponseWriter, r *http.Request) {
	cycle, ok := s.current(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, VoltagesResponse{Seq: cycle.Seq, Voltages: cycle.Voltages})
}

func (s *Server) getTemperatures(w http.ResponseWriter, r *http.Request) {
	cycle, ok := s.current(w)
	if !ok {
		return
	}

	celsius := make([][]float64, len(cycle.Temperatures))
	for d, row := range cycle.Temperatures {
		celsius[d] = toCelsius(row)
	}
	s.writeJSON(w, http.StatusOK, TemperaturesResponse{Seq: cycle.Seq, Tenths: cycle.Temperatures, Celsius: celsius})
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	device, err := strconv.Atoi(chi.URLParam(r, "device"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Device must be an integer")
		return
	}

	cycle, ok := s.current(w)
	if !ok {
		return
	}
	if device < 0 || device >= len(cycle.Voltages) || device >= len(cycle.Temperatures) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Device %d not in chain", device))
		return
	}

	s.writeJSON(w, http.StatusOK, DeviceResponse{
		Device:       device,
		Seq:          cycle.Seq,
		Voltages:     cycle.Voltages[device],
		RawAux:       cycle.RawAux[device],
		Temperatures: cycle.Temperatures[device],
		Celsius:      toCelsius(cycle.Temperatures[device]),
	})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeError(w, http.StatusServiceUnavailable, "History storage disabled")
		return
	}

	limit := defaultHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit. Must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxHistory {
		limit = maxHistory
	}

	cycles, err := db.GetRecentCycles(s.db, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read cycle history")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, cycles)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Dims:    s.config.Dims(),
		ADCMode: s.config.ADCMode().String(),
		Period:  s.config.Acquisition.Period,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if cycle, ok := s.latest.Get(); ok {
		resp.Ready = true
		resp.Seq = cycle.Seq
		resp.Fault = cycle.Fault
		resp.Errors = cycle.Errors
		resp.LastCycleAt = cycle.StartedAt
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getChannels(w http.ResponseWriter, r *http.Request) {
	if s.channels == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Channel monitor disabled")
		return
	}
	s.writeJSON(w, http.StatusOK, ChannelsResponse{
		Disabled: s.channels.DisabledChannels(),
		Channels: s.channels.Status(),
	})
}

func toCelsius(tenths []int16) []float64 {
	out := make([]float64, len(tenths))
	for i, t := range tenths {
		out[i] = float64(t) / 10
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
