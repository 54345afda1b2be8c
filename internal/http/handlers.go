package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/campus-parking/internal/alloc"
	"github.com/example/campus-parking/internal/cache"
	"github.com/example/campus-parking/internal/config"
	"github.com/example/campus-parking/internal/dispatch"
	"github.com/example/campus-parking/internal/events"
	"github.com/example/campus-parking/internal/ledger"
	"github.com/example/campus-parking/internal/logging"
	"github.com/example/campus-parking/internal/match"
	"github.com/example/campus-parking/internal/models"
	"github.com/example/campus-parking/internal/payments"
	"github.com/example/campus-parking/internal/rental"
	"github.com/example/campus-parking/internal/scoring"
	"github.com/example/campus-parking/internal/storage"
)

type Server struct {
	Registry    *match.Registry
	Ranker      *match.Ranker
	Ledger      *ledger.Ledger
	Manager     *rental.Manager
	Coordinator *alloc.Coordinator
	WSReg       *dispatch.WSRegistry

	cfg    config.ServerConfig
	logger *slog.Logger
	mux    *mux.Router
}

// wsBridge feeds engine events into the websocket registry alongside
// the primary bus.
type wsBridge struct{ reg *dispatch.WSRegistry }

func (b wsBridge) Publish(ev events.Event) error {
	b.reg.Forward(ev)
	return nil
}

// NewServer wires the engine from configuration. Redis, Kafka, and
// Postgres are optional; missing ones fall back to in-process
// implementations so the binary runs locally without setup.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, gateway payments.Gateway) *Server {
	var sc cache.ScoreCache
	if cfg.RedisAddr != "" {
		sc = cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.ScoreCacheTTL)
	} else {
		sc = cache.NewMemory(cfg.ScoreCacheTTL)
	}

	var store storage.RentalStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Error("postgres unavailable, using memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	wsreg := dispatch.NewWSRegistry()
	var primary events.Bus
	if len(cfg.KafkaBrokers) > 0 {
		primary = events.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic)
	} else {
		primary = events.NewMemoryBus()
	}
	bus := events.Fanout{primary, wsBridge{wsreg}}

	led := ledger.New()
	registry := match.NewRegistry()
	ranker := match.NewRanker(registry, sc, bus, logging.ForComponent(logger, "ranker"))
	mgr := rental.NewManager(store, led, gateway, bus, logging.ForComponent(logger, "lifecycle"), rental.Config{
		RetryAttempts:          cfg.PaymentRetryAttempts,
		RetryDelay:             cfg.PaymentRetryDelay,
		FullRefundLeadTime:     cfg.FullRefundLeadTime,
		PlatformFeeBps:         cfg.PlatformFeeBps,
		LateCancelPenaltyCents: cfg.LateCancelPenaltyCents,
		Currency:               "usd",
	})
	coord := alloc.New(mgr, led, store, bus, logging.ForComponent(logger, "coordinator"), alloc.Config{
		AcceptTimeout: cfg.ReassignAcceptTimeout,
		CreditCents:   cfg.ReassignCreditCents,
	})

	s := &Server{
		Registry:    registry,
		Ranker:      ranker,
		Ledger:      led,
		Manager:     mgr,
		Coordinator: coord,
		WSReg:       wsreg,
		cfg:         cfg,
		logger:      logger,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/schedules", s.handleScheduleUpsert).Methods("POST")
	s.mux.HandleFunc("/api/v1/matches/{user_id}", s.handleTopMatches).Methods("GET")
	s.mux.HandleFunc("/api/v1/spots", s.handleSpotRegister).Methods("POST")
	s.mux.HandleFunc("/api/v1/spots", s.handleSpotQuery).Methods("GET")
	s.mux.HandleFunc("/api/v1/rentals", s.handleRentalCreate).Methods("POST")
	s.mux.HandleFunc("/api/v1/rentals/{id}", s.handleRentalGet).Methods("GET")
	s.mux.HandleFunc("/api/v1/rentals/{id}/confirm", s.handleRentalConfirm).Methods("POST")
	s.mux.HandleFunc("/api/v1/rentals/{id}/complete", s.handleRentalComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/rentals/{id}/cancel", s.handleRentalCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/rentals/{id}/dispute", s.handleRentalDispute).Methods("POST")
	s.mux.HandleFunc("/api/v1/rentals/{id}/resolve", s.handleRentalResolve).Methods("POST")
	s.mux.HandleFunc("/api/v1/rentals/{id}/reassignment/accept", s.handleReassignAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/rentals/{id}/reassignment/reject", s.handleReassignReject).Methods("POST")
	s.mux.HandleFunc("/api/v1/reports/blocked-spot", s.handleBlockedSpotReport).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleScheduleUpsert(w http.ResponseWriter, r *http.Request) {
	var p models.ScheduleProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := scoring.ValidateProfile(p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stored := s.Registry.Upsert(p)
	s.Ranker.Invalidate(p.UserID)
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleTopMatches(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	kind := scoring.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = scoring.KindTandem
	}
	limit := s.cfg.MatchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	matches, err := s.Ranker.TopMatches(r.Context(), userID, kind, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "kind": kind, "matches": matches})
}

func (s *Server) handleSpotRegister(w http.ResponseWriter, r *http.Request) {
	var sp models.Spot
	if err := json.NewDecoder(r.Body).Decode(&sp); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if sp.ID == "" || sp.Lot == "" {
		http.Error(w, "spot id and lot are required", http.StatusBadRequest)
		return
	}
	s.Ledger.Register(sp)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpotQuery(w http.ResponseWriter, r *http.Request) {
	lot := r.URL.Query().Get("lot")
	date := r.URL.Query().Get("date")
	writeJSON(w, http.StatusOK, s.Ledger.Query(lot, date))
}

func (s *Server) handleRentalCreate(w http.ResponseWriter, r *http.Request) {
	var cmd rental.CreateCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rr, err := s.Manager.Create(r.Context(), cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rr)
}

func (s *Server) handleRentalGet(w http.ResponseWriter, r *http.Request) {
	rr, err := s.Manager.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rr)
}

func (s *Server) handleRentalConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.Manager.Confirm(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRentalComplete(w http.ResponseWriter, r *http.Request) {
	if err := s.Manager.Complete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRentalCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CancellerID string `json:"canceller_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Manager.Cancel(r.Context(), mux.Vars(r)["id"], body.CancellerID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRentalDispute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.Manager.Dispute(r.Context(), mux.Vars(r)["id"], body.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRentalResolve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Decision rental.Resolution `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Manager.Resolve(r.Context(), mux.Vars(r)["id"], body.Decision); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReassignAccept(w http.ResponseWriter, r *http.Request) {
	if !s.Coordinator.Accept(mux.Vars(r)["id"]) {
		http.Error(w, "no outstanding reassignment offer", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReassignReject(w http.ResponseWriter, r *http.Request) {
	if !s.Coordinator.Reject(mux.Vars(r)["id"]) {
		http.Error(w, "no outstanding reassignment offer", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBlockedSpotReport kicks off reassignment in the background; the
// report/dispute collaborator gets an immediate accepted response and
// learns the outcome from the event stream.
func (s *Server) handleBlockedSpotReport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RentalID string `json:"rental_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RentalID == "" {
		http.Error(w, "rental_id is required", http.StatusBadRequest)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReassignAcceptTimeout+time.Minute)
		defer cancel()
		if err := s.Coordinator.HandleBlockedSpot(ctx, body.RentalID); err != nil {
			s.logger.Error("blocked spot handling failed", "rental_id", body.RentalID, "error", err)
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrConflict):
		http.Error(w, "spot no longer available", http.StatusConflict)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, match.ErrUnknownUser), errors.Is(err, ledger.ErrUnknownSpot):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, scoring.ErrInvalidProfile), errors.Is(err, rental.ErrInvalidDate):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, rental.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, rental.ErrInvariant):
		s.logger.Error("invariant violation", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
