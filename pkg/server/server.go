package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mwallet/pkg/chains"
	"mwallet/pkg/config"
	"mwallet/pkg/log"
	"mwallet/pkg/metrics"
	"mwallet/pkg/models"
	"mwallet/pkg/session"
	"mwallet/pkg/transfer"
	"mwallet/pkg/watcher"
)

type Server struct {
	registry *chains.Registry
	session  *session.Store
	watcher  *watcher.Watcher
	engine   *transfer.Engine

	router   chi.Router
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]bool
	mu       sync.Mutex
}

func NewServer(registry *chains.Registry, sess *session.Store, w *watcher.Watcher, engine *transfer.Engine, origins []string) *Server {
	s := &Server{
		registry: registry,
		session:  sess,
		watcher:  w,
		engine:   engine,
		clients:  make(map[*websocket.Conn]bool),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: originChecker(origins)}
	s.router = s.routes(origins)
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes(origins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/chains", s.handleChains)
		r.Put("/chain", s.handleSetChain)

		r.Get("/session", s.handleSession)
		r.Post("/session/generate", s.handleGenerate)
		r.Post("/session/restore", s.handleRestore)
		r.Post("/session/logout", s.handleLogout)

		r.Get("/balance", s.handleBalance)
		r.Get("/holdings", s.handleHoldings)
		r.Post("/refresh", s.handleRefresh)

		r.Get("/transfer", s.handleTransferState)
		r.Post("/transfer", s.handleTransfer)
		r.Post("/transfer/reset", s.handleTransferReset)
	})
	r.Get("/ws", s.handleWS)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.forward(ctx, s.watcher.Subscribe())

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Server.Info().Str("addr", addr).Msg("API server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: models.Reason(err), Retryable: models.IsRetryable(err)})
}

func statusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAlreadyInProgress), errors.Is(err, models.ErrNotActive):
		return http.StatusConflict
	case models.IsRetryable(err), errors.Is(err, models.ErrSubmission):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type chainsResponse struct {
	Current string               `json:"current"`
	Chains  []config.ChainConfig `json:"chains"`
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, chainsResponse{
		Current: s.session.Current().ChainID,
		Chains:  s.registry.List(),
	})
}

func (s *Server) handleSetChain(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChainID string `json:"chain_id"`
	}
	if err := decode(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	if err := s.session.SetChain(body.ChainID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Current())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Current())
}

type generateResponse struct {
	Mnemonic string       `json:"mnemonic"`
	Session  session.View `json:"session"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	m, err := s.session.CreateFromNewMnemonic()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Mnemonic: m.Phrase(), Session: s.session.Current()})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mnemonic string `json:"mnemonic"`
	}
	if err := decode(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	if err := s.session.RestoreFromMnemonic(body.Mnemonic); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Current())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.session.Logout()
	writeJSON(w, http.StatusOK, s.session.Current())
}

type balanceResponse struct {
	Ready   bool                    `json:"ready"`
	Balance *models.BalanceSnapshot `json:"balance,omitempty"`
	History []float64               `json:"history,omitempty"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if !s.session.Current().Active {
		writeError(w, models.ErrNotActive)
		return
	}
	resp := balanceResponse{}
	if snap, ok := s.watcher.Balance(); ok {
		resp.Ready = true
		resp.Balance = &snap
		resp.History = s.watcher.History()
	}
	writeJSON(w, http.StatusOK, resp)
}

type holdingsResponse struct {
	Ready    bool                     `json:"ready"`
	Holdings *models.HoldingsSnapshot `json:"holdings,omitempty"`
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	if !s.session.Current().Active {
		writeError(w, models.ErrNotActive)
		return
	}
	resp := holdingsResponse{}
	if snap, ok := s.watcher.Holdings(); ok {
		resp.Ready = true
		resp.Holdings = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.session.Current().Active {
		writeError(w, models.ErrNotActive)
		return
	}
	s.watcher.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

type transferResponse struct {
	State       models.TransferState   `json:"state"`
	ExplorerURL string                 `json:"explorer_url,omitempty"`
	History     []models.TransferState `json:"history"`
}

func (s *Server) transferView(st models.TransferState) transferResponse {
	return transferResponse{
		State:       st,
		ExplorerURL: s.engine.ExplorerURL(st),
		History:     s.engine.History(),
	}
}

func (s *Server) handleTransferState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.transferView(s.engine.State()))
}

// handleTransfer validates synchronously and answers 202 once the attempt is
// accepted; progress is pushed over /ws.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	st, err := s.engine.Start(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.transferView(st))
}

func (s *Server) handleTransferReset(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	writeJSON(w, http.StatusOK, s.transferView(s.engine.State()))
}

type initialState struct {
	Session  session.View             `json:"session"`
	Balance  *models.BalanceSnapshot  `json:"balance,omitempty"`
	Holdings *models.HoldingsSnapshot `json:"holdings,omitempty"`
	Transfer models.TransferState     `json:"transfer"`
}

func (s *Server) snapshot() initialState {
	st := initialState{
		Session:  s.session.Current(),
		Transfer: s.engine.State(),
	}
	if b, ok := s.watcher.Balance(); ok {
		st.Balance = &b
	}
	if h, ok := s.watcher.Holdings(); ok {
		st.Holdings = &h
	}
	return st
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	s.mu.Lock()
	s.clients[conn] = true
	_ = conn.WriteJSON(watcher.Event{Type: "initial", Data: s.snapshot()})
	s.mu.Unlock()
	metrics.WSClientConnected()

	defer func() {
		s.mu.Lock()
		if s.clients[conn] {
			delete(s.clients, conn)
			metrics.WSClientDisconnected()
		}
		s.mu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// forward relays watcher events to every WebSocket client until ctx ends.
func (s *Server) forward(ctx context.Context, sub watcher.Subscriber) {
	defer s.watcher.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			s.broadcast(event)
		}
	}
}

func (s *Server) broadcast(event watcher.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		if err := client.WriteJSON(event); err != nil {
			log.Server.Debug().Err(err).Msg("dropping websocket client")
			_ = client.Close()
			delete(s.clients, client)
			metrics.WSClientDisconnected()
		}
	}
}

// originChecker allows same-host requests and the configured CORS origins.
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed["*"] || allowed[origin] {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}
