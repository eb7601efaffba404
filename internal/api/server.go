package api

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarkets/veil-trader/internal/oracle"
	"github.com/veilmarkets/veil-trader/internal/store"
)

// AppState exposes the trading app's state for the API layer.
type AppState interface {
	IsRunning() bool
	Account() common.Address
	Positions(ctx context.Context) ([]store.Position, error)
	LockedCollateral(ctx context.Context) (string, error)
	Quote(market string) (oracle.Quote, error)
}

// QuoteSource lists the markets a quote can be served for.
type QuoteSource interface {
	Markets() []string
}

// Server is a lightweight HTTP API for inspecting the trading daemon.
type Server struct {
	httpServer *http.Server
	appState   AppState
	quotes     QuoteSource
	startedAt  time.Time
}

// NewServer creates a new API server bound to addr.
func NewServer(addr string, appState AppState, quotes QuoteSource) *Server {
	s := &Server{
		appState:  appState,
		quotes:    quotes,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/ready", s.handleReady)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/quotes", s.handleQuotes)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.Printf("api server listening on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("api server: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GET /api/health — liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/ready — readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.appState.IsRunning()
	resp := map[string]interface{}{
		"ready":    ready,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	}
	if !ready {
		resp["reason"] = "app_not_running"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, resp)
}

// GET /api/status — overall daemon status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"running":  s.appState.IsRunning(),
		"account":  s.appState.Account().Hex(),
		"uptime_s": time.Since(s.startedAt).Seconds(),
	}
	if locked, err := s.appState.LockedCollateral(r.Context()); err == nil {
		resp["locked_wei"] = locked
	} else {
		resp["locked_error"] = err.Error()
	}
	if positions, err := s.appState.Positions(r.Context()); err == nil {
		resp["open_positions"] = len(positions)
	}
	s.writeJSON(w, resp)
}

// GET /api/positions — locally cached positions, reconciled before listing.
// Secrets are never exposed here.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.appState.Positions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type positionView struct {
		Commitment string    `json:"commitment"`
		Market     string    `json:"market"`
		IsLong     bool      `json:"is_long"`
		MarginWei  string    `json:"margin_wei"`
		EntryPrice string    `json:"entry_price"`
		Size       string    `json:"size"`
		Leverage   uint      `json:"leverage"`
		OpenedAt   time.Time `json:"opened_at"`
	}
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, positionView{
			Commitment: string(p.Commitment),
			Market:     p.Market,
			IsLong:     p.IsLong,
			MarginWei:  p.MarginWei,
			EntryPrice: p.EntryPrice,
			Size:       p.Size,
			Leverage:   p.Leverage,
			OpenedAt:   p.OpenedAt,
		})
	}
	s.writeJSON(w, map[string]interface{}{
		"count":     len(views),
		"positions": views,
	})
}

// GET /api/quotes — the latest cached quote per market.
func (s *Server) handleQuotes(w http.ResponseWriter, _ *http.Request) {
	quotes := map[string]interface{}{}
	for _, market := range s.quotes.Markets() {
		q, err := s.appState.Quote(market)
		if err != nil {
			quotes[market] = map[string]interface{}{"error": err.Error()}
			continue
		}
		quotes[market] = map[string]interface{}{
			"price":        q.Price.String(),
			"source_count": q.SourceCount,
			"age_s":        q.Age().Seconds(),
		}
	}
	s.writeJSON(w, quotes)
}
