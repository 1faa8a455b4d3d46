package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Close codes for the WebSocket URL surface below.
const (
	CloseUnauthenticated = 4001
	CloseUnauthorised    = 4003
	CloseGenericError    = 4000
)

// Authenticator resolves the broker account and staff flag behind an
// incoming WebSocket upgrade request. internal/storage supplies the
// concrete lookup (API token -> account) as TokenAuthenticator; this
// interface is the seam so internal/realtime doesn't import it
// directly.
type Authenticator interface {
	Authenticate(r *http.Request) (account types.BrokerAccount, staff bool, ok bool)
}

// ServerConfig configures the realtime HTTP/WebSocket server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Batch        BatchConfig
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host: "0.0.0.0", Port: 8081,
		ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second,
		Batch: DefaultBatchConfig(),
	}
}

// Server upgrades WebSocket connections on the three documented channel
// families, authenticating and authorising each, and routes them onto
// the shared Hub.
//
// Built on a gorilla/mux router, rs/cors wrapping, httpServer lifecycle,
// and upgrader config, generalised from one flat `/ws` upgrade route to
// three account/instrument-scoped routes with close-code-driven
// auth/authz on every connection attempt.
type Server struct {
	logger     *zap.Logger
	config     ServerConfig
	hub        *Hub
	auth       Authenticator
	router     *mux.Router
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

func NewServer(logger *zap.Logger, config ServerConfig, hub *Hub, auth Authenticator) *Server {
	s := &Server{
		logger: logger,
		config: config,
		hub:    hub,
		auth:   auth,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ws/market-data/{account_id}/{instrument}/", s.handleMarketData)
	s.router.HandleFunc("/ws/positions/{account_id}/", s.handlePositions)
	s.router.HandleFunc("/ws/admin/dashboard/", s.handleAdmin(AdminDashboardGroup))
	s.router.HandleFunc("/ws/admin/notifications/", s.handleAdmin(AdminNotificationsGroup))
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr: addr, Handler: handler,
		ReadTimeout: s.config.ReadTimeout, WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("starting realtime server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "healthy", "time": time.Now().Unix()})
}

func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	accountID := vars["account_id"]
	instrument := vars["instrument"]

	if accountID == DemoAccount {
		s.accept(w, r, MarketDataGroup(accountID, instrument))
		return
	}

	account, _, ok := s.auth.Authenticate(r)
	if !ok {
		s.reject(w, r, CloseUnauthenticated, "unauthenticated")
		return
	}
	if account.ID != accountID {
		s.reject(w, r, CloseUnauthorised, "unauthorised")
		return
	}
	s.accept(w, r, MarketDataGroup(accountID, instrument))
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	accountID := vars["account_id"]

	account, _, ok := s.auth.Authenticate(r)
	if !ok {
		s.reject(w, r, CloseUnauthenticated, "unauthenticated")
		return
	}
	if account.ID != accountID {
		s.reject(w, r, CloseUnauthorised, "unauthorised")
		return
	}
	s.accept(w, r, PositionsGroup(accountID))
}

func (s *Server) handleAdmin(group string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, staff, ok := s.auth.Authenticate(r)
		if !ok {
			s.reject(w, r, CloseUnauthenticated, "unauthenticated")
			return
		}
		if !staff {
			s.reject(w, r, CloseUnauthorised, "staff access required")
			return
		}
		s.accept(w, r, group)
	}
}

// reject upgrades the connection only far enough to send a custom close
// frame with the given close code, then tears it down — gorilla's
// Upgrade call must succeed before a close frame can be written, since
// the code lives in the WebSocket close handshake, not the HTTP
// response.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, code int, reason string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	deadline := time.Now().Add(writeWait)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request, group string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	client := NewClient(uuid.New().String(), s.hub, conn, s.logger, group, s.config.Batch)
	go client.Serve()
}
