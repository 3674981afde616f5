package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"groupchat/internal/config"
	"groupchat/internal/database"
	"groupchat/internal/server"
)

type GroupChatApp struct {
	log             *log.Logger
	db              database.GroupChatRepository
	mux             *http.Server
	cs              *server.ChatServer
	signingKey      []byte
	allowedOrigins  []string
	generateShortId func() (string, error)
}

func NewGroupChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.GroupChatRepository, cfg *config.Config) *GroupChatApp {
	s := &GroupChatApp{
		log:             logger,
		db:              db,
		cs:              cs,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/users", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("POST /api/groups", s.authMiddleware(s.createGroup))
	mux.Handle("GET /api/groups", s.authMiddleware(s.listGroups))
	mux.Handle("GET /api/groups/lookup", s.authMiddleware(s.getGroup))
	mux.Handle("POST /api/groups/join", s.authMiddleware(s.requestJoin))
	mux.Handle("GET /api/groups/requests", s.authMiddleware(s.listJoinRequests))
	mux.Handle("POST /api/groups/requests/approve", s.authMiddleware(s.approveJoinRequest))
	mux.Handle("POST /api/groups/requests/reject", s.authMiddleware(s.rejectJoinRequest))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	// the socket performs its own token handshake after upgrade
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *GroupChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *GroupChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
