package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-convo/internal/chat"
	"github.com/npezzotti/go-convo/internal/config"
	"github.com/npezzotti/go-convo/internal/server"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping() error
}

type GoConvoApp struct {
	log            *log.Logger
	svc            chat.ChatService
	db             Pinger
	mux            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
}

func NewGoConvoApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, svc chat.ChatService, db Pinger, cfg *config.Config) *GoConvoApp {
	s := &GoConvoApp{
		log:            logger,
		svc:            svc,
		db:             db,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)

	mux.HandleFunc("POST /api/users", s.authMiddleware(s.createOrGetUser))
	mux.HandleFunc("GET /api/users", s.softAuthMiddleware(s.searchUsers))
	mux.HandleFunc("GET /api/users/me", s.softAuthMiddleware(s.getCurrentUser))
	mux.HandleFunc("PATCH /api/users/me", s.authMiddleware(s.updateCurrentUser))
	mux.HandleFunc("GET /api/users/{id}", s.softAuthMiddleware(s.getUser))
	mux.HandleFunc("GET /api/users/{id}/presence", s.softAuthMiddleware(s.getUserPresence))

	mux.HandleFunc("GET /api/presence", s.softAuthMiddleware(s.getOnlineUsers))
	mux.HandleFunc("POST /api/presence/online", s.authMiddleware(s.setOnline))
	mux.HandleFunc("POST /api/presence/offline", s.authMiddleware(s.setOffline))

	mux.HandleFunc("POST /api/conversations", s.authMiddleware(s.getOrCreateConversation))
	mux.HandleFunc("GET /api/conversations", s.softAuthMiddleware(s.getConversations))
	mux.HandleFunc("GET /api/conversations/{id}", s.softAuthMiddleware(s.getConversation))
	mux.HandleFunc("DELETE /api/conversations/{id}", s.authMiddleware(s.deleteConversation))
	mux.HandleFunc("GET /api/conversations/{id}/members", s.softAuthMiddleware(s.getConversationMembers))

	mux.HandleFunc("POST /api/groups", s.authMiddleware(s.createGroup))
	mux.HandleFunc("DELETE /api/groups/{id}", s.authMiddleware(s.deleteGroup))
	mux.HandleFunc("POST /api/groups/{id}/members", s.authMiddleware(s.addGroupMembers))
	mux.HandleFunc("DELETE /api/groups/{id}/members/{userId}", s.authMiddleware(s.removeGroupMember))

	mux.HandleFunc("GET /api/conversations/{id}/messages", s.softAuthMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.authMiddleware(s.sendMessage))
	mux.HandleFunc("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))
	mux.HandleFunc("POST /api/conversations/{id}/read", s.authMiddleware(s.markMessagesAsRead))
	mux.HandleFunc("GET /api/conversations/{id}/unread", s.softAuthMiddleware(s.getUnreadCount))

	mux.HandleFunc("GET /api/messages/{id}/reactions", s.softAuthMiddleware(s.getReactions))
	mux.HandleFunc("POST /api/messages/{id}/reactions", s.authMiddleware(s.addReaction))

	mux.HandleFunc("GET /api/conversations/{id}/typing", s.softAuthMiddleware(s.getTypingUsers))
	mux.HandleFunc("PUT /api/conversations/{id}/typing", s.authMiddleware(s.setTyping))
	mux.HandleFunc("DELETE /api/conversations/{id}/typing", s.authMiddleware(s.clearTyping))

	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
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

func (s *GoConvoApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *GoConvoApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
