package api

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-convo/internal/chat"
	"github.com/npezzotti/go-convo/internal/server"
)

func (s *GoConvoApp) serveWs(w http.ResponseWriter, r *http.Request) {
	ident, ok := chat.IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.svc.GetCurrentUser(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if user == nil {
		// the identity has not been registered with createOrGetUser yet
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(ident, *user, conn, s.cs, s.svc, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Watch()
	go client.Read()
}
