package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/npezzotti/go-convo/internal/chat"
)

func (s *GoConvoApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware rejects requests without a valid identity token.
func (s *GoConvoApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := s.identityFromRequest(r)
		if err != nil {
			s.log.Printf("failed to verify identity token: %v", err)
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := chat.WithIdentity(r.Context(), ident)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

// softAuthMiddleware attaches the identity when a valid token is present
// and otherwise lets the request through anonymously, so queries answer
// with their empty result.
func (s *GoConvoApp) softAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		ident, err := s.identityFromRequest(r)
		if err != nil {
			if !errors.Is(err, errNoToken) {
				s.log.Printf("ignoring invalid identity token: %v", err)
			}
			next(w, r)
			return
		}

		next(w, r.WithContext(chat.WithIdentity(r.Context(), ident)))
	}
}
