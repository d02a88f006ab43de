package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/npezzotti/go-convo/internal/chat"
)

type userIdRequest struct {
	UserId int `json:"user_id"`
}

type onlineUsersResponse struct {
	UserIds []int `json:"user_ids"`
}

func (s *GoConvoApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoConvoApp) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errResp := fromServiceError(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *GoConvoApp) badRequest(w http.ResponseWriter, err error) {
	errResp := NewBadRequestError()
	if err != nil {
		errResp.Message = err.Error()
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// decodeBody decodes the JSON request body into v, answering 400 on
// failure.
func (s *GoConvoApp) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.badRequest(w, fmt.Errorf("decode body: %w", err))
		return false
	}
	return true
}

func pathId(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(r.PathValue(name))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, r.PathValue(name))
	}
	return id, nil
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

func (s *GoConvoApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoConvoApp) createOrGetUser(w http.ResponseWriter, r *http.Request) {
	var req chat.CreateUserRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	user, err := s.svc.CreateOrGetUser(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *GoConvoApp) updateCurrentUser(w http.ResponseWriter, r *http.Request) {
	var req chat.UpdateUserRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	user, err := s.svc.UpdateUserByExternalId(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *GoConvoApp) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.GetCurrentUser(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *GoConvoApp) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	user, err := s.svc.GetUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *GoConvoApp) searchUsers(w http.ResponseWriter, r *http.Request) {
	cursor, err := queryInt(r, "cursor")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	page, err := s.svc.SearchUsers(r.Context(), r.URL.Query().Get("search"), cursor, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, page)
}

func (s *GoConvoApp) getUserPresence(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	p, err := s.svc.GetUserPresence(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, p)
}

func (s *GoConvoApp) getOnlineUsers(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.GetOnlineUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []int{}
	}

	s.writeJson(w, http.StatusOK, onlineUsersResponse{UserIds: ids})
}

func (s *GoConvoApp) setOnline(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.SetOnline(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoConvoApp) setOffline(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.SetOffline(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
