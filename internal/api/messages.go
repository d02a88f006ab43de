package api

import (
	"net/http"

	"github.com/npezzotti/go-convo/internal/types"
)

type sendMessageRequest struct {
	SenderId int    `json:"sender_id"`
	Content  string `json:"content"`
}

type reactionRequest struct {
	UserId int    `json:"user_id"`
	Emoji  string `json:"emoji"`
}

type messageIdResponse struct {
	MessageId int `json:"message_id"`
}

type reactionResponse struct {
	// ReactionId is null when the call removed an existing reaction.
	ReactionId *int `json:"reaction_id"`
}

type unreadResponse struct {
	UnreadCount int `json:"unread_count"`
}

func (s *GoConvoApp) getMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	page, err := s.svc.GetMessages(r.Context(), id, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, page)
}

func (s *GoConvoApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	var req sendMessageRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	msgId, err := s.svc.SendMessage(r.Context(), id, req.SenderId, req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusCreated, messageIdResponse{MessageId: msgId})
}

func (s *GoConvoApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	if err := s.svc.DeleteMessage(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoConvoApp) markMessagesAsRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	var req userIdRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.svc.MarkMessagesAsRead(r.Context(), id, req.UserId); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoConvoApp) getUnreadCount(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	n, err := s.svc.GetUnreadCount(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, unreadResponse{UnreadCount: n})
}

func (s *GoConvoApp) addReaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	var req reactionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	reactionId, err := s.svc.AddReaction(r.Context(), id, req.UserId, req.Emoji)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, reactionResponse{ReactionId: reactionId})
}

func (s *GoConvoApp) getReactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	groups, err := s.svc.GetReactions(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []types.ReactionGroup{}
	}

	s.writeJson(w, http.StatusOK, groups)
}

func (s *GoConvoApp) setTyping(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	var req userIdRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.svc.SetTyping(r.Context(), id, req.UserId); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoConvoApp) clearTyping(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	var req userIdRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.svc.ClearTyping(r.Context(), id, req.UserId); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoConvoApp) getTypingUsers(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	exclude, err := queryInt(r, "exclude_user_id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	users, err := s.svc.GetTypingUsers(r.Context(), id, exclude)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []types.User{}
	}

	s.writeJson(w, http.StatusOK, users)
}
