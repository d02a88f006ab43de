package api

import (
	"net/http"

	"github.com/npezzotti/go-convo/internal/types"
)

type conversationRequest struct {
	CurrentUserId int `json:"current_user_id"`
	OtherUserId   int `json:"other_user_id"`
}

type groupRequest struct {
	CurrentUserId int    `json:"current_user_id"`
	MemberIds     []int  `json:"member_ids"`
	Name          string `json:"name"`
}

type membersRequest struct {
	MemberIds []int `json:"member_ids"`
}

type conversationIdResponse struct {
	ConversationId int `json:"conversation_id"`
}

func (s *GoConvoApp) getOrCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	id, err := s.svc.GetOrCreateConversation(r.Context(), req.CurrentUserId, req.OtherUserId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, conversationIdResponse{ConversationId: id})
}

// getConversations lists the conversations of user_id, defaulting to the
// caller.
func (s *GoConvoApp) getConversations(w http.ResponseWriter, r *http.Request) {
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
	userId, err := queryInt(r, "user_id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	if userId == 0 {
		me, err := s.svc.GetCurrentUser(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if me == nil {
			s.writeJson(w, http.StatusOK, types.ConversationPage{Conversations: []types.Conversation{}})
			return
		}
		userId = me.Id
	}

	page, err := s.svc.GetConversations(r.Context(), userId, cursor, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, page)
}

func (s *GoConvoApp) getConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	conv, err := s.svc.GetConversation(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, conv)
}

func (s *GoConvoApp) getConversationMembers(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	members, err := s.svc.GetConversationMembers(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if members == nil {
		members = []types.User{}
	}

	s.writeJson(w, http.StatusOK, members)
}

func (s *GoConvoApp) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	if err := s.svc.DeleteConversation(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoConvoApp) createGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	id, err := s.svc.CreateGroup(r.Context(), req.CurrentUserId, req.MemberIds, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusCreated, conversationIdResponse{ConversationId: id})
}

func (s *GoConvoApp) addGroupMembers(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	var req membersRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.svc.AddGroupMembers(r.Context(), id, req.MemberIds); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoConvoApp) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	userId, err := pathId(r, "userId")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	if err := s.svc.RemoveGroupMember(r.Context(), id, userId); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoConvoApp) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}

	if err := s.svc.DeleteGroup(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
