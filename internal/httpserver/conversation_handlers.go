package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"zchat/internal/service"
)

type conversationCreateRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
}

type participantsUpdateRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
}

func handleCreateConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conversationCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		id, err := convSvc.CreateConversation(r.Context(), CurrentUser(r).ID, req.ParticipantIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"conversation_id": id})
	}
}

func handleListConversations(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := convSvc.ListConversations(r.Context(), CurrentUser(r).ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

func handleGetConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := convSvc.GetConversation(r.Context(), CurrentUser(r).ID, chi.URLParam(r, "conversationID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func handleUpdateParticipants(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req participantsUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		err := convSvc.UpdateParticipants(r.Context(), CurrentUser(r).ID, chi.URLParam(r, "conversationID"), req.ParticipantIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleDeleteConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := convSvc.DeleteConversation(r.Context(), CurrentUser(r).ID, chi.URLParam(r, "conversationID")); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleMarkConversationRead(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if err := convSvc.MarkConversationAsRead(r.Context(), user.ID, user.ID, chi.URLParam(r, "conversationID")); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
