package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"zchat/internal/service"
)

type messageSendRequest struct {
	ID         string  `json:"id"`
	Body       string  `json:"body"`
	Attachment *string `json:"attachment"`
}

func handleSendMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageSendRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		user := CurrentUser(r)
		msg, err := msgSvc.SendMessage(r.Context(), user.ID, service.SendMessageInput{
			ID:             req.ID,
			SenderID:       user.ID,
			ConversationID: chi.URLParam(r, "conversationID"),
			Body:           req.Body,
			Attachment:     req.Attachment,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleListMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeBadRequest(w, "invalid limit")
				return
			}
			limit = n
		}
		msgs, err := msgSvc.ListMessages(r.Context(), CurrentUser(r).ID, chi.URLParam(r, "conversationID"), limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleDeleteMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := msgSvc.DeleteMessage(r.Context(), CurrentUser(r).ID, chi.URLParam(r, "messageID")); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
