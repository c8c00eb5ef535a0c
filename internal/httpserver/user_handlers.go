package httpserver

import (
	"net/http"

	"zchat/internal/service"
)

type usernameRequest struct {
	Username string `json:"username"`
}

func handleCreateUsername(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usernameRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		user, err := userSvc.CreateUsername(r.Context(), CurrentUser(r).ID, req.Username)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// handleSearchUsers returns public summaries only.
func handleSearchUsers(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := userSvc.SearchUsers(r.Context(), CurrentUser(r), r.URL.Query().Get("username"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]any, 0, len(users))
		for _, u := range users {
			out = append(out, u.Summary())
		}
		writeJSON(w, http.StatusOK, out)
	}
}
