package server

import (
	"net/http"

	"github.com/practice-sem-2/quartier-chat-service/internal/auth"
)

func (s *ChatServer) onlineUsers(w http.ResponseWriter, r *http.Request) error {
	users, err := s.presence.OnlineUsers(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, users)
	return nil
}

// neighborhood lists the caller's quartier with each user's presence.
func (s *ChatServer) neighborhood(w http.ResponseWriter, r *http.Request) error {
	users, err := s.presence.Neighborhood(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, users)
	return nil
}
