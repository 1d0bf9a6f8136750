package server

import (
	"net/http"

	"github.com/practice-sem-2/quartier-chat-service/internal/auth"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
)

func (s *ChatServer) listRooms(w http.ResponseWriter, r *http.Request) error {
	rooms, err := s.rooms.ListRoomsForUser(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rooms)
	return nil
}

func (s *ChatServer) listAvailableRooms(w http.ResponseWriter, r *http.Request) error {
	rooms, err := s.rooms.ListAvailableRooms(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rooms)
	return nil
}

func (s *ChatServer) getRoom(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	room, err := s.rooms.GetRoom(r.Context(), auth.UserFromContext(r.Context()), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, room)
	return nil
}

func (s *ChatServer) createRoom(w http.ResponseWriter, r *http.Request) error {
	var req models.GroupRoomCreate
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	room, err := s.rooms.CreateGroupRoom(r.Context(), auth.UserFromContext(r.Context()), req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, room)
	return nil
}

func (s *ChatServer) deactivateRoom(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	if err = s.rooms.DeactivateRoom(r.Context(), auth.UserFromContext(r.Context()), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *ChatServer) joinRoom(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	room, err := s.rooms.JoinRoom(r.Context(), auth.UserFromContext(r.Context()), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, room)
	return nil
}

func (s *ChatServer) leaveRoom(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	if err = s.rooms.LeaveRoom(r.Context(), auth.UserFromContext(r.Context()), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *ChatServer) listMembers(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	members, err := s.rooms.ListMembers(r.Context(), auth.UserFromContext(r.Context()), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, members)
	return nil
}

func (s *ChatServer) listMessages(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	sel, err := MessagesSelectFromQuery(id, r.URL.Query())
	if err != nil {
		return err
	}

	messages, err := s.messages.List(r.Context(), auth.UserFromContext(r.Context()), sel)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []models.HydratedMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
	return nil
}

func (s *ChatServer) unreadCount(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	count, err := s.rooms.UnreadCount(r.Context(), auth.UserFromContext(r.Context()), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, countResponse{Count: count})
	return nil
}

func (s *ChatServer) markRoomRead(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	updated, err := s.rooms.MarkRoomRead(r.Context(), auth.UserFromContext(r.Context()), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, updatedResponse{Updated: updated})
	return nil
}

func (s *ChatServer) directMessage(w http.ResponseWriter, r *http.Request) error {
	var req directMessageRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if err := s.validate.Struct(req); err != nil {
		return err
	}

	room, created, err := s.rooms.FindOrCreateDirectRoom(r.Context(), auth.UserFromContext(r.Context()), req.TargetUserID)
	if err != nil {
		return err
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, directMessageResponse{Room: room, Created: created})
	return nil
}

func (s *ChatServer) undelivered(w http.ResponseWriter, r *http.Request) error {
	messages, err := s.messages.Undelivered(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []models.HydratedMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
	return nil
}

func (s *ChatServer) undeliveredCount(w http.ResponseWriter, r *http.Request) error {
	count, err := s.messages.UndeliveredCount(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, countResponse{Count: count})
	return nil
}

func (s *ChatServer) markMessageRead(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	updated, err := s.messages.MarkRead(r.Context(), auth.UserFromContext(r.Context()), nil, []int64{id})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, updatedResponse{Updated: updated})
	return nil
}
