package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/practice-sem-2/quartier-chat-service/internal/auth"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	"github.com/practice-sem-2/quartier-chat-service/internal/usecases"
	"github.com/sirupsen/logrus"
)

type RoomsService interface {
	ListRoomsForUser(ctx context.Context, user *models.User) ([]models.RoomSummary, error)
	ListAvailableRooms(ctx context.Context, user *models.User) ([]models.RoomSummary, error)
	GetRoom(ctx context.Context, user *models.User, roomID int64) (*models.RoomDetail, error)
	CreateGroupRoom(ctx context.Context, user *models.User, create models.GroupRoomCreate) (*models.ChatRoom, error)
	FindOrCreateDirectRoom(ctx context.Context, user *models.User, targetID int64) (*models.ChatRoom, bool, error)
	JoinRoom(ctx context.Context, user *models.User, roomID int64) (*models.ChatRoom, error)
	LeaveRoom(ctx context.Context, user *models.User, roomID int64) error
	ListMembers(ctx context.Context, user *models.User, roomID int64) ([]models.RoomMember, error)
	MarkRoomRead(ctx context.Context, user *models.User, roomID int64) (int64, error)
	UnreadCount(ctx context.Context, user *models.User, roomID int64) (int64, error)
	DeactivateRoom(ctx context.Context, user *models.User, roomID int64) error
}

type MessagesService interface {
	List(ctx context.Context, user *models.User, sel models.MessagesSelect) ([]models.HydratedMessage, error)
	Undelivered(ctx context.Context, user *models.User) ([]models.HydratedMessage, error)
	UndeliveredCount(ctx context.Context, user *models.User) (int64, error)
	MarkRead(ctx context.Context, user *models.User, roomID *int64, messageIDs []int64) (int64, error)
}

type PresenceService interface {
	OnlineUsers(ctx context.Context, user *models.User) ([]models.UserWithPresence, error)
	Neighborhood(ctx context.Context, user *models.User) ([]models.UserWithPresence, error)
}

// ChatServer is the request/response surface of the chat.
type ChatServer struct {
	rooms    RoomsService
	messages MessagesService
	presence PresenceService
	verifier auth.Verifier
	validate *usecases.Validator
	logger   logrus.FieldLogger
}

func NewChatServer(
	rooms RoomsService,
	messages MessagesService,
	presence PresenceService,
	verifier auth.Verifier,
	logger logrus.FieldLogger,
) *ChatServer {
	return &ChatServer{
		rooms:    rooms,
		messages: messages,
		presence: presence,
		verifier: verifier,
		validate: usecases.NewValidator(),
		logger:   logger,
	}
}

// Register mounts the authenticated API routes on r.
func (s *ChatServer) Register(r *mux.Router) {
	api := r.NewRoute().Subrouter()
	api.Use(s.logRequests, s.authenticate)

	api.Handle("/rooms", s.handle(s.listRooms)).Methods(http.MethodGet)
	api.Handle("/rooms", s.handle(s.createRoom)).Methods(http.MethodPost)
	api.Handle("/rooms/available", s.handle(s.listAvailableRooms)).Methods(http.MethodGet)
	api.Handle("/rooms/{id:[0-9]+}", s.handle(s.getRoom)).Methods(http.MethodGet)
	api.Handle("/rooms/{id:[0-9]+}", s.handle(s.deactivateRoom)).Methods(http.MethodDelete)
	api.Handle("/rooms/{id:[0-9]+}/join", s.handle(s.joinRoom)).Methods(http.MethodPost)
	api.Handle("/rooms/{id:[0-9]+}/leave", s.handle(s.leaveRoom)).Methods(http.MethodPost)
	api.Handle("/rooms/{id:[0-9]+}/members", s.handle(s.listMembers)).Methods(http.MethodGet)
	api.Handle("/rooms/{id:[0-9]+}/messages", s.handle(s.listMessages)).Methods(http.MethodGet)
	api.Handle("/rooms/{id:[0-9]+}/unread-count", s.handle(s.unreadCount)).Methods(http.MethodGet)
	api.Handle("/rooms/{id:[0-9]+}/mark-read", s.handle(s.markRoomRead)).Methods(http.MethodPost)
	api.Handle("/direct-message", s.handle(s.directMessage)).Methods(http.MethodPost)
	api.Handle("/messages/undelivered", s.handle(s.undelivered)).Methods(http.MethodGet)
	api.Handle("/messages/undelivered/count", s.handle(s.undeliveredCount)).Methods(http.MethodGet)
	api.Handle("/messages/{id:[0-9]+}/mark-read", s.handle(s.markMessageRead)).Methods(http.MethodPost)
	api.Handle("/users/online", s.handle(s.onlineUsers)).Methods(http.MethodGet)
	api.Handle("/users/neighborhood", s.handle(s.neighborhood)).Methods(http.MethodGet)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (s *ChatServer) handle(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			s.writeError(w, r, err)
		}
	})
}

func (s *ChatServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.verifier.Verify(auth.TokenFromRequest(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *ChatServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", rec.status).
			WithField("duration", time.Since(start).String()).
			Debug("request served")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *ChatServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := usecases.Classify(err)
	if kind == usecases.KindInternal {
		s.logger.
			WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	writeJSON(w, wrapError(kind), errorResponse{Error: usecases.PublicMessage(err), Code: string(kind)})
}

func wrapError(kind usecases.Kind) int {
	errorMapper := []struct {
		from usecases.Kind
		to   int
	}{
		{usecases.KindUnauthenticated, http.StatusUnauthorized},
		{usecases.KindForbidden, http.StatusForbidden},
		{usecases.KindNotFound, http.StatusNotFound},
		{usecases.KindInvalidArgument, http.StatusBadRequest},
		{usecases.KindConflict, http.StatusConflict},
	}

	for _, mapping := range errorMapper {
		if kind == mapping.from {
			return mapping.to
		}
	}
	return http.StatusInternalServerError
}
