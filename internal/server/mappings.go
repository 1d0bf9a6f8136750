package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	"github.com/practice-sem-2/quartier-chat-service/internal/usecases"
)

var (
	ErrInvalidPath  = fmt.Errorf("%w: invalid path parameter", usecases.ErrBusinessLogicViolation)
	ErrInvalidQuery = fmt.Errorf("%w: invalid query parameter", usecases.ErrBusinessLogicViolation)
	ErrInvalidBody  = fmt.Errorf("%w: invalid request body", usecases.ErrBusinessLogicViolation)
)

type directMessageRequest struct {
	TargetUserID int64 `json:"target_user_id" validate:"required,gt=0"`
}

type directMessageResponse struct {
	Room    *models.ChatRoom `json:"room"`
	Created bool             `json:"created"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

type updatedResponse struct {
	Updated int64 `json:"updated"`
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidPath
	}
	return id, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return nil
}

func queryUint(q url.Values, key string) (uint64, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidQuery, key)
	}
	return v, nil
}

func queryTime(q url.Values, key string) (*time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", ErrInvalidQuery, key)
	}
	return &t, nil
}

// MessagesSelectFromQuery reads page, limit, before and after.
func MessagesSelectFromQuery(roomID int64, q url.Values) (models.MessagesSelect, error) {
	sel := models.MessagesSelect{ChatRoomID: roomID}

	var err error
	if sel.Page, err = queryUint(q, "page"); err != nil {
		return sel, err
	}
	if sel.Limit, err = queryUint(q, "limit"); err != nil {
		return sel, err
	}
	if sel.Before, err = queryTime(q, "before"); err != nil {
		return sel, err
	}
	if sel.After, err = queryTime(q, "after"); err != nil {
		return sel, err
	}
	return sel, nil
}
