package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/practice-sem-2/quartier-chat-service/internal/models"
	"github.com/practice-sem-2/quartier-chat-service/internal/usecases"
)

const (
	CommandJoinRoom         = "join_room"
	CommandLeaveRoom        = "leave_room"
	CommandSendMessage      = "send_message"
	CommandEditMessage      = "edit_message"
	CommandDeleteMessage    = "delete_message"
	CommandStartTyping      = "start_typing"
	CommandStopTyping       = "stop_typing"
	CommandMarkMessagesRead = "mark_messages_read"
	CommandAddReaction      = "add_reaction"
	CommandRemoveReaction   = "remove_reaction"
	CommandUpdatePresence   = "update_presence"
)

var (
	errMalformedFrame = fmt.Errorf("%w: malformed frame", usecases.ErrBusinessLogicViolation)
	errUnknownCommand = fmt.Errorf("%w: unknown command", usecases.ErrBusinessLogicViolation)
	errNotSubscribed  = fmt.Errorf("%w: join the room first", usecases.ErrPermissionDenied)
	errRateLimited    = errors.New("too many commands")
)

// Frame is the client to server message.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type roomCommand struct {
	RoomID int64 `json:"room_id" validate:"required,gt=0"`
}

type messageCommand struct {
	MessageID int64 `json:"message_id" validate:"required,gt=0"`
}

type editCommand struct {
	MessageID int64  `json:"message_id" validate:"required,gt=0"`
	Content   string `json:"content" validate:"required"`
}

type reactionCommand struct {
	MessageID int64  `json:"message_id" validate:"required,gt=0"`
	Reaction  string `json:"reaction" validate:"required"`
}

type markReadCommand struct {
	RoomID     *int64  `json:"room_id" validate:"omitempty,gt=0"`
	MessageIDs []int64 `json:"message_ids" validate:"required,min=1,max=500,dive,gt=0"`
}

type presenceCommand struct {
	Status models.PresenceStatus `json:"status" validate:"required"`
}

// commandFunc runs one command for c. A returned error is reported to c only.
type commandFunc func(ctx context.Context, c *Client, f *Frame) error

func (g *Gateway) commands() map[string]commandFunc {
	return map[string]commandFunc{
		CommandJoinRoom:         g.joinRoom,
		CommandLeaveRoom:        g.leaveRoom,
		CommandSendMessage:      g.sendMessage,
		CommandEditMessage:      g.editMessage,
		CommandDeleteMessage:    g.deleteMessage,
		CommandStartTyping:      g.startTyping,
		CommandStopTyping:       g.stopTyping,
		CommandMarkMessagesRead: g.markMessagesRead,
		CommandAddReaction:      g.addReaction,
		CommandRemoveReaction:   g.removeReaction,
		CommandUpdatePresence:   g.updatePresence,
	}
}

func (g *Gateway) decode(f *Frame, v interface{}) error {
	if len(f.Payload) == 0 {
		return errMalformedFrame
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	return g.validate.Struct(v)
}

// dispatch decodes and runs a raw frame, replying with an error event on failure.
func (g *Gateway) dispatch(ctx context.Context, c *Client, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		g.metrics.Commands.WithLabelValues("invalid", "error").Inc()
		g.replyError(c, "", errMalformedFrame)
		return
	}

	if !c.limiter.Allow() {
		g.metrics.Commands.WithLabelValues(f.Type, "rate_limited").Inc()
		c.Send(models.Event{
			Type:      models.EventError,
			RequestID: f.RequestID,
			Payload:   models.ErrorPayload{Message: errRateLimited.Error(), Code: "rate_limited"},
		})
		return
	}

	run, ok := g.handlers[f.Type]
	if !ok {
		g.metrics.Commands.WithLabelValues("unknown", "error").Inc()
		g.replyError(c, f.RequestID, errUnknownCommand)
		return
	}

	if err := g.presence.Touch(ctx, c.user); err != nil {
		c.logger.WithError(err).Warn("can't refresh presence")
	}

	if err := run(ctx, c, &f); err != nil {
		g.metrics.Commands.WithLabelValues(f.Type, string(usecases.Classify(err))).Inc()
		g.replyError(c, f.RequestID, err)
		return
	}
	g.metrics.Commands.WithLabelValues(f.Type, "ok").Inc()
}

func (g *Gateway) replyError(c *Client, requestID string, err error) {
	kind := usecases.Classify(err)
	if kind == usecases.KindInternal {
		c.logger.WithError(err).Error("command failed")
	}
	c.Send(models.Event{
		Type:      models.EventError,
		RequestID: requestID,
		Payload:   models.ErrorPayload{Message: usecases.PublicMessage(err), Code: string(kind)},
	})
}

func (g *Gateway) requireSubscribed(c *Client, roomID int64) error {
	if !g.hub.IsSubscribed(c, roomID) {
		return errNotSubscribed
	}
	return nil
}

// requireMessageRoom checks that c has joined the room messageID was posted in.
func (g *Gateway) requireMessageRoom(ctx context.Context, c *Client, messageID int64) error {
	roomID, err := g.messages.MessageRoom(ctx, c.user, messageID)
	if err != nil {
		return err
	}
	return g.requireSubscribed(c, roomID)
}

func (g *Gateway) joinRoom(ctx context.Context, c *Client, f *Frame) error {
	var cmd roomCommand
	if err := g.decode(f, &cmd); err != nil {
		return err
	}

	detail, err := g.rooms.GetRoom(ctx, c.user, cmd.RoomID)
	if err != nil {
		return err
	}
	g.hub.Subscribe(c, cmd.RoomID)

	typing, err := g.presence.TypingUsers(ctx, c.user, cmd.RoomID)
	if err != nil {
		return err
	}

	c.Send(models.Event{
		Type:      models.EventRoomJoined,
		RequestID: f.RequestID,
		Payload:   models.RoomJoinedPayload{Room: detail, Typing: typing},
	})
	return nil
}

func (g *Gateway) leaveRoom(_ context.Context, c *Client, f *Frame) error {
	var cmd roomCommand
	if err := g.decode(f, &cmd); err != nil {
		return err
	}

	if !g.hub.Unsubscribe(c, cmd.RoomID) {
		return errNotSubscribed
	}
	c.Send(models.Event{
		Type:      models.EventRoomLeft,
		RequestID: f.RequestID,
		Payload:   models.RoomLeftPayload{RoomID: cmd.RoomID},
	})
	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, c *Client, f *Frame) error {
	var cmd models.MessageSend
	if err := g.decode(f, &cmd); err != nil {
		return err
	}
	if err := g.requireSubscribed(c, cmd.ChatRoomID); err != nil {
		return err
	}

	_, err := g.messages.Send(ctx, c.user, cmd)
	return err
}

func (g *Gateway) editMessage(ctx context.Context, c *Client, f *Frame) error {
	var cmd editCommand
	if err := g.decode(f, &cmd); err != nil {
		return err
	}
	_, err := g.messages.Edit(ctx, c.user, cmd.MessageID, cmd.Content)
	return err
}

func (g *Gateway) deleteMessage(ctx context.Context, c *Client, f *Frame) error {
	var cmd messageCommand
	if err := g.decode(f, &cmd); err != nil {
		return err
	}
	_, err := g.messages.Delete(ctx, c.user, cmd.MessageID)
	return err
}

func (g *Gateway) startTyping(ctx context.Context, c *Client, f *Frame) error {
	var cmd roomCommand
	if err := g.decode(f, &cmd); err != nil {
		return err
	}
	if err := g.requireSubscribed(c, cmd.RoomID); err != nil {
		return err
	}
	return g.presence.StartTyping(ctx, c.user, cmd.RoomID)
}

func (g *Gateway) stopTyping(ctx context.Context, c *Client, f *Frame) error {
	var cmd roomCommand
	if err := g.decode(f, &cmd); err != nil {
		return err
	}
	if err := g.requireSubscribed(c, cmd.RoomID); err != nil {
		return err
	}
	return g.presence.StopTyping(ctx, c.user, cmd.RoomID)
}

func (g *Gateway) markMessagesRead(ctx context.Context, c *Client, f *Frame) error {
	var cmd markReadCommand
	if err := g.decode(f, &cmd); err != nil {
		return err
	}
	if cmd.RoomID != nil {
		if err := g.requireSubscribed(c, *cmd.RoomID); err != nil {
			return err
		}
	}

	updated, err := g.messages.MarkRead(ctx, c.user, cmd.RoomID, cmd.MessageIDs)
	if err != nil {
		return err
	}

	c.Send(models.Event{
		Type:      models.EventMessagesMarkedRead,
		RequestID: f.RequestID,
		Payload: models.MessagesMarkedReadPayload{
			RoomID:     cmd.RoomID,
			MessageIDs: cmd.MessageIDs,
			Updated:    updated,
		},
	})
	return nil
}

func (g *Gateway) addReaction(ctx context.Context, c *Client, f *Frame) error {
	var cmd reactionCommand
	if err := g.decode(f, &cmd); err != nil {
		return err
	}
	if err := g.requireMessageRoom(ctx, c, cmd.MessageID); err != nil {
		return err
	}
	_, err := g.messages.AddReaction(ctx, c.user, cmd.MessageID, cmd.Reaction)
	return err
}

func (g *Gateway) removeReaction(ctx context.Context, c *Client, f *Frame) error {
	var cmd reactionCommand
	if err := g.decode(f, &cmd); err != nil {
		return err
	}
	if err := g.requireMessageRoom(ctx, c, cmd.MessageID); err != nil {
		return err
	}
	_, err := g.messages.RemoveReaction(ctx, c.user, cmd.MessageID, cmd.Reaction)
	return err
}

func (g *Gateway) updatePresence(ctx context.Context, c *Client, f *Frame) error {
	var cmd presenceCommand
	if err := g.decode(f, &cmd); err != nil {
		return err
	}
	_, err := g.presence.UpdateStatus(ctx, c.user, cmd.Status)
	return err
}
