package storage

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	ErrRoomNotFound           = fmt.Errorf("%w: chat room does not exist or is inactive", ErrNotFound)
	ErrMemberNotFound         = fmt.Errorf("%w: user is not a member of the chat room", ErrNotFound)
	ErrMessageNotFound        = fmt.Errorf("%w: message does not exist", ErrNotFound)
	ErrRepliedMessageNotFound = fmt.Errorf("%w: message replies to a not existing message", ErrNotFound)
	ErrUserNotFound           = fmt.Errorf("%w: user does not exist", ErrNotFound)
	ErrPresenceNotFound       = fmt.Errorf("%w: user has no presence record", ErrNotFound)

	ErrDirectRoomExists = fmt.Errorf("%w: active direct room for this pair already exists", ErrConflict)
	ErrEmptyMembers     = errors.New("members array can't be empty")
)

const (
	DirectIdentifierUniqueKey  = "chat_rooms_direct_identifier_key"
	MembersRoomForeignKey      = "chat_room_members_chat_room_id_fkey"
	MembersUserForeignKey      = "chat_room_members_user_id_fkey"
	MessagesRoomForeignKey     = "messages_chat_room_id_fkey"
	MessagesReplyToForeignKey  = "messages_reply_to_id_fkey"
	MessagesSenderForeignKey   = "messages_sender_id_fkey"
	ReactionsMessageForeignKey = "message_reactions_message_id_fkey"
)
