// Package botapi is a small Telegram Bot API client covering what the
// camera bot needs: long-polling updates, text replies, chat actions,
// forwarding and photo upload.
package botapi

// Chat types.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
	ChatChannel    = "channel"
)

// Chat actions.
const (
	ActionTyping      = "typing"
	ActionUploadPhoto = "upload_photo"
)

// User is a Telegram user or bot.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat is a conversation.
type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

// Message is an incoming or sent message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// Update is one long-poll result.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// GetUpdatesParams are the getUpdates arguments. A negative Offset counts
// back from the newest pending update.
type GetUpdatesParams struct {
	Offset  int64 `json:"offset,omitempty"`
	Limit   int   `json:"limit,omitempty"`
	Timeout int   `json:"timeout,omitempty"`
}

type sendMessageParams struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type chatActionParams struct {
	ChatID int64  `json:"chat_id"`
	Action string `json:"action"`
}

type forwardParams struct {
	ChatID     int64 `json:"chat_id"`
	FromChatID int64 `json:"from_chat_id"`
	MessageID  int64 `json:"message_id"`
}

type responseParameters struct {
	RetryAfter int `json:"retry_after,omitempty"`
}
