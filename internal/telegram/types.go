package telegram

// Update is one item from getUpdates or a webhook delivery.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message is an inbound chat message.
type Message struct {
	MessageID       int64        `json:"message_id"`
	ThreadID        int64        `json:"message_thread_id,omitempty"`
	IsTopicMessage  bool         `json:"is_topic_message,omitempty"`
	From            *User        `json:"from,omitempty"`
	Chat            Chat         `json:"chat"`
	Date            int64        `json:"date"`
	Text            string       `json:"text,omitempty"`
	Caption         string       `json:"caption,omitempty"`
	Photo           []PhotoSize  `json:"photo,omitempty"`
	ReplyTo         *Message     `json:"reply_to_message,omitempty"`
	Entities        []Entity     `json:"entities,omitempty"`
}

// CallbackQuery is a button press on an inline keyboard.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat is the group (tenant scope) a message belongs to.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup"
	Title string `json:"title,omitempty"`
}

// PhotoSize is one resolution of an attached photo.
type PhotoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Entity marks a span of message text (commands, mentions).
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// inlineKeyboardMarkup is the wire form of an inline keyboard.
type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
}
