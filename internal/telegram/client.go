// Package telegram is a minimal typed client for the Telegram Bot API
// covering the surface the bridge needs: long polling, HTML messages into
// forum topics, photos, and inline keyboards.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/signalpost/signalpost/internal/format"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Client talks to the Telegram Bot API. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	Token   string
	BaseURL string        // defaults to DefaultBaseURL
	Timeout time.Duration // per-request timeout; defaults to 65s to cover long polls
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 65 * time.Second
	}
	return &Client{
		baseURL: base,
		token:   opts.Token,
		httpc:   &http.Client{Timeout: timeout},
	}, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// call posts one Bot API method. The result, when requested, is decoded
// into out.
func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("telegram: build %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return fmt.Errorf("telegram: %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if !ar.OK {
		return fmt.Errorf("telegram: %s: %s", method, ar.Description)
	}
	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// GetUpdates long-polls for updates and returns them with the next offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 30
	}
	var updates []Update
	err := c.call(ctx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        secs,
		AllowedUpdates: []string{"message", "callback_query"},
	}, &updates)
	if err != nil {
		return nil, offset, err
	}
	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

type sendMessageRequest struct {
	ChatID              int64                 `json:"chat_id"`
	ThreadID            int64                 `json:"message_thread_id,omitempty"`
	Text                string                `json:"text"`
	ParseMode           string                `json:"parse_mode,omitempty"`
	DisableNotification bool                  `json:"disable_notification,omitempty"`
	ReplyMarkup         *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type sendPhotoRequest struct {
	ChatID              int64                 `json:"chat_id"`
	ThreadID            int64                 `json:"message_thread_id,omitempty"`
	Photo               string                `json:"photo"`
	Caption             string                `json:"caption,omitempty"`
	ParseMode           string                `json:"parse_mode,omitempty"`
	DisableNotification bool                  `json:"disable_notification,omitempty"`
	ReplyMarkup         *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// Send delivers a rendered message into a chat thread. Messages with an
// image URL go out as photos with the HTML as caption; everything else as
// an HTML text message. The silent flag maps to disable_notification.
func (c *Client) Send(ctx context.Context, chatID, threadID int64, msg format.Message) error {
	markup := toMarkup(msg.Keyboard)
	if msg.ImageURL != "" {
		return c.call(ctx, "sendPhoto", sendPhotoRequest{
			ChatID:              chatID,
			ThreadID:            threadID,
			Photo:               msg.ImageURL,
			Caption:             msg.HTML,
			ParseMode:           "HTML",
			DisableNotification: msg.Silent,
			ReplyMarkup:         markup,
		}, nil)
	}
	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:              chatID,
		ThreadID:            threadID,
		Text:                msg.HTML,
		ParseMode:           "HTML",
		DisableNotification: msg.Silent,
		ReplyMarkup:         markup,
	}, nil)
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

// AnswerCallback acknowledges a button press, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackRequest{
		CallbackQueryID: callbackID,
		Text:            text,
	}, nil)
}

type editReplyMarkupRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	ReplyMarkup *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditReplyMarkup swaps the inline keyboard on an existing message (used to
// page through the source picker).
func (c *Client) EditReplyMarkup(ctx context.Context, chatID, messageID int64, keyboard [][]format.Button) error {
	return c.call(ctx, "editMessageReplyMarkup", editReplyMarkupRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		ReplyMarkup: toMarkup(keyboard),
	}, nil)
}

// Me fetches the bot's own account (used at startup for mention handling
// and as a token check).
func (c *Client) Me(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", struct{}{}, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

func toMarkup(keyboard [][]format.Button) *inlineKeyboardMarkup {
	if len(keyboard) == 0 {
		return nil
	}
	markup := &inlineKeyboardMarkup{}
	for _, row := range keyboard {
		var buttons []inlineKeyboardButton
		for _, b := range row {
			buttons = append(buttons, inlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}
	return markup
}
