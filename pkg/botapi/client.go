package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/teslashibe/go-idmcam/internal/httpc"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Client calls the Bot API with one token.
type Client struct {
	token    string
	baseURL  string
	http     *http.Client
	longPoll *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient replaces both the short-request and long-poll clients.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
		c.longPoll = h
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client.
func New(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	c := &Client{
		token:    token,
		baseURL:  DefaultBaseURL,
		http:     httpc.Client,
		longPoll: httpc.LongPoll,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "botapi")
	return c, nil
}

type envelope struct {
	OK          bool               `json:"ok"`
	Result      json.RawMessage    `json:"result"`
	Description string             `json:"description"`
	ErrorCode   int                `json:"error_code"`
	Parameters  responseParameters `json:"parameters"`
}

func (c *Client) url(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

func (c *Client) callJSON(ctx context.Context, hc *http.Client, method string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("botapi [%s]: marshal: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.url(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("botapi [%s]: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(hc, method, req, out)
}

func (c *Client) do(hc *http.Client, method string, req *http.Request, out any) error {
	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("botapi [%s]: request: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("botapi [%s]: read: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Code: resp.StatusCode, Description: "invalid response body"}
	}
	if !env.OK {
		return &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			Code:        env.ErrorCode,
			Description: env.Description,
			RetryAfter:  env.Parameters.RetryAfter,
		}
	}

	c.logger.Debug("api call", "method", method, "elapsed", time.Since(start))
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("botapi [%s]: decode result: %w", method, err)
	}
	return nil
}

// GetUpdates long-polls for new updates.
func (c *Client) GetUpdates(ctx context.Context, p GetUpdatesParams) ([]Update, error) {
	var updates []Update
	if err := c.callJSON(ctx, c.longPoll, "getUpdates", p, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (*Message, error) {
	var msg Message
	if err := c.callJSON(ctx, c.http, "sendMessage", sendMessageParams{ChatID: chatID, Text: text}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendChatAction shows a status such as "uploading photo".
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.callJSON(ctx, c.http, "sendChatAction", chatActionParams{ChatID: chatID, Action: action}, nil)
}

// ForwardMessage forwards a message to another chat.
func (c *Client) ForwardMessage(ctx context.Context, chatID, fromChatID, messageID int64) (*Message, error) {
	var msg Message
	p := forwardParams{ChatID: chatID, FromChatID: fromChatID, MessageID: messageID}
	if err := c.callJSON(ctx, c.http, "forwardMessage", p, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendPhoto uploads a JPEG as a multipart form.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) (*Message, error) {
	if len(photo) == 0 {
		return nil, ErrEmptyPhoto
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return nil, err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("photo", "camera.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(photo); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url("sendPhoto"), &body)
	if err != nil {
		return nil, fmt.Errorf("botapi [sendPhoto]: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var msg Message
	if err := c.do(c.http, "sendPhoto", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
