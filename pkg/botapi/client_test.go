package botapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New("123:abc", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrNoToken) {
		t.Errorf("Expected ErrNoToken, got %v", err)
	}
}

func TestGetUpdates(t *testing.T) {
	var got GetUpdatesParams
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:abc/getUpdates" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"ok":true,"result":[{"update_id":41,"message":{"message_id":7,"chat":{"id":99,"type":"private"},"date":1,"text":"/photo"}}]}`)
	})

	updates, err := c.GetUpdates(context.Background(), GetUpdatesParams{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if got.Offset != -1 || got.Limit != 1 {
		t.Errorf("Expected offset -1 limit 1, got %+v", got)
	}
	if len(updates) != 1 || updates[0].UpdateID != 41 {
		t.Fatalf("Unexpected updates %+v", updates)
	}
	m := updates[0].Message
	if m == nil || m.Text != "/photo" || m.Chat.ID != 99 || m.Chat.Type != ChatPrivate {
		t.Errorf("Unexpected message %+v", m)
	}
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`)
	})

	_, err := c.SendMessage(context.Background(), 1, "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if !apiErr.IsRateLimited() || !apiErr.IsRetryable() || apiErr.RetryAfter != 5 {
		t.Errorf("Unexpected error fields %+v", apiErr)
	}
	if apiErr.Method != "sendMessage" {
		t.Errorf("Expected method sendMessage, got %s", apiErr.Method)
	}
}

func TestInvalidBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>bad gateway</html>")
	})

	err := c.SendChatAction(context.Background(), 1, ActionTyping)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 502 || !apiErr.IsRetryable() {
		t.Errorf("Expected retryable APIError, got %v", err)
	}
}

func TestSendMessageAndForward(t *testing.T) {
	var bodies []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var b map[string]any
		json.NewDecoder(r.Body).Decode(&b)
		b["_path"] = r.URL.Path
		bodies = append(bodies, b)
		io.WriteString(w, `{"ok":true,"result":{"message_id":5,"chat":{"id":1,"type":"private"},"date":1}}`)
	})

	if _, err := c.SendMessage(context.Background(), 10, "Hello!"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if _, err := c.ForwardMessage(context.Background(), 10, 20, 30); err != nil {
		t.Fatalf("ForwardMessage failed: %v", err)
	}

	if bodies[0]["text"] != "Hello!" || bodies[0]["chat_id"] != float64(10) {
		t.Errorf("Unexpected sendMessage body %v", bodies[0])
	}
	if bodies[1]["_path"] != "/bot123:abc/forwardMessage" || bodies[1]["from_chat_id"] != float64(20) || bodies[1]["message_id"] != float64(30) {
		t.Errorf("Unexpected forwardMessage body %v", bodies[1])
	}
}

func TestSendPhotoMultipart(t *testing.T) {
	photo := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("Expected multipart, got %s", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
			return
		}
		if r.FormValue("chat_id") != "42" || r.FormValue("caption") != "240x240" {
			t.Errorf("Unexpected fields chat_id=%q caption=%q", r.FormValue("chat_id"), r.FormValue("caption"))
		}
		f, hdr, err := r.FormFile("photo")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "camera.jpg" || string(data) != string(photo) {
			t.Errorf("Unexpected photo part %s (%d bytes)", hdr.Filename, len(data))
		}
		io.WriteString(w, `{"ok":true,"result":{"message_id":9,"chat":{"id":42,"type":"private"},"date":1}}`)
	})

	msg, err := c.SendPhoto(context.Background(), 42, photo, "240x240")
	if err != nil {
		t.Fatalf("SendPhoto failed: %v", err)
	}
	if msg.MessageID != 9 {
		t.Errorf("Expected message 9, got %d", msg.MessageID)
	}

	if _, err := c.SendPhoto(context.Background(), 42, nil, ""); !errors.Is(err, ErrEmptyPhoto) {
		t.Errorf("Expected ErrEmptyPhoto, got %v", err)
	}
}
