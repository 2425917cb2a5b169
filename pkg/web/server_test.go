package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-idmcam/pkg/camera"
	"github.com/teslashibe/go-idmcam/pkg/frame"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newCamera(t *testing.T, format string) (*frame.SimDriver, *frame.Camera) {
	t.Helper()
	cfg := camera.DefaultConfig()
	cfg.PixelFormat = format
	cfg.Width, cfg.Height = 64, 48
	d, err := frame.NewSimDriver(cfg, frame.Solid(color.RGBA{10, 200, 30, 255}))
	if err != nil {
		t.Fatalf("NewSimDriver failed: %v", err)
	}
	d.SetTimeout(10 * time.Millisecond)
	return d, frame.NewCamera(d, frame.WithLogger(quiet))
}

func get(t *testing.T, s *Server, path string) (int, string, []byte) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest("GET", path, nil), -1)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, resp.Header.Get("Content-Type"), body
}

func TestRoot(t *testing.T) {
	_, cam := newCamera(t, camera.FormatJPEG)
	s := NewServer(":0", cam, WithLogger(quiet))

	code, _, body := get(t, s, "/")
	if code != 200 || string(body) != "ok" {
		t.Errorf("Expected 200 ok, got %d %q", code, body)
	}
}

func TestStillJPEG(t *testing.T) {
	d, cam := newCamera(t, camera.FormatJPEG)
	s := NewServer(":0", cam, WithLogger(quiet))

	code, ctype, body := get(t, s, "/camera.jpg")
	if code != 200 || ctype != "image/jpeg" {
		t.Fatalf("Expected 200 image/jpeg, got %d %s", code, ctype)
	}
	if len(body) < 2 || body[0] != 0xFF || body[1] != 0xD8 {
		t.Error("Expected JPEG body")
	}
	if st := d.Stats(); st.InUse != 0 || st.Returns != st.Gets {
		t.Errorf("Expected frame returned after serving, got %+v", st)
	}
}

func TestStillFromRawFrame(t *testing.T) {
	_, cam := newCamera(t, camera.FormatRGB565)
	s := NewServer(":0", cam, WithLogger(quiet))

	_, ctype, body := get(t, s, "/camera.jpg")
	if ctype != "image/jpeg" || !bytes.HasPrefix(body, []byte{0xFF, 0xD8}) {
		t.Errorf("Expected raw frame to be compressed to JPEG, got %s", ctype)
	}
}

func TestStillNoFramebuffer(t *testing.T) {
	d, cam := newCamera(t, camera.FormatJPEG)
	d.SetWarmup(1)
	s := NewServer(":0", cam, WithLogger(quiet))

	code, ctype, body := get(t, s, "/camera.jpg")
	if code != 200 || string(body) != NoFrameBody {
		t.Errorf("Expected 200 %q, got %d %q", NoFrameBody, code, body)
	}
	if !strings.HasPrefix(ctype, "text/plain") {
		t.Errorf("Expected text/plain, got %s", ctype)
	}
}

func TestStatus(t *testing.T) {
	_, cam := newCamera(t, camera.FormatJPEG)
	s := NewServer(":0", cam, WithLogger(quiet))
	s.OnStatus = func() any { return map[string]int{"frames_sent": 7} }

	get(t, s, "/camera.jpg")
	code, _, body := get(t, s, "/api/status")
	if code != 200 {
		t.Fatalf("Expected 200, got %d", code)
	}

	var status struct {
		Stream map[string]int `json:"stream"`
		Camera frame.Stats    `json:"camera"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if status.Stream["frames_sent"] != 7 {
		t.Errorf("Expected stream status, got %v", status.Stream)
	}
	if status.Camera.Acquired != 1 || status.Camera.Returned != 1 {
		t.Errorf("Expected camera stats, got %+v", status.Camera)
	}
}

func TestCameraConfigAPI(t *testing.T) {
	_, cam := newCamera(t, camera.FormatJPEG)
	m := camera.NewManager(camera.StillConfig())
	s := NewServer(":0", cam, WithLogger(quiet), WithCameraManager(m))

	code, _, _ := get(t, s, "/api/camera")
	if code != 200 {
		t.Fatalf("Expected 200, got %d", code)
	}

	put := func(body string) int {
		req := httptest.NewRequest("PUT", "/api/camera", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.App().Test(req, -1)
		if err != nil {
			t.Fatalf("PUT failed: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := put(`{"preset": "vga"}`); code != 200 {
		t.Errorf("Expected 200 for preset, got %d", code)
	}
	if m.GetConfig().Width != 640 {
		t.Errorf("Expected VGA width, got %d", m.GetConfig().Width)
	}
	if code := put(`{"frame_buffers": 99}`); code != 422 {
		t.Errorf("Expected 422 for invalid buffers, got %d", code)
	}
	if code := put(`not json`); code != 400 {
		t.Errorf("Expected 400 for bad body, got %d", code)
	}

	code, _, body := get(t, s, "/api/camera/presets")
	if code != 200 || !strings.Contains(string(body), "stream") {
		t.Errorf("Expected presets, got %d %s", code, body)
	}
}

func TestCameraConfigUnavailable(t *testing.T) {
	_, cam := newCamera(t, camera.FormatJPEG)
	s := NewServer(":0", cam, WithLogger(quiet))
	if code, _, _ := get(t, s, "/api/camera"); code != 404 {
		t.Errorf("Expected 404 without a manager, got %d", code)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	_, cam := newCamera(t, camera.FormatJPEG)
	s := NewServer(":0", cam, WithLogger(quiet))
	if code, _, _ := get(t, s, "/ws/preview"); code != 426 {
		t.Errorf("Expected 426, got %d", code)
	}
}

func TestPreviewAndProgressWebsockets(t *testing.T) {
	_, cam := newCamera(t, camera.FormatJPEG)
	s := NewServer(":0", cam, WithLogger(quiet))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.previewHub.Run(ctx)
	go s.progressHub.Run(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go s.App().Listener(ln)
	defer s.App().Shutdown()

	base := "ws://" + ln.Addr().String()
	preview, _, err := websocket.DefaultDialer.Dial(base+"/ws/preview", nil)
	if err != nil {
		t.Fatalf("Dial preview failed: %v", err)
	}
	defer preview.Close()
	progress, _, err := websocket.DefaultDialer.Dial(base+"/ws/progress", nil)
	if err != nil {
		t.Fatalf("Dial progress failed: %v", err)
	}
	defer progress.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.previewHub.ClientCount() != 1 || s.progressHub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Clients never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	img := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	s.SendPreview(img)
	preview.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := preview.ReadMessage()
	if err != nil {
		t.Fatalf("Read preview failed: %v", err)
	}
	if mt != websocket.BinaryMessage || !bytes.Equal(data, img) {
		t.Errorf("Expected binary preview, got type %d % x", mt, data)
	}

	s.SendEvent("progress", map[string]int{"sent": 512, "total": 1024})
	progress.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err = progress.ReadMessage()
	if err != nil {
		t.Fatalf("Read progress failed: %v", err)
	}
	var ev struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	if mt != websocket.TextMessage || json.Unmarshal(data, &ev) != nil {
		t.Fatalf("Expected JSON text message, got %s", data)
	}
	if ev.Type != "progress" || ev.Data["sent"] != 512 {
		t.Errorf("Unexpected event %+v", ev)
	}
}
