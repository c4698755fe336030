package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"moodcam/internal/pipeline"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestExtractJPEGFrame(t *testing.T) {
	frame1 := []byte{0xFF, 0xD8, 1, 2, 3, 0xFF, 0xD9}
	frame2 := []byte{0xFF, 0xD8, 4, 5, 0xFF, 0xD9}

	buf := append([]byte{0x00, 0x01}, frame1...)
	buf = append(buf, frame2[:3]...)

	got := extractJPEGFrame(&buf)
	if !bytes.Equal(got, frame1) {
		t.Fatalf("first frame = %x, want %x", got, frame1)
	}
	if extractJPEGFrame(&buf) != nil {
		t.Fatal("incomplete frame should not be extracted")
	}

	buf = append(buf, frame2[3:]...)
	if got := extractJPEGFrame(&buf); !bytes.Equal(got, frame2) {
		t.Errorf("second frame = %x, want %x", got, frame2)
	}
	if len(buf) != 0 {
		t.Errorf("buffer left with %d bytes", len(buf))
	}
}

func TestExtractJPEGFrameDiscardsGarbage(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5, 0xFF}
	if extractJPEGFrame(&buf) != nil {
		t.Fatal("no frame expected")
	}
	if len(buf) != 1 || buf[0] != 0xFF {
		t.Errorf("buffer = %x, want the trailing marker byte only", buf)
	}
}

func TestBuildFFmpegArgs(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "v4l2",
			cfg:  Config{Device: "/dev/video0", Width: 640, Height: 480, FPS: 15},
			want: []string{"-hide_banner", "-loglevel", "error",
				"-f", "v4l2", "-video_size", "640x480", "-framerate", "15", "-i", "/dev/video0",
				"-f", "image2pipe", "-vcodec", "mjpeg", "-r", "15", "-q:v", "5", "-"},
		},
		{
			name: "rtsp",
			cfg:  Config{Device: "rtsp://cam/stream", FPS: 10},
			want: []string{"-hide_banner", "-loglevel", "error",
				"-rtsp_transport", "tcp", "-i", "rtsp://cam/stream",
				"-f", "image2pipe", "-vcodec", "mjpeg", "-r", "10", "-q:v", "5", "-"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildFFmpegArgs(tt.cfg); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("args = %v\nwant %v", got, tt.want)
			}
		})
	}
}

func TestCheckDeviceMissing(t *testing.T) {
	err := checkDevice(filepath.Join(t.TempDir(), "video9"))
	if !errors.Is(err, pipeline.ErrAcquisition) {
		t.Errorf("err = %v, want acquisition failure", err)
	}
	if err := checkDevice("rtsp://example/stream"); err != nil {
		t.Errorf("network source should not be checked: %v", err)
	}
}

func TestFFmpegSourceMissingDeviceIsAcquisitionFailure(t *testing.T) {
	src := NewFFmpegSource(Config{ID: "cam1", Device: filepath.Join(t.TempDir(), "video0"), FPS: 5}, nil)

	err := src.Open(context.Background())
	if !errors.Is(err, pipeline.ErrAcquisition) {
		t.Errorf("err = %v, want acquisition failure", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("close of unopened source: %v", err)
	}
}

func TestNewSourceSelection(t *testing.T) {
	tests := []struct {
		device string
		want   string
	}{
		{"/dev/video0", "*camera.FFmpegSource"},
		{"rtsp://10.0.0.2/live", "*camera.FFmpegSource"},
		{"http://10.0.0.2/snapshot.jpg", "*camera.SnapshotSource"},
		{"/srv/faces/sample.png", "*camera.StillSource"},
	}
	for _, tt := range tests {
		src, err := NewSource(Config{ID: "c", Device: tt.device}, nil)
		if err != nil {
			t.Fatalf("NewSource(%s): %v", tt.device, err)
		}
		if got := reflect.TypeOf(src).String(); got != tt.want {
			t.Errorf("NewSource(%s) = %s, want %s", tt.device, got, tt.want)
		}
	}

	if _, err := NewSource(Config{ID: "c"}, nil); err == nil {
		t.Error("empty device should be rejected")
	}
}

func TestStillSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.jpg")
	if err := os.WriteFile(path, testJPEG(t, 64, 48), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewStillSource(Config{ID: "cam1", Device: path}, nil)
	if src.ReadyState() != pipeline.ReadyNothing {
		t.Error("source ready before open")
	}
	if _, err := src.CurrentFrame(); !errors.Is(err, pipeline.ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if src.ReadyState() != pipeline.ReadyCurrentFrame {
		t.Errorf("ready state = %s", src.ReadyState())
	}
	img, err := src.CurrentFrame()
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Errorf("size = %v", img.Bounds())
	}

	src.Close()
	if _, err := src.CurrentFrame(); !errors.Is(err, pipeline.ErrNotReady) {
		t.Error("frame still available after close")
	}
}

func TestStillSourceMissingFile(t *testing.T) {
	src := NewStillSource(Config{Device: filepath.Join(t.TempDir(), "none.jpg")}, nil)
	if err := src.Open(context.Background()); !errors.Is(err, pipeline.ErrAcquisition) {
		t.Errorf("err = %v, want acquisition failure", err)
	}
}

func TestSnapshotSource(t *testing.T) {
	frame := testJPEG(t, 32, 24)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(frame)
	}))
	defer server.Close()

	src := NewSnapshotSource(Config{ID: "cam1", Device: server.URL + "/snapshot.jpg", FPS: 5}, server.Client(), nil)
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	if src.ReadyState() != pipeline.ReadyCurrentFrame {
		t.Errorf("ready state = %s", src.ReadyState())
	}
	img, err := src.CurrentFrame()
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if img.Bounds().Dx() != 32 {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
}

func TestSnapshotSourceForbiddenIsAcquisitionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	src := NewSnapshotSource(Config{ID: "cam1", Device: server.URL + "/image"}, server.Client(), nil)
	if err := src.Open(context.Background()); !errors.Is(err, pipeline.ErrAcquisition) {
		t.Errorf("err = %v, want acquisition failure", err)
	}
}
