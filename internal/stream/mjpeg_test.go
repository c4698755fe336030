package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSnapshotHandler(t *testing.T) {
	m := NewMJPEGStreamManager(nil)
	s := m.CreateStream("cam1")
	h := NewSnapshotHandler(m)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/video/snapshot/cam1", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before first frame: status = %d", rec.Code)
	}

	s.Publish([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/video/snapshot/cam1", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() != 4 {
		t.Errorf("status = %d, body = %d bytes", rec.Code, rec.Body.Len())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
	if got := m.Snapshot("cam1"); len(got) != 4 {
		t.Errorf("snapshot = %x", got)
	}
	if m.Snapshot("nope") != nil {
		t.Error("snapshot of unknown camera should be nil")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/video/snapshot/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown camera: status = %d", rec.Code)
	}
}

func TestCreateStreamIsIdempotent(t *testing.T) {
	m := NewMJPEGStreamManager(nil)
	a := m.CreateStream("cam1")
	b := m.CreateStream("cam1")
	if a != b {
		t.Error("second CreateStream returned a new stream")
	}
	m.CreateStream("cam0")
	if ids := m.CameraIDs(); len(ids) != 2 || ids[0] != "cam0" {
		t.Errorf("ids = %v", ids)
	}
	if err := m.DeleteStream("cam1"); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteStream("cam1"); err == nil {
		t.Error("deleting a missing stream should fail")
	}
}

func TestMJPEGStreamDeliversFrames(t *testing.T) {
	m := NewMJPEGStreamManager(nil)
	s := m.CreateStream("cam1")
	s.Publish([]byte("first"))

	server := httptest.NewServer(m)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/video/cam1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if got := readPart(t, reader); got != "first" {
		t.Errorf("first part = %q", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Publish([]byte("second"))
	if got := readPart(t, reader); got != "second" {
		t.Errorf("second part = %q", got)
	}
}

func TestClosedStreamRefusesClients(t *testing.T) {
	m := NewMJPEGStreamManager(nil)
	s := m.CreateStream("cam1")
	s.Close()
	s.Close()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/video/cam1", nil))
	if rec.Code != http.StatusGone {
		t.Errorf("status = %d", rec.Code)
	}
}

// readPart reads one multipart frame and returns its payload
func readPart(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var length int
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Content-Length:") {
			var n int
			if _, err := fmt.Sscan(strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:")), &n); err != nil {
				t.Fatalf("content length %q: %v", line, err)
			}
			length = n
		}
		if line == "" && length > 0 {
			break
		}
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	r.ReadString('\n')
	return string(body)
}
