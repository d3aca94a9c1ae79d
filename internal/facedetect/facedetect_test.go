package facedetect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/alerts"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/httpc"
)

func TestDetectionResult_CurrentShape(t *testing.T) {
	var r DetectionResult
	err := json.Unmarshal([]byte(`{
		"face_count": 2,
		"suspicious": true,
		"suspicious_duration": 3.5,
		"faces": [{"box":[1,2,3,4],"confidence":0.9,"type":"full"},{"box":[5,6,7,8],"confidence":0.4,"type":"partial"}],
		"annotated_image_base64": "abc",
		"timestamp": "2024-01-01T00:00:00"
	}`), &r)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if r.FaceCount != 2 || !r.Suspicious || r.SuspiciousDuration == nil || *r.SuspiciousDuration != 3.5 {
		t.Errorf("result = %+v", r)
	}
	if len(r.Faces) != 2 || r.Faces[1].Type != "partial" || r.Faces[0].Box[3] != 4 {
		t.Errorf("faces = %+v", r.Faces)
	}
	if r.AnnotatedImage != "abc" {
		t.Errorf("annotated = %q", r.AnnotatedImage)
	}
}

func TestDetectionResult_LegacyShape(t *testing.T) {
	var r DetectionResult
	err := json.Unmarshal([]byte(`{
		"num_faces": 0,
		"multiple_people": false,
		"cheating_detected": true,
		"cheating_duration": 1.25,
		"annotated_frame": "xyz"
	}`), &r)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if r.FaceCount != 0 || !r.Suspicious || *r.SuspiciousDuration != 1.25 || r.AnnotatedImage != "xyz" {
		t.Errorf("result = %+v", r)
	}
}

func TestDetectionResult_CountFallbacks(t *testing.T) {
	var fromFaces DetectionResult
	if err := json.Unmarshal([]byte(`{"faces":[{"box":[0,0,1,1]}]}`), &fromFaces); err != nil {
		t.Fatal(err)
	}
	if fromFaces.FaceCount != 1 {
		t.Errorf("count from faces = %d, want 1", fromFaces.FaceCount)
	}

	var unknown DetectionResult
	if err := json.Unmarshal([]byte(`{}`), &unknown); err != nil {
		t.Fatal(err)
	}
	if unknown.FaceCount != -1 {
		t.Errorf("unknown count = %d, want -1", unknown.FaceCount)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		result *DetectionResult
		err    error
		want   Status
	}{
		{"one face", &DetectionResult{FaceCount: 1}, nil, StatusGood},
		{"two faces", &DetectionResult{FaceCount: 2}, nil, StatusWarning},
		{"no face", &DetectionResult{FaceCount: 0}, nil, StatusNoFace},
		{"unknown count", &DetectionResult{FaceCount: -1}, nil, StatusIdle},
		{"nil result", nil, nil, StatusIdle},
		{"error wins", &DetectionResult{FaceCount: 1}, errors.New("boom"), StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.result, tt.err); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatus_Message(t *testing.T) {
	if StatusWarning.Message() != "Multiple faces detected! Warning!" {
		t.Errorf("warning message = %q", StatusWarning.Message())
	}
	if StatusIdle.Message() != "Loading camera..." {
		t.Errorf("idle message = %q", StatusIdle.Message())
	}
}

func TestClient_DetectMultipart(t *testing.T) {
	frame := []byte("\xff\xd8jpeg-bytes\xff\xd9")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/detect" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "frame.jpg" {
			t.Errorf("filename = %q", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part content type = %q", ct)
		}
		got, _ := io.ReadAll(file)
		if !bytes.Equal(got, frame) {
			t.Errorf("uploaded bytes differ")
		}
		w.Write([]byte(`{"face_count":1,"suspicious":false,"faces":[]}`))
	}))
	defer srv.Close()

	c := NewClient(config.FaceDetectionConfig{URL: srv.URL + "/detect", Timeout: 5 * time.Second})
	result, err := c.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if result.FaceCount != 1 {
		t.Errorf("FaceCount = %d", result.FaceCount)
	}
}

func TestClient_DetectAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"file required"}`))
	}))
	defer srv.Close()

	c := NewClient(config.FaceDetectionConfig{URL: srv.URL + "/detect", Timeout: 5 * time.Second})
	_, err := c.Detect(context.Background(), []byte("x"))

	var apiErr *httpc.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *httpc.APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Message != "file required" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestClient_Stream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]any{"face_count": 1})
		conn.WriteJSON(map[string]any{"face_count": 3, "suspicious": true})
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}))
	defer srv.Close()

	c := NewClient(config.FaceDetectionConfig{
		StreamURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Timeout:   5 * time.Second,
	})

	var counts []int
	err := c.Stream(context.Background(), func(r *DetectionResult) {
		counts = append(counts, r.FaceCount)
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(counts) != 2 || counts[0] != 1 || counts[1] != 3 {
		t.Errorf("counts = %v", counts)
	}
}

func TestClient_StreamRequiresURL(t *testing.T) {
	c := NewClient(config.FaceDetectionConfig{})
	if err := c.Stream(context.Background(), func(*DetectionResult) {}); err == nil {
		t.Error("expected error")
	}
}

type fakeDetector struct {
	mu      sync.Mutex
	results []*DetectionResult
	errs    []error
	calls   int
}

func (d *fakeDetector) Detect(context.Context, []byte) (*DetectionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	return d.results[i], d.errs[i]
}

func (d *fakeDetector) Stream(ctx context.Context, fn func(*DetectionResult)) error {
	<-ctx.Done()
	return nil
}

type pngSource struct{ data []byte }

func (s pngSource) Frame(context.Context) ([]byte, error) { return s.data, nil }

func newPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type recordingDispatcher struct {
	got []alerts.Alert
}

func (r *recordingDispatcher) Dispatch(_ context.Context, a alerts.Alert) {
	r.got = append(r.got, a)
}

type fixedSession string

func (s fixedSession) SessionID() string { return string(s) }

func TestWatcher_AlertsOnTransitionsOnly(t *testing.T) {
	det := &fakeDetector{
		results: []*DetectionResult{
			{FaceCount: 1},
			{FaceCount: 2, Suspicious: true},
			{FaceCount: 2, Suspicious: true},
			{FaceCount: 0},
			nil,
			nil,
			{FaceCount: 1},
		},
		errs: []error{nil, nil, nil, nil, errors.New("timeout"), errors.New("timeout"), nil},
	}
	d := &recordingDispatcher{}
	w := NewWatcher(config.Default().FaceDetection, det, pngSource{newPNG(t)}, d, fixedSession("s-1"), nil, nil)

	want := []Status{StatusGood, StatusWarning, StatusWarning, StatusNoFace, StatusError, StatusError, StatusGood}
	for i, ws := range want {
		if got := w.Check(context.Background()); got != ws {
			t.Fatalf("check %d: status = %s, want %s", i, got, ws)
		}
	}

	var types []alerts.Type
	for _, a := range d.got {
		types = append(types, a.Type)
	}
	wantTypes := []alerts.Type{alerts.TypeMultipleFaces, alerts.TypeNoFace, alerts.TypeFaceDetectionError}
	if len(types) != len(wantTypes) {
		t.Fatalf("alerts = %v, want %v", types, wantTypes)
	}
	for i := range wantTypes {
		if types[i] != wantTypes[i] {
			t.Errorf("alert %d = %s, want %s", i, types[i], wantTypes[i])
		}
	}

	multi := d.got[0]
	if multi.Severity != alerts.SeverityCritical || multi.SessionID != "s-1" || multi.Details["face_count"] != 2 {
		t.Errorf("multiple faces alert = %+v", multi)
	}
	if d.got[2].Details["error"] != "timeout" {
		t.Errorf("error alert details = %v", d.got[2].Details)
	}
}

func TestWatcher_Snapshot(t *testing.T) {
	det := &fakeDetector{
		results: []*DetectionResult{nil},
		errs:    []error{errors.New("connection refused")},
	}
	w := NewWatcher(config.Default().FaceDetection, det, pngSource{newPNG(t)}, &recordingDispatcher{}, nil, nil, nil)

	if snap := w.Snapshot(); snap.Status != StatusIdle || snap.UpdatedAt != nil {
		t.Errorf("initial snapshot = %+v", snap)
	}

	w.Check(context.Background())
	snap := w.Snapshot()
	if snap.Status != StatusError || snap.Error != "connection refused" || snap.FaceCount != nil {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Message != "Error: Could not process frame." {
		t.Errorf("message = %q", snap.Message)
	}
}

func TestWatcher_BadFrameIsError(t *testing.T) {
	det := &fakeDetector{}
	w := NewWatcher(config.Default().FaceDetection, det, pngSource{[]byte("garbage")}, &recordingDispatcher{}, nil, nil, nil)

	if got := w.Check(context.Background()); got != StatusError {
		t.Errorf("status = %s, want error", got)
	}
	if det.calls != 0 {
		t.Error("detector should not see an undecodable frame")
	}
}
