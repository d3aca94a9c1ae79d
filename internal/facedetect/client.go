package facedetect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/httpc"
)

// ServiceName labels face detection calls in metrics and health.
const ServiceName = "facedetect"

var errNoStreamURL = errors.New("facedetect: stream_url not configured")

// Client talks to the face detection backend over HTTP and websocket.
type Client struct {
	url         string
	streamURL   string
	readTimeout time.Duration
	http        *http.Client
	dialer      *websocket.Dialer
}

func NewClient(cfg config.FaceDetectionConfig) *Client {
	return &Client{
		url:         cfg.URL,
		streamURL:   cfg.StreamURL,
		readTimeout: cfg.Timeout,
		http:        httpc.NewClient(cfg.Timeout),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Detect uploads one JPEG frame as multipart field "file".
func (c *Client) Detect(ctx context.Context, jpeg []byte) (*DetectionResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("facedetect: %w", err)
	}
	defer resp.Body.Close()

	if err := httpc.CheckResponse(resp, ServiceName, "/detect"); err != nil {
		return nil, err
	}

	var result DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("facedetect: decode response: %w", err)
	}
	return &result, nil
}

// Stream reads detection results pushed by the backend's websocket until ctx
// is cancelled or the server closes the socket. A cancelled ctx or a normal
// close returns nil.
func (c *Client) Stream(ctx context.Context, fn func(*DetectionResult)) error {
	if c.streamURL == "" {
		return errNoStreamURL
	}

	conn, _, err := c.dialer.DialContext(ctx, c.streamURL, nil)
	if err != nil {
		return fmt.Errorf("facedetect: dial %s: %w", c.streamURL, err)
	}
	defer conn.Close()

	// Unblock ReadMessage on cancel
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		if c.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("facedetect: stream: %w", err)
		}

		var result DetectionResult
		if err := json.Unmarshal(data, &result); err != nil {
			return fmt.Errorf("facedetect: decode stream message: %w", err)
		}
		fn(&result)
	}
}
