package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/Tutortoise/trash-spawn-service/models"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultRemoteTimeout = 10 * time.Second
	maxResponseBytes     = 1 << 20
)

// RemoteClient posts frames to an HTTP detection endpoint.
type RemoteClient struct {
	url       string
	http      *http.Client
	limiter   *rate.Limiter
	quality   int
	threshold float32
}

// RemoteOption configures a RemoteClient.
type RemoteOption func(*RemoteClient)

func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *RemoteClient) { r.http = c }
}

// WithRateLimit caps outgoing requests per second. Zero or less disables it.
func WithRateLimit(perSecond float64) RemoteOption {
	return func(r *RemoteClient) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithJPEGQuality(q int) RemoteOption {
	return func(r *RemoteClient) { r.quality = q }
}

// WithRemoteThreshold drops remote detections below t.
func WithRemoteThreshold(t float32) RemoteOption {
	return func(r *RemoteClient) { r.threshold = t }
}

func NewRemoteClient(url string, opts ...RemoteOption) *RemoteClient {
	c := &RemoteClient{
		url:     url,
		http:    &http.Client{Timeout: defaultRemoteTimeout},
		quality: DefaultJPEGQuality,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RemoteClient) URL() string {
	return c.url
}

type remoteResponse struct {
	Success    *bool              `json:"success"`
	Error      string             `json:"error"`
	Detections *[]remoteDetection `json:"detections"`
}

type remoteDetection struct {
	Label      string    `json:"label"`
	TrashType  string    `json:"trash_type"`
	Confidence *float32  `json:"confidence"`
	BBox       []float32 `json:"bbox"`
}

// Detect uploads img as JPEG and returns the detections that reach the
// threshold. The error is an *APIError, *NetworkError or *ParseError.
func (c *RemoteClient) Detect(ctx context.Context, img image.Image) ([]models.Detection, error) {
	jpg, err := EncodeJPEG(img, c.quality)
	if err != nil {
		return nil, err
	}

	body, contentType, err := multipartImage(jpg)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{URL: c.url, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, &NetworkError{URL: c.url, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: c.url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{URL: c.url, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	return c.parse(resp.StatusCode, raw)
}

func (c *RemoteClient) parse(status int, raw []byte) ([]models.Detection, error) {
	var parsed remoteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ParseError{Reason: "invalid JSON object", Err: err}
	}
	if parsed.Success != nil && !*parsed.Success {
		msg := parsed.Error
		if msg == "" {
			msg = "remote reported failure"
		}
		return nil, &APIError{StatusCode: status, Message: msg}
	}
	if parsed.Detections == nil {
		return nil, &ParseError{Reason: "missing detections"}
	}

	out := make([]models.Detection, 0, len(*parsed.Detections))
	for i, d := range *parsed.Detections {
		label := d.Label
		if label == "" {
			label = d.TrashType
		}
		if label == "" {
			return nil, &ParseError{Reason: fmt.Sprintf("detection %d has no label", i)}
		}
		if d.Confidence == nil || *d.Confidence < 0 || *d.Confidence > 1 {
			return nil, &ParseError{Reason: fmt.Sprintf("detection %d has no valid confidence", i)}
		}

		box := models.CenterBox
		if d.BBox != nil {
			if len(d.BBox) != 4 {
				return nil, &ParseError{Reason: fmt.Sprintf("detection %d bbox has %d values", i, len(d.BBox))}
			}
			copy(box[:], d.BBox)
			if !box.Valid() {
				return nil, &ParseError{Reason: fmt.Sprintf("detection %d bbox outside [0,1]", i)}
			}
		}

		if *d.Confidence < c.threshold {
			continue
		}
		out = append(out, models.Detection{Label: label, Confidence: *d.Confidence, BBox: box})
	}
	return out, nil
}

func multipartImage(jpg []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(jpg); err != nil {
		return nil, "", fmt.Errorf("write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// errorMessage pulls "error" out of a JSON body, else returns the trimmed text.
func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	msg := string(bytes.TrimSpace(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
