package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"reelgrab/internal/config"
	"reelgrab/internal/logging"
	"reelgrab/internal/services"
)

// User-facing failure messages.
const (
	MsgPreviewTimeout = "Preview timed out. Try again."
	MsgPreviewFailed  = "Preview failed"
	MsgSubmitTimeout  = "Request timed out. Try again."
	MsgSubmitFailed   = "Failed to start download"
	MsgBundleTimeout  = "ZIP creation timed out."
	MsgBundleFailed   = "Failed to create ZIP"
)

// RequestIDHeader carries the client correlation id.
const RequestIDHeader = "X-Request-ID"

// HTTPDoer describes the HTTP client used by the worker client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one extraction worker.
type Client struct {
	base   *url.URL
	token  string
	http   HTTPDoer
	logger *slog.Logger
}

// New constructs a client for baseURL. A nil doer uses a client without a
// global timeout; every call is bounded by its context instead.
func New(baseURL, token string, doer HTTPDoer, logger *slog.Logger) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("worker base url is required")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse worker base url: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawQuery = ""
	base.Fragment = ""
	if doer == nil {
		doer = &http.Client{}
	}
	return &Client{
		base:   base,
		token:  strings.TrimSpace(token),
		http:   doer,
		logger: logging.NewComponentLogger(logger, "worker"),
	}, nil
}

// NewFromConfig builds a client from the [worker] section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("worker client requires configuration")
	}
	return New(cfg.Worker.BaseURL, cfg.Worker.APIToken, nil, logger)
}

// BaseURL returns the worker origin without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Token returns the pass-through token, if any.
func (c *Client) Token() string {
	return c.token
}

// URL resolves a worker-relative path (which may already contain a query) and
// optional extra query values into an absolute URL.
func (c *Client) URL(path string, query url.Values) string {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	resolved := *c.base
	resolved.Path = c.base.Path + "/" + strings.TrimLeft(ref.Path, "/")
	resolved.RawPath = ""
	values := ref.Query()
	for key, vals := range query {
		for _, v := range vals {
			values.Add(key, v)
		}
	}
	resolved.RawQuery = encodeQuery(values)
	return resolved.String()
}

// encodeQuery is url.Values.Encode without escaping the brackets in array
// keys such as files[], which the worker matches literally.
func encodeQuery(values url.Values) string {
	encoded := values.Encode()
	encoded = strings.ReplaceAll(encoded, "%5B%5D=", "[]=")
	return encoded
}

// Preview fetches metadata for rawURL.
func (c *Client) Preview(ctx context.Context, rawURL string) (Preview, error) {
	var preview Preview
	resp, err := c.postJSON(ctx, "/api/preview", map[string]string{"url": rawURL})
	if err != nil {
		return Preview{}, classify(ctx, err, "preview", MsgPreviewTimeout, MsgPreviewFailed)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "preview", MsgPreviewFailed); err != nil {
		return Preview{}, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&preview); err != nil {
		return Preview{}, services.Wrap(services.ErrWorker, "worker", "preview", MsgPreviewFailed, fmt.Errorf("decode preview: %w", err))
	}
	return preview, nil
}

// Submit starts a job. Audio jobs use the audio extraction endpoint.
func (c *Client) Submit(ctx context.Context, req SubmitRequest, audio bool) (SubmitResponse, error) {
	endpoint := "/api/download"
	if audio {
		endpoint = "/api/download-audio"
	}
	resp, err := c.postJSON(ctx, endpoint, req)
	if err != nil {
		return SubmitResponse{}, classify(ctx, err, "submit", MsgSubmitTimeout, MsgSubmitFailed)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "submit", MsgSubmitFailed); err != nil {
		return SubmitResponse{}, err
	}
	var payload SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return SubmitResponse{}, services.Wrap(services.ErrWorker, "worker", "submit", MsgSubmitFailed, fmt.Errorf("decode submit response: %w", err))
	}
	if payload.DownloadID == "" && !payload.Completed() {
		return SubmitResponse{}, services.Wrap(services.ErrWorker, "worker", "submit", MsgSubmitFailed, errors.New("response carried neither a job id nor artifacts"))
	}
	return payload, nil
}

// Bundle is an open metadata archive stream.
type Bundle struct {
	Filename string
	Size     int64
	Body     io.ReadCloser
}

// MetadataBundle asks the worker to build a zip of media plus metadata. The
// caller must close Bundle.Body.
func (c *Client) MetadataBundle(ctx context.Context, rawURL, platform string) (*Bundle, error) {
	resp, err := c.postJSON(ctx, "/api/download-with-metadata", map[string]string{"url": rawURL, "platform": platform})
	if err != nil {
		return nil, classify(ctx, err, "bundle", MsgBundleTimeout, MsgBundleFailed)
	}
	if err := checkStatus(resp, "bundle", MsgBundleFailed); err != nil {
		resp.Body.Close()
		return nil, err
	}
	filename := DispositionFilename(resp.Header.Get("Content-Disposition"))
	if filename == "" {
		filename = fmt.Sprintf("%s_with_metadata.zip", platform)
	}
	return &Bundle{Filename: filename, Size: resp.ContentLength, Body: resp.Body}, nil
}

// Health probes /api/health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.URL("/api/health", nil), nil)
	if err != nil {
		return Health{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Health{}, classify(ctx, err, "health", "Worker health check timed out", "Worker unreachable")
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "health", "Worker unhealthy"); err != nil {
		return Health{}, err
	}
	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return Health{}, services.Wrap(services.ErrWorker, "worker", "health", "Worker unhealthy", err)
	}
	return health, nil
}

// Fetch issues an authenticated GET for an absolute artifact URL. The caller
// owns the response body.
func (c *Client) Fetch(ctx context.Context, absoluteURL string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, absoluteURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, err, "fetch", "Download timed out", "Download failed")
	}
	if err := checkStatus(resp, "fetch", "Download failed"); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// Do sends req with the worker auth and correlation headers applied.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.decorate(req)
	return c.http.Do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", path, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.URL(path, nil), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	logging.WithContext(ctx, c.logger).Debug("worker request",
		logging.String("method", req.Method),
		logging.String("url", req.URL.String()),
		logging.String(logging.FieldCorrelationID, req.Header.Get(RequestIDHeader)),
	)
	return c.http.Do(req)
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", target, err)
	}
	req.Header.Set("Accept", "application/json")
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set(RequestIDHeader, rid)
	}
	c.decorate(req)
	return req, nil
}

func (c *Client) decorate(req *http.Request) {
	if c.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}
}

// classify maps a transport-level failure to a marker. Supersession
// (context.Canceled) is passed through untouched so callers can drop it silently.
func classify(ctx context.Context, err error, operation, timeoutMessage, failMessage string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, "worker", operation, timeoutMessage, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("worker %s: %w", operation, context.Canceled)
	default:
		return services.Wrap(services.ErrTransport, "worker", operation, failMessage, err)
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func checkStatus(resp *http.Response, operation, fallback string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := fallback
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil {
		if text := strings.TrimSpace(body.Error); text != "" {
			message = text
		} else if text := strings.TrimSpace(body.Message); text != "" {
			message = text
		}
	}
	return services.Wrap(services.ErrWorker, "worker", operation, message, fmt.Errorf("status %d", resp.StatusCode))
}

// DispositionFilename extracts the filename parameter of a Content-Disposition header.
func DispositionFilename(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["filename"])
}
