package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/fruit-check/internal/fruit"
	"github.com/example/fruit-check/internal/logging"
)

const (
	predictPath = "/predict"
	fileField   = "file"
)

// Options configures the HTTP classifier client.
type Options struct {
	BaseURL string
	// Timeout bounds a whole call. Zero leaves the call unbounded.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPClient posts images to {BaseURL}/predict as multipart form data.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPClient builds a client for the classifier reachable at opts.BaseURL.
func NewHTTPClient(opts Options, logger *zap.Logger) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("classifier base URL is required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &HTTPClient{
		endpoint: base + predictPath,
		client:   client,
		logger:   logger.Named("classifier"),
	}, nil
}

// Endpoint returns the full predict URL.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

// Classify uploads img and normalizes the classifier's answer.
func (c *HTTPClient) Classify(ctx context.Context, img Image) (fruit.Result, error) {
	body, contentType, err := encodeMultipart(img)
	if err != nil {
		return fruit.Result{}, logging.NewOperationError("classifier.encode", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return fruit.Result{}, logging.NewOperationError("classifier.new_request", "", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("classifier unreachable", zap.String("endpoint", c.endpoint), zap.Error(err))
		return fruit.Result{}, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Warn("classifier rejected request",
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", time.Since(started)),
		)
		return fruit.Result{}, &RequestFailedError{
			StatusCode: resp.StatusCode,
			StatusText: statusText(resp),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fruit.Result{}, &ConnectionError{Err: err}
	}

	var payload fruit.BackendResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Warn("classifier returned malformed body", zap.Error(err), zap.Int("bytes", len(raw)))
		return fruit.Result{}, &ResponseParseError{Err: err}
	}

	if !fruit.Recognized(payload.Class) {
		c.logger.Warn("unrecognized classification label, using fallback",
			zap.String("class", payload.Class),
			zap.String("fallback_type", string(fruit.DefaultType)),
		)
	}

	result := fruit.Normalize(payload)
	c.logger.Debug("classification received",
		zap.String("class", payload.Class),
		zap.Float64("score", payload.Confidence),
		zap.Duration("latency", time.Since(started)),
	)
	return result, nil
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
}

func encodeMultipart(img Image) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	name := img.Name
	if name == "" {
		name = "upload"
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, name))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
