package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Per-call timeouts
const (
	DefaultTimeout = 60 * time.Second
	ExtractTimeout = 90 * time.Second
	RulesTimeout   = 30 * time.Second
)

// Config holds the remote endpoints and credential shared by every call
type Config struct {
	ExtractURL string
	RulesURL   string
	APIKey     string

	// Optional overrides, zero values use the defaults
	HTTPClient     *http.Client
	ExtractTimeout time.Duration
	RulesTimeout   time.Duration
}

// Client talks to the extraction and rule-evaluation services
type Client struct {
	extractURL     string
	rulesURL       string
	apiKey         string
	client         *http.Client
	extractTimeout time.Duration
	rulesTimeout   time.Duration
}

// NewClient creates a new Client
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.ExtractURL == "" {
		return nil, fmt.Errorf("extraction endpoint url is required")
	}
	if cfg.RulesURL == "" {
		return nil, fmt.Errorf("rules endpoint url is required")
	}

	c := &Client{
		extractURL:     cfg.ExtractURL,
		rulesURL:       cfg.RulesURL,
		apiKey:         cfg.APIKey,
		client:         cfg.HTTPClient,
		extractTimeout: cfg.ExtractTimeout,
		rulesTimeout:   cfg.RulesTimeout,
	}
	// Deadlines are applied per call through the request context
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.extractTimeout <= 0 {
		c.extractTimeout = ExtractTimeout
	}
	if c.rulesTimeout <= 0 {
		c.rulesTimeout = RulesTimeout
	}
	return c, nil
}

// CallOptions controls a single Call
type CallOptions struct {
	Timeout  time.Duration
	Encoding Encoding
}

// Call POSTs payload to endpoint and returns the raw response body.
// With EncodingMultipart the payload must be a *Form.
func (c *Client) Call(ctx context.Context, endpoint string, payload any, opts CallOptions) ([]byte, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	body, contentType, err := encodeBody(payload, opts.Encoding)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", opts.Encoding, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	reqID := uuid.NewString()
	start := time.Now()
	slog.Debug("Calling remote endpoint", "req_id", reqID, "endpoint", endpoint, "encoding", opts.Encoding.String())

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("Remote call failed", "req_id", reqID, "endpoint", endpoint, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, classify(ctx, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, endpoint, fmt.Errorf("reading response: %w", err))
	}

	slog.Info("Remote call finished",
		"req_id", reqID,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// callJSON performs a Call and decodes the JSON response into out
func (c *Client) callJSON(ctx context.Context, endpoint string, payload any, opts CallOptions, schema *jsonschema.Schema, out any) error {
	raw, err := c.Call(ctx, endpoint, payload, opts)
	if err != nil {
		return err
	}
	if err := validateResponse(schema, raw); err != nil {
		return &NetworkError{Endpoint: endpoint, Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &NetworkError{Endpoint: endpoint, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// classify maps a failed round trip onto the transport error taxonomy
func classify(ctx context.Context, endpoint string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Endpoint: endpoint}
	}
	return &NetworkError{Endpoint: endpoint, Err: err}
}

func encodeBody(payload any, enc Encoding) (io.Reader, string, error) {
	if enc == EncodingMultipart {
		form, ok := payload.(*Form)
		if !ok {
			return nil, "", fmt.Errorf("multipart payload must be *Form, got %T", payload)
		}
		return form.encode()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshaling request: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

// Form is an ordered multipart/form-data body
type Form struct {
	parts []formPart
}

type formPart struct {
	name        string
	value       string
	filename    string
	contentType string
	data        []byte
	isFile      bool
}

// AddField appends a text field
func (f *Form) AddField(name, value string) {
	f.parts = append(f.parts, formPart{name: name, value: value})
}

// AddFile appends a file part
func (f *Form) AddFile(name, filename, contentType string, data []byte) {
	f.parts = append(f.parts, formPart{
		name:        name,
		filename:    filename,
		contentType: contentType,
		data:        data,
		isFile:      true,
	})
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (f *Form) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, p := range f.parts {
		if !p.isFile {
			if err := w.WriteField(p.name, p.value); err != nil {
				return nil, "", fmt.Errorf("writing field %s: %w", p.name, err)
			}
			continue
		}

		contentType := p.contentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(p.name), quoteEscaper.Replace(p.filename)))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("creating file part %s: %w", p.name, err)
		}
		if _, err := part.Write(p.data); err != nil {
			return nil, "", fmt.Errorf("writing file part %s: %w", p.name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// Source provides the bytes of a file
type Source interface {
	Open() (io.ReadCloser, error)
}

// ReadDocument reads src fully and prepares both the raw and base64 forms.
// Any failure to open or read is returned as a *ReadError.
func ReadDocument(name, contentType string, src Source) (Document, error) {
	if src == nil {
		return Document{}, &ReadError{Name: name, Err: errors.New("no file content")}
	}
	rc, err := src.Open()
	if err != nil {
		return Document{}, &ReadError{Name: name, Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Document{}, &ReadError{Name: name, Err: err}
	}

	return Document{
		Name:        name,
		ContentType: contentType,
		Data:        data,
		Base64:      base64.StdEncoding.EncodeToString(data),
	}, nil
}
