// Package inference is the HTTP client for the external classification
// service that analyzes uploaded images and renders PDF reports.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cytomind/gateway/internal/metrics"
	"github.com/google/uuid"
)

// Sentinel errors for inference service failures.
var (
	ErrUnreachable = errors.New("inference service unreachable")
	ErrTimeout     = errors.New("inference service timeout")
	ErrRejected    = errors.New("inference service rejected request")
)

// maxDetailBytes bounds how much of an error body is read into a StatusError.
const maxDetailBytes = 64 << 10

// StatusError is returned when the service answers with a non-2xx status.
// Detail carries the service's own message verbatim.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("inference service returned status %d", e.StatusCode)
	}
	return e.Detail
}

func (e *StatusError) Unwrap() error { return ErrRejected }

// Client is the interface for talking to the inference service.
type Client interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error)
	FetchReport(ctx context.Context, jobID uuid.UUID) (*Report, error)
	Ready(ctx context.Context) error
}

// Image is one uploaded file to forward. Open is called once while the
// multipart body is being written.
type Image struct {
	Filename    string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// AnalyzeRequest is the payload of POST /api/analyze.
type AnalyzeRequest struct {
	JobID       uuid.UUID
	PatientID   string
	PatientName string
	PatientAge  int
	LabID       string
	Images      []Image
}

// AnalyzeResponse is the service's acceptance of a job.
type AnalyzeResponse struct {
	JobID       string `json:"jobId"`
	TotalImages int    `json:"totalImages"`
	Message     string `json:"message"`
}

// Report is an open PDF stream. The caller must close Body.
type Report struct {
	JobID         uuid.UUID
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// HTTPClient implements Client using the inference service's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new inference HTTP client. Each call is a single
// attempt bounded by timeout; nothing is retried.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Analyze streams the images and metadata as multipart/form-data. It returns
// once the service has accepted the job, not when inference finishes.
func (c *HTTPClient) Analyze(ctx context.Context, req AnalyzeRequest) (resp *AnalyzeResponse, err error) {
	start := time.Now()
	defer func() { metrics.ObserveInference("analyze", outcome(err), time.Since(start)) }()

	if len(req.Images) == 0 {
		return nil, fmt.Errorf("analyze: no images")
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeAnalyzeForm(mw, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/analyze", pr)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, statusError(httpResp)
	}

	var out AnalyzeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding analyze response: %w", err)
	}
	return &out, nil
}

// FetchReport opens the PDF stream for a completed job.
func (c *HTTPClient) FetchReport(ctx context.Context, jobID uuid.UUID) (rep *Report, err error) {
	start := time.Now()
	defer func() { metrics.ObserveInference("report", outcome(err), time.Since(start)) }()

	u := fmt.Sprintf("%s/api/reports/%s/pdf", c.baseURL, url.PathEscape(jobID.String()))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/pdf")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		return nil, statusError(httpResp)
	}

	contentType := httpResp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	return &Report{
		JobID:         jobID,
		Body:          httpResp.Body,
		ContentType:   contentType,
		ContentLength: httpResp.ContentLength,
	}, nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: not ready (status %d)", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

func writeAnalyzeForm(mw *multipart.Writer, req AnalyzeRequest) error {
	fields := [][2]string{
		{"job_id", req.JobID.String()},
		{"patient_id", req.PatientID},
		{"patient_name", req.PatientName},
		{"patient_age", strconv.Itoa(req.PatientAge)},
		{"lab_id", req.LabID},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	for _, img := range req.Images {
		if err := writeImagePart(mw, img); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeImagePart(mw *multipart.Writer, img Image) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, img.Filename))
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %s: %w", img.Filename, err)
	}

	rc, err := img.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", img.Filename, err)
	}
	defer rc.Close()

	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("copy %s: %w", img.Filename, err)
	}
	return nil
}

// statusError reads the error body. The service reports failures as
// {"detail": "..."}; anything else is passed through as plain text.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	detail := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil {
			detail = s
		} else {
			detail = string(payload.Detail)
		}
	}
	return &StatusError{StatusCode: resp.StatusCode, Detail: detail}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "unreachable"
	}
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
