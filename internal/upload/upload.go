// Package upload puts one binary payload into object storage using a
// signed-URL flow: the backend signs, the payload is PUT to the signed URL.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	StageSign = "sign"
	StagePut  = "put"

	aclHeader = "x-amz-acl"
	aclPublic = "public-read"
)

// File is the metadata attached to a payload before upload.
type File struct {
	Name        string
	ContentType string
}

// Options are per-upload settings.
type Options struct {
	SigningPath string
	Headers     map[string]string
}

// Result describes a finished upload.
type Result struct {
	PublicURL string
	SignedURL string
	Filename  string
}

// Error reports which step of the upload failed.
type Error struct {
	Stage  string
	Status int
	Cause  error
}

func (e *Error) Error() string {
	switch {
	case e.Cause != nil && e.Status != 0:
		return fmt.Sprintf("upload: %s: status %d: %v", e.Stage, e.Status, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("upload: %s: %v", e.Stage, e.Cause)
	default:
		return fmt.Sprintf("upload: %s: status %d", e.Stage, e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Config configures an Uploader.
type Config struct {
	// Server is the origin the signing path is resolved against.
	Server     string
	HTTPClient *http.Client
	// Decorate adds credentials to the signing request.
	Decorate func(ctx context.Context, req *http.Request)
}

// Uploader performs signed uploads. It makes a single attempt per call.
type Uploader struct {
	server   string
	http     *http.Client
	decorate func(ctx context.Context, req *http.Request)
}

// New creates an Uploader.
func New(cfg Config) *Uploader {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Uploader{
		server:   strings.TrimRight(cfg.Server, "/"),
		http:     hc,
		decorate: cfg.Decorate,
	}
}

// Handle represents one running upload.
type Handle struct {
	file   File
	cancel context.CancelFunc
	done   chan struct{}
}

// File returns the metadata the upload was started with.
func (h *Handle) File() File { return h.file }

// Cancel aborts the upload; the error callback fires with the context error.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed after the terminal callback returns.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Start runs the upload in the background. Exactly one of onFinish or
// onError is called.
func (u *Uploader) Start(ctx context.Context, payload []byte, file File, opts Options, onFinish func(Result), onError func(error)) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{file: file, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		res, err := u.Upload(ctx, payload, file, opts)
		if err != nil {
			onError(err)
			return
		}
		onFinish(res)
	}()
	return h
}

// Upload signs and uploads payload, blocking until done.
func (u *Uploader) Upload(ctx context.Context, payload []byte, file File, opts Options) (Result, error) {
	signed, err := u.sign(ctx, file, opts.SigningPath)
	if err != nil {
		return Result{}, err
	}
	if err := u.put(ctx, signed.SignedURL, payload, file, opts.Headers); err != nil {
		return Result{}, err
	}

	publicURL := signed.PublicURL
	if publicURL == "" {
		publicURL = stripQuery(signed.SignedURL)
	}
	slog.Debug("upload finished", "filename", file.Name, "public_url", publicURL, "bytes", len(payload))
	return Result{PublicURL: publicURL, SignedURL: signed.SignedURL, Filename: file.Name}, nil
}

type signResponse struct {
	SignedURL string `json:"signedUrl"`
	PublicURL string `json:"publicUrl"`
}

func (u *Uploader) sign(ctx context.Context, file File, signingPath string) (signResponse, error) {
	body, err := json.Marshal(struct {
		ObjectName  string `json:"objectName"`
		ContentType string `json:"contentType"`
	}{ObjectName: file.Name, ContentType: file.ContentType})
	if err != nil {
		return signResponse{}, &Error{Stage: StageSign, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.server+signingPath, bytes.NewReader(body))
	if err != nil {
		return signResponse{}, &Error{Stage: StageSign, Cause: err}
	}
	if u.decorate != nil {
		u.decorate(ctx, req)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.http.Do(req)
	if err != nil {
		return signResponse{}, &Error{Stage: StageSign, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return signResponse{}, &Error{Stage: StageSign, Status: resp.StatusCode}
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return signResponse{}, &Error{Stage: StageSign, Status: resp.StatusCode, Cause: err}
	}
	if out.SignedURL == "" {
		return signResponse{}, &Error{Stage: StageSign, Status: resp.StatusCode, Cause: fmt.Errorf("empty signedUrl")}
	}
	return out, nil
}

func (u *Uploader) put(ctx context.Context, signedURL string, payload []byte, file File, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, bytes.NewReader(payload))
	if err != nil {
		return &Error{Stage: StagePut, Cause: err}
	}
	req.Header.Set("Content-Type", file.ContentType)
	req.Header.Set(aclHeader, aclPublic)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return &Error{Stage: StagePut, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Stage: StagePut, Status: resp.StatusCode}
	}
	return nil
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
