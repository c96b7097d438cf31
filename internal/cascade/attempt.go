package cascade

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	perrors "github.com/ferryman-dev/ferryman/pkg/errors"
	"github.com/ferryman-dev/ferryman/pkg/types"
)

// errorBodyLimit bounds how much of an upstream error body is read for the
// message.
const errorBodyLimit = 8 << 10

// dispatch performs one HTTP attempt against a tier. On success it returns
// either the parsed canonical response (non-streaming) or the unread response
// body (streaming). All failures come back as *perrors.ProxyError.
func (e *Executor) dispatch(ctx context.Context, pt *plannedTier, req *types.Request, stream bool) (*types.Response, io.ReadCloser, error) {
	attemptReq := req.Clone()
	attemptReq.Model = pt.model
	attemptReq.Stream = stream

	body, err := pt.adapter.MarshalRequest(attemptReq)
	if err != nil {
		return nil, nil, perrors.NewTranslationError("marshal request: " + err.Error())
	}
	body, err = pt.chain.RewriteRequest(body)
	if err != nil {
		return nil, nil, perrors.NewTranslationError("request transform: " + err.Error())
	}

	url := strings.TrimRight(pt.provider.BaseURL, "/") + pt.adapter.Path()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, perrors.NewTransportError(pt.provider.Name, pt.model, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	pt.adapter.DecorateHeaders(httpReq.Header, pt.provider.APIKey)
	for k, v := range pt.provider.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range pt.chain.Headers() {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, perrors.NewCancelledError("request cancelled")
		}
		return nil, nil, perrors.NewTransportError(pt.provider.Name, pt.model, err.Error())
	}

	if err := e.classifyStatus(resp, pt); err != nil {
		return nil, nil, err
	}

	if stream {
		return nil, resp.Body, nil
	}

	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, perrors.NewCancelledError("request cancelled")
		}
		return nil, nil, perrors.NewTransportError(pt.provider.Name, pt.model, "read response: "+err.Error())
	}
	raw, err = pt.chain.RewriteResponse(raw)
	if err != nil {
		return nil, nil, perrors.NewTranslationError("response transform: " + err.Error())
	}
	parsed, err := pt.adapter.ParseResponse(raw)
	if err != nil {
		return nil, nil, perrors.NewTranslationError("parse response: " + err.Error())
	}
	return parsed, nil, nil
}

// classifyStatus maps a non-2xx response into the error taxonomy, consuming
// and closing the body. A 2xx passes through with the body untouched.
func (e *Executor) classifyStatus(resp *http.Response, pt *plannedTier) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	message := readErrorMessage(resp)
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return perrors.NewRateLimitedError(pt.provider.Name, pt.model, message, retryAfter)
	case resp.StatusCode >= 500:
		return perrors.NewUpstreamServerError(pt.provider.Name, pt.model, resp.StatusCode, message)
	default:
		return perrors.NewUpstreamClientError(pt.provider.Name, pt.model, resp.StatusCode, message)
	}
}

// readErrorMessage extracts a human-readable message from an error body,
// preferring the structured error.message field both dialect families use.
func readErrorMessage(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	if err != nil || len(raw) == 0 {
		return http.StatusText(resp.StatusCode)
	}
	if msg := gjson.GetBytes(raw, "error.message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	if msg := gjson.GetBytes(raw, "message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return http.StatusText(resp.StatusCode)
	}
	return trimmed
}

// parseRetryAfter handles both Retry-After forms: delta-seconds (preferred)
// and an HTTP-date. Zero means "no usable hint".
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
