package distance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// orsCall is one logical ORS request. send turns it into a fresh
// *http.Request on every attempt.
type orsCall struct {
	method string
	path   string
	query  url.Values
	body   any
}

// orsStatusError is a non-2xx ORS reply.
type orsStatusError struct {
	Code    int
	Message string
	// Server hint from Retry-After, zero when absent.
	RetryAfter time.Duration
}

func (e *orsStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ors: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("ors: %d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

// Temporary reports whether ORS may answer differently later: rate limiting
// and gateway or overload replies.
func (e *orsStatusError) Temporary() bool {
	switch e.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryPolicy spaces attempts with doubling backoff capped at ceiling.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
	ceiling  time.Duration
}

// delay is the wait after the given failed attempt (1-based). A longer
// Retry-After from the server wins, still bounded by the ceiling.
func (p retryPolicy) delay(attempt int, err error) time.Duration {
	d := p.backoff
	for i := 1; i < attempt && d < p.ceiling; i++ {
		d *= 2
	}

	var se *orsStatusError
	if errors.As(err, &se) && se.RetryAfter > d {
		d = se.RetryAfter
	}
	return min(d, p.ceiling)
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *orsStatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// call performs c under the client's retry policy and decodes the JSON
// reply into out.
func (o *ORSClient) call(ctx context.Context, c orsCall, out any) error {
	var payload []byte
	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			return fmt.Errorf("ors %s: encode body: %w", c.path, err)
		}
		payload = b
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := o.send(ctx, c, payload, out)
		if err == nil {
			return nil
		}
		if attempt >= o.retry.attempts || !shouldRetry(err) {
			return err
		}

		wait := time.NewTimer(o.retry.delay(attempt, err))
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-wait.C:
		}
	}
}

func (o *ORSClient) send(ctx context.Context, c orsCall, payload []byte, out any) error {
	target := o.baseURL + c.path
	if len(c.query) > 0 {
		target += "?" + c.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, target, body)
	if err != nil {
		return fmt.Errorf("ors %s: %w", c.path, err)
	}
	req.Header.Set("Authorization", o.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.session.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ors %s: decode response: %w", c.path, err)
	}
	return nil
}

// statusError reads the ORS error envelope. Matrix replies nest the text as
// {"error":{"message":...}}, geocode replies use a plain {"error":"..."};
// anything else is kept as trimmed text.
func statusError(resp *http.Response) *orsStatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	e := &orsStatusError{
		Code:       resp.StatusCode,
		Message:    strings.TrimSpace(string(raw)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) != nil || len(envelope.Error) == 0 {
		return e
	}
	var nested struct {
		Message string `json:"message"`
	}
	var plain string
	switch {
	case json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "":
		e.Message = nested.Message
	case json.Unmarshal(envelope.Error, &plain) == nil && plain != "":
		e.Message = plain
	}
	return e
}

// parseRetryAfter accepts both delay-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(0, time.Until(at))
	}
	return 0
}
