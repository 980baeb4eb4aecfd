package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// httpClientTimeout bounds a whole streaming response.
const httpClientTimeout = 10 * time.Minute

var defaultHTTPClient = &http.Client{
	Timeout: httpClientTimeout,
}

// errStreamDone is returned by a frameDecoder once the provider has sent
// its terminal frame; the rest of the body is not read.
var errStreamDone = errors.New("stream done")

// frameDecoder maps provider frames onto canonical events. Each adapter
// supplies one per turn; buffering and line splitting are shared.
type frameDecoder interface {
	// Decode handles one frame. A malformed frame is reported with
	// errMalformedFrame and skipped; errStreamDone ends the stream
	// normally; any other error is fatal for the turn.
	Decode(f Frame, emit func(Event)) error
	// Finish runs once the body ended (or errStreamDone was returned) and
	// emits the turn's final events, EventTurnEnd included.
	Finish(emit func(Event))
}

type malformedFrameError struct {
	cause error
}

func (e *malformedFrameError) Error() string { return "malformed frame: " + e.cause.Error() }
func (e *malformedFrameError) Unwrap() error { return e.cause }

func errMalformedFrame(err error) error {
	return &malformedFrameError{cause: err}
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// streamRequest describes one streaming POST.
type streamRequest struct {
	provider string
	url      string
	headers  map[string]string
	body     []byte
	mode     FrameMode
	// errorFallback is used when the error body carries no message.
	errorFallback string
	// fixedError, if set, replaces any upstream error message.
	fixedError string
}

// runFrameStream performs the request and feeds the body through the
// shared framer into dec, forwarding events until the body ends.
func runFrameStream(ctx context.Context, client *http.Client, sr streamRequest, dec frameDecoder, events chan<- Event) error {
	logger := zerolog.Ctx(ctx).With().Str("provider", sr.provider).Logger()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, sr.url, bytes.NewReader(sr.body))
	if err != nil {
		return errors.Wrapf(err, "%s request", sr.provider)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range sr.headers {
		if value == "" {
			continue
		}
		httpReq.Header.Set(key, value)
	}

	if client == nil {
		client = defaultHTTPClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := readAPIError(resp, sr)
		logger.Error().Int("status", resp.StatusCode).Str("message", apiErr.Message).Msg("upstream request failed")
		return apiErr
	}

	emit := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	reader := NewFrameReader(resp.Body, sr.mode)
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "%s stream", sr.provider)
		}
		err = dec.Decode(frame, emit)
		if err == nil {
			continue
		}
		if errors.Is(err, errStreamDone) {
			break
		}
		var malformed *malformedFrameError
		if errors.As(err, &malformed) {
			logger.Warn().Err(malformed.cause).Str("frame", truncate(frame.Data, 200)).Msg("skipping malformed frame")
			continue
		}
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	dec.Finish(emit)
	return nil
}

// readAPIError reads a non-2xx body and extracts a human message.
func readAPIError(resp *http.Response, sr streamRequest) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	apiErr := &APIError{Provider: sr.provider, StatusCode: resp.StatusCode}
	if sr.fixedError != "" {
		apiErr.Message = sr.fixedError
		return apiErr
	}
	apiErr.Message = extractErrorMessage(body)
	if apiErr.Message == "" {
		apiErr.Message = sr.errorFallback
	}
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("%s API error (status %d)", sr.provider, resp.StatusCode)
	}
	return apiErr
}

// extractErrorMessage finds a message in the common error body shapes:
// {"error":{"message":...}}, {"error":"..."} and {"message":...}.
func extractErrorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "message"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
			return v.String()
		}
	}
	if v := gjson.GetBytes(body, "error"); v.Type == gjson.String {
		return v.String()
	}
	return ""
}
