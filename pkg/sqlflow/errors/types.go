package errors

import (
	"fmt"
	"net/http"
)

// HTTPError is a non-2xx response from a model provider.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Endpoint == "" {
		return fmt.Sprintf("model API status %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("model API %s status %d: %s", e.Endpoint, e.StatusCode, msg)
}

// category maps the status onto a handling decision. 529 is Anthropic's
// "overloaded". A 400 usually means the prompt, so another model may cope.
func (e *HTTPError) category() Category {
	switch code := e.StatusCode; {
	case code == http.StatusRequestTimeout, code == http.StatusConflict,
		code == http.StatusTooManyRequests, code == 529:
		return CategoryTransient
	case code == http.StatusBadRequest:
		return CategoryEscalatable
	case code >= 500:
		return CategoryTransient
	default:
		return CategoryPermanent
	}
}

// JSONParseError reports model output that did not contain the expected
// JSON value.
type JSONParseError struct {
	Input   string
	Message string
}

func (e *JSONParseError) Error() string {
	return "decode structured output: " + e.Message
}
