package mixer

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const (
	errorMessageResourceNotFound  = "Resource not found"
	errorMessageSerializeResponse = "Failed to serialize success response"

	// last resort when even the error envelope can't be encoded
	fallbackErrorBody = "Failed to serialize error response"
)

// Outcome is what a module handler produces for a single request: either a Response or an ErrorResponse
type Outcome interface {
	StatusCode() int
}

// ResponseHeaders carries response metadata
type ResponseHeaders struct {
	Timestamp int64 `json:"timestamp"`
	Count     *int  `json:"count,omitempty"`
}

// Response is the success envelope
type Response struct {
	Data    interface{}     `json:"data"`
	Headers ResponseHeaders `json:"headers"`
}

// ErrorResponse is the error envelope
type ErrorResponse struct {
	Code    int     `json:"code"`
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

// StatusCode of a success is always 200
func (r *Response) StatusCode() int {
	return CodeOK
}

// StatusCode of an error envelope is its code
func (e *ErrorResponse) StatusCode() int {
	return e.Code
}

// now is swapped out by tests that need stable timestamps
var now = time.Now

// OK builds a success envelope. pass a negative count to leave it out of the headers
func OK(data interface{}, count int) *Response {
	r := &Response{
		Data: data,
		Headers: ResponseHeaders{
			Timestamp: now().Unix(),
		},
	}

	if count >= 0 {
		r.Headers.Count = &count
	}

	return r
}

// Fail builds an error envelope. an empty details string is omitted
func Fail(code int, message string, details string) *ErrorResponse {
	e := &ErrorResponse{
		Code:    code,
		Message: message,
	}

	if details != "" {
		e.Details = &details
	}

	return e
}

// NotFound is the canonical "no such thing" envelope, shared by the dispatcher and the transports
func NotFound() *ErrorResponse {
	return Fail(CodeNotFound, errorMessageResourceNotFound, "")
}

// EncodeOutcome serializes an outcome, degrading to an internal error envelope if that fails
func EncodeOutcome(logger *zap.SugaredLogger, o Outcome) []byte {
	data, err := json.Marshal(o)
	if err == nil {
		return data
	}

	logger.Errorw("Failed to serialize response", "error", err)

	data, err = json.Marshal(Fail(CodeInternalError, errorMessageSerializeResponse, ""))
	if err != nil {
		logger.Errorw("Failed to serialize error response", "error", err)
		return []byte(fallbackErrorBody)
	}

	return data
}
