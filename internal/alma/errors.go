package alma

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrRateLimited is matched by errors.Is for any 429 response, including
// the daily threshold. A batch stops when it sees one.
var ErrRateLimited = errors.New("alma: rate limit exceeded")

// APIError is a non-200 response from the API.
type APIError struct {
	StatusCode int
	Code       string // Alma errorCode, when the body carried one
	Message    string
	TrackingID string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "alma: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Unwrap lets errors.Is(err, ErrRateLimited) see through a 429.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return nil
}

// IsRateLimited reports whether err came from a 429.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// webServiceResult is the error envelope Alma returns with failed calls.
type webServiceResult struct {
	XMLName     xml.Name `xml:"web_service_result"`
	ErrorsExist bool     `xml:"errorsExist"`
	ErrorList   struct {
		Errors []struct {
			Code       string `xml:"errorCode"`
			Message    string `xml:"errorMessage"`
			TrackingID string `xml:"trackingId"`
		} `xml:"error"`
	} `xml:"errorList"`
}

const maxErrorBody = 300

// parseAPIError builds an APIError from a failed response body. Bodies that
// are not Alma error envelopes are kept, truncated, as the message.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var wsr webServiceResult
	if err := xml.Unmarshal(body, &wsr); err == nil && len(wsr.ErrorList.Errors) > 0 {
		first := wsr.ErrorList.Errors[0]
		apiErr.Code = strings.TrimSpace(first.Code)
		apiErr.Message = strings.TrimSpace(first.Message)
		apiErr.TrackingID = strings.TrimSpace(first.TrackingID)
		return apiErr
	}

	msg := string(bytes.TrimSpace(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	apiErr.Message = msg
	return apiErr
}
