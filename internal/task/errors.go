package task

import "net/http"

// ReasonForHTTPStatus buckets an HTTP response status into a Reason per the
// error-handling design (§7): Transport-bucket codes (408, 429, 5xx) are
// retriable; Semantic-bucket 4xx are terminal.
func ReasonForHTTPStatus(status int) Reason {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return ReasonRequestError
	case status >= 500:
		return ReasonRequestError
	case status >= 400:
		return ReasonProtocolError
	default:
		return ReasonDefault
	}
}

// RetriableHTTPStatus mirrors Reason.Retriable for raw status codes, for use
// before a Reason has been assigned.
func RetriableHTTPStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500
}
