// Package analyzer provides a client for the streaming code analysis API.
//
// FILES:
//   - client.go: API client and stream opening
//   - sigv4.go:  optional request signing for AWS-hosted deployments
//   - types.go:  request/response types
package analyzer

import (
	"errors"
	"fmt"
)

// AnalysisRequest is the payload sent to the upstream analyze endpoint.
type AnalysisRequest struct {
	Snippet  string `json:"snippet"`
	Language string `json:"language"`
	Stream   bool   `json:"stream"`
}

// ErrUnavailable marks transport-level failures reaching the upstream:
// connection refused, DNS failure, timeout. The caller never saw an HTTP
// response.
var ErrUnavailable = errors.New("analyzer: upstream unavailable")

// RejectedError is a non-2xx HTTP response from the upstream. The request
// reached the service and was refused.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("analyzer: upstream rejected request: status=%d body=%q", e.StatusCode, e.Body)
}
