package rp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// errorProbe picks structured error codes out of any RP response body,
// including the per-entry responses of a batch acknowledgement.
type errorProbe struct {
	ErrorCode *int   `json:"errorCode"`
	Message   string `json:"message"`
	Responses []struct {
		ErrorCode *int   `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"responses"`
}

func (p errorProbe) collect() []ErrorRS {
	var errs []ErrorRS
	if p.ErrorCode != nil {
		errs = append(errs, ErrorRS{ErrorCode: *p.ErrorCode, Message: p.Message})
	}
	for _, r := range p.Responses {
		if r.ErrorCode != nil {
			errs = append(errs, ErrorRS{ErrorCode: *r.ErrorCode, Message: r.Message})
		}
	}
	return errs
}

// decodeResponse classifies a response body and decodes it into dst.
// Structured error codes win over the status code; a successful status with
// an empty or unparseable body is reported as malformed.
func decodeResponse(operation string, resp *http.Response, body []byte, dst any) error {
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	trimmed := bytes.TrimSpace(body)

	if len(trimmed) == 0 {
		if !ok {
			return newResponseError(operation, resp.StatusCode, nil, resp.Status)
		}
		if dst != nil {
			return newMalformedError(operation, resp.StatusCode, "empty response")
		}
		return nil
	}

	if trimmed[0] == '{' {
		var probe errorProbe
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			if !ok {
				return newResponseError(operation, resp.StatusCode, nil, string(trimmed))
			}
			return newMalformedError(operation, resp.StatusCode, fmt.Sprintf("invalid response: %v: %s", err, trimmed))
		}
		if errs := probe.collect(); len(errs) > 0 {
			return newResponseError(operation, resp.StatusCode, errs, "")
		}
	}

	if !ok {
		return newResponseError(operation, resp.StatusCode, nil, string(trimmed))
	}

	if dst != nil {
		if err := json.Unmarshal(trimmed, dst); err != nil {
			return newMalformedError(operation, resp.StatusCode, fmt.Sprintf("invalid response: %v: %s", err, trimmed))
		}
	}
	return nil
}
