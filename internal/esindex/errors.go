package esindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/roach88/recordsdb/internal/dberr"
)

// errorBody is the error envelope Elasticsearch returns with non-2xx statuses.
type errorBody struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

// ResponseError is a non-2xx answer from the search index.
type ResponseError struct {
	Status int
	Type   string
	Reason string
}

func (e *ResponseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s: %s", e.Status, e.Type, e.Reason)
}

// transportError maps a failed round trip to a dberr error.
func transportError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dberr.Unavailable(err, "%s: deadline", op)
	}
	return dberr.Unavailable(err, "%s: search index unreachable", op)
}

// responseError reads the body of a failed response and classifies it.
func responseError(res *esapi.Response, op string) error {
	re := &ResponseError{Status: res.StatusCode}
	var body errorBody
	data, _ := io.ReadAll(res.Body)
	if json.Unmarshal(data, &body) == nil {
		re.Type, re.Reason = body.Error.Type, body.Error.Reason
	}
	switch {
	case res.StatusCode == http.StatusBadRequest:
		return dberr.Wrap(dberr.CodeInvalidQuery, re, "%s rejected by search index", op)
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return dberr.Unavailable(re, "%s", op)
	case re.Type == "search_context_missing_exception" || res.StatusCode == http.StatusNotFound:
		return dberr.Protocol(re, "%s: scroll context missing", op)
	}
	return dberr.Protocol(re, "%s", op)
}
