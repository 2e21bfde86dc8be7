package session

import (
	"net/http"

	"github.com/guarzo/authsession/common"
)

// DefaultValidator accepts any 2xx response.
func DefaultValidator(_ *http.Request, resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &ValidationError{
		StatusCode: resp.StatusCode,
		Body:       body,
		Err:        &common.HTTPError{StatusCode: resp.StatusCode, Body: body},
	}
}

// StatusValidator accepts only the listed status codes.
func StatusValidator(codes ...int) Validator {
	return func(req *http.Request, resp *http.Response, body []byte) error {
		if len(codes) == 0 {
			return DefaultValidator(req, resp, body)
		}
		if statusMatches(resp.StatusCode, codes) {
			return nil
		}
		return &ValidationError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Err:        &common.HTTPError{StatusCode: resp.StatusCode, Body: body},
		}
	}
}

func statusMatches(statusCode int, expected []int) bool {
	for _, s := range expected {
		if statusCode == s {
			return true
		}
	}
	return false
}
