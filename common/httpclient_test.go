package common_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/authsession/common"
)

func TestNewHttpClient(t *testing.T) {
	client := common.NewHttpClient("MyUserAgent", nil)
	require.NotNil(t, client)
	assert.Equal(t, common.DefaultTimeout, client.Client().Timeout)
}

func TestHttpClient_KeepsCallerTimeout(t *testing.T) {
	client := common.NewHttpClient("UA", &http.Client{Timeout: time.Minute})
	assert.Equal(t, time.Minute, client.Client().Timeout)
}

func TestHttpClient_Do(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "TestUserAgent" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "wrong user-agent")
			return
		}
		fmt.Fprint(w, "hello world")
	}))
	defer ts.Close()

	hc := common.NewHttpClient("TestUserAgent", &http.Client{})

	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	resp, err := hc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello world", string(body))
	assert.Empty(t, req.Header.Get("User-Agent"), "original request must not be mutated")
}

func TestHttpClient_RetryWithExponentialBackoff(t *testing.T) {
	called := 0
	operation := func() (interface{}, error) {
		called++
		if called < 3 {
			return nil, &common.HTTPError{
				StatusCode: http.StatusServiceUnavailable,
				Body:       []byte("temporary issue"),
			}
		}
		return "success", nil
	}

	hc := common.NewHttpClient("UA", &http.Client{})
	var slept []time.Duration
	hc.SetSleepForTest(func(d time.Duration) { slept = append(slept, d) })

	res, err := hc.RetryWithExponentialBackoff(context.Background(), operation)
	require.NoError(t, err)
	assert.Equal(t, "success", res)
	assert.Equal(t, 3, called)
	assert.Len(t, slept, 2)
}

func TestHttpClient_RetryStopsOnPermanentError(t *testing.T) {
	called := 0
	hc := common.NewHttpClient("UA", &http.Client{})
	hc.SetSleepForTest(func(time.Duration) {})

	_, err := hc.RetryWithExponentialBackoff(context.Background(), func() (interface{}, error) {
		called++
		return nil, &common.HTTPError{StatusCode: http.StatusBadRequest}
	})

	var httpErr *common.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, 1, called)
}

func TestHttpClient_RetryGivesUpAfterMaxAttempts(t *testing.T) {
	called := 0
	hc := common.NewHttpClient("UA", &http.Client{})
	hc.SetSleepForTest(func(time.Duration) {})

	_, err := hc.RetryWithExponentialBackoff(context.Background(), func() (interface{}, error) {
		called++
		return nil, &common.HTTPError{StatusCode: http.StatusBadGateway}
	})
	require.Error(t, err)
	assert.Equal(t, 5, called)
}

func TestHttpClient_RetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	called := 0
	hc := common.NewHttpClient("UA", &http.Client{})
	hc.SetSleepForTest(func(time.Duration) { cancel() })

	_, err := hc.RetryWithExponentialBackoff(ctx, func() (interface{}, error) {
		called++
		return nil, &common.HTTPError{StatusCode: http.StatusServiceUnavailable}
	})

	var httpErr *common.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, 1, called)
}
