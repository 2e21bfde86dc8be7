package session_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/guarzo/authsession/common"
	"github.com/guarzo/authsession/modules/auth"
	"github.com/guarzo/authsession/modules/session"
)

func TestSession_Observability(t *testing.T) {
	ts := newTokenServer(t, "B")
	reg := prometheus.NewRegistry()
	metrics := common.NewMetricsCollectorWithRegistry(reg)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	core, logs := observer.New(zapcore.DebugLevel)
	logger := common.NewZapLogger(zap.New(core))

	var calls atomic.Int32
	c := auth.NewCoordinator(auth.NewBearer(refreshTo("B", &calls)),
		auth.WithCredential(auth.Credential{AccessToken: "A"}),
		auth.WithMetrics(metrics),
		auth.WithLogger(logger),
		auth.WithTracer(tp.Tracer("test")),
	)
	s := newSession(t, ts.URL,
		session.WithCoordinator(c),
		session.WithMetrics(metrics),
		session.WithLogger(logger),
		session.WithTracer(tp.Tracer("test")),
	)

	resp := session.Do(s, context.Background(), session.Get[widget]("/widgets/7").Authenticated())
	require.NoError(t, resp.Err)

	require.Eventually(t, func() bool { return len(sr.Ended()) >= 3 }, time.Second, time.Millisecond)
	var requestSpans, refreshSpans int
	var statuses []int64
	for _, span := range sr.Ended() {
		switch span.Name() {
		case "session.request":
			requestSpans++
			for _, kv := range span.Attributes() {
				if kv.Key == attribute.Key("http.response.status_code") {
					statuses = append(statuses, kv.Value.AsInt64())
				}
			}
		case "auth.refresh":
			refreshSpans++
		}
	}
	assert.Equal(t, 2, requestSpans)
	assert.Equal(t, 1, refreshSpans)
	assert.ElementsMatch(t, []int64{http.StatusUnauthorized, http.StatusOK}, statuses)

	assert.Equal(t, 1.0, gatheredValue(t, reg, "authsession_retries_total", auth.RetryReason))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "authsession_requests_total", "401"))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "authsession_requests_total", "200"))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "authsession_credential_refreshes_total", common.RefreshSuccess))

	assert.Equal(t, 1, logs.FilterMessage("retrying request").Len())
	assert.Equal(t, 1, logs.FilterMessage("credential refreshed").Len())
}

func gatheredValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
