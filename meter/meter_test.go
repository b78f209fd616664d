package meter

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ineyio/askgate"
)

func TestPromMeter_CountsResultsAndSends(t *testing.T) {
	m, err := NewPromMeter(prometheus.NewRegistry())
	require.NoError(t, err)

	m.OnResult(askgate.ResultEvent{Endpoint: "render", Success: true, Duration: 200 * time.Millisecond})
	m.OnResult(askgate.ResultEvent{Endpoint: "conoha", Cancelled: true})
	m.OnResult(askgate.ResultEvent{Endpoint: "conoha", Error: errors.New("boom"), Duration: time.Second})
	m.OnSend(askgate.SendEvent{Plan: askgate.PlanFree, Outcome: askgate.OutcomeAnswered})
	m.OnSend(askgate.SendEvent{Plan: askgate.PlanFree, Outcome: askgate.OutcomeAnswered})
	m.OnSend(askgate.SendEvent{Plan: askgate.PlanPaid, Outcome: askgate.OutcomeCached})

	assert.InDelta(t, 1, testutil.ToFloat64(m.endpointRequests.WithLabelValues("render", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.endpointRequests.WithLabelValues("conoha", "cancelled")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.endpointRequests.WithLabelValues("conoha", "error")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.sends.WithLabelValues("free", "answered")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sends.WithLabelValues("paid", "cached")), 0)

	// Cancelled losers are not timed.
	assert.Equal(t, 2, testutil.CollectAndCount(m.endpointDuration))
}

func TestPromMeter_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPromMeter(reg)
	require.NoError(t, err)

	_, err = NewPromMeter(reg)
	assert.Error(t, err)
}

func TestLogMeter_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := NewLogMeter(zap.New(core))

	m.OnResult(askgate.ResultEvent{RequestID: "r1", Endpoint: "render", Success: true})
	m.OnResult(askgate.ResultEvent{RequestID: "r1", Endpoint: "conoha", Cancelled: true})
	m.OnResult(askgate.ResultEvent{RequestID: "r2", Endpoint: "conoha", Error: errors.New("boom")})
	m.OnSend(askgate.SendEvent{RequestID: "r1", Namespace: "MyohoBokiQA", Outcome: askgate.OutcomeAnswered})

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, "endpoint_result", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "endpoint_cancelled", entries[1].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "endpoint_error", entries[2].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "send", entries[3].Message)
	assert.Equal(t, "answered", entries[3].ContextMap()["outcome"])
}

func TestMulti_FansOut(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prom, err := NewPromMeter(prometheus.NewRegistry())
	require.NoError(t, err)

	m := Multi{prom, NewLogMeter(zap.New(core))}
	m.OnSend(askgate.SendEvent{Plan: askgate.PlanFree, Outcome: askgate.OutcomeNoAnswer})

	assert.InDelta(t, 1, testutil.ToFloat64(prom.sends.WithLabelValues("free", "no_answer")), 0)
	assert.Equal(t, 1, logs.FilterMessage("send").Len())
}

func TestNewLogMeter_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewLogMeter(nil).OnSend(askgate.SendEvent{})
	})
}
