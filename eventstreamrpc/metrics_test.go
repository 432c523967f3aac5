package eventstreamrpc

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsFollowConnectionLifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	engine := &fakeEngine{}
	config := testConfig(engine)
	config.Metrics = metrics
	connection := NewClientConnection()
	connection.Connect(config, &recordingHandler{})

	native := newFakeConnection()
	attempt := engine.last()
	attempt.callbacks.OnSetup(native, EngineErrorNone)
	attempt.callbacks.OnProtocolMessage(native, MessageArgs{Type: MessageTypeConnectAck, Flags: MessageFlagConnectionAccepted})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connectResults.WithLabelValues(StatusSuccess.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messagesSent.WithLabelValues(MessageTypeConnect.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messagesReceived.WithLabelValues(MessageTypeConnectAck.String())))

	continuation := connection.NewStream(testOperationModel(), nil)
	var results []TaggedResult
	activateStream(t, continuation, &results)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.streamsOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messagesSent.WithLabelValues(MessageTypeApplicationMessage.String())))

	connection.Close()
	attempt.callbacks.OnShutdown(native, EngineErrorNone)
	native.loop.runAll()
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.activeConnections))
}

func TestMetricsRecordFailedConnect(t *testing.T) {
	metrics, err := NewMetrics(nil)
	require.NoError(t, err)

	config := testConfig(&fakeEngine{connectErr: NewEngineError(EngineErrorSocketError, "dial")})
	config.Metrics = metrics
	NewClientConnection().Connect(config, &recordingHandler{})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connectResults.WithLabelValues(StatusConnectionSetupFailed.String())))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.activeConnections))
}

func TestMetricsRegisterTwiceFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewMetrics(registry)
	require.NoError(t, err)
	_, err = NewMetrics(registry)
	assert.Error(t, err)
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var metrics *Metrics
	metrics.connectAttempted()
	metrics.connectResolved(RpcError{})
	metrics.connectionOpened()
	metrics.connectionClosed()
	metrics.streamOpened()
	metrics.messageSent(MessageTypePing)
	metrics.messageReceived(MessageTypePing)
}
