package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318/"))
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "localhost:4318", stripScheme("localhost:4318"))
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "shuttled", "", "")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}

func TestNewExporterProtocols(t *testing.T) {
	ctx := context.Background()
	for _, proto := range []string{"", "http/protobuf", "grpc"} {
		exp, err := newExporter(ctx, "localhost:4318", proto)
		require.NoError(t, err, proto)
		require.NoError(t, exp.Shutdown(ctx))
	}
}
