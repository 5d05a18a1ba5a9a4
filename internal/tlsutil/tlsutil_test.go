package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfig(t *testing.T) {
	cfg := ClientConfig("redis.internal")
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, "redis.internal", cfg.ServerName)
	assert.ElementsMatch(t, aeadSuites, cfg.CipherSuites)

	// 返回的切片互不共享
	cfg.CipherSuites[0] = 0
	assert.NotEqual(t, uint16(0), ClientConfig("").CipherSuites[0])
}

func TestProbeClient(t *testing.T) {
	client := ProbeClient(3 * time.Second)
	assert.Equal(t, 3*time.Second, client.Timeout)

	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, tr.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.Equal(t, 3*time.Second, tr.ResponseHeaderTimeout)
}
