// File: internal/network/httpclient_test.go
package network

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/reconctl/internal/config"
)

func TestNewDefaultClientConfig(t *testing.T) {
	cfg := NewDefaultClientConfig()
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.True(t, cfg.ForceHTTP2)
	assert.False(t, cfg.IgnoreTLSErrors)
	assert.Nil(t, cfg.ProxyURL)
}

func TestClientConfigFromBackend(t *testing.T) {
	backend := config.BackendConfig{
		Timeout:         7 * time.Second,
		IgnoreTLSErrors: true,
		Proxy:           "http://127.0.0.1:8081",
	}
	cc, err := ClientConfigFromBackend(backend, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cc.RequestTimeout)
	assert.True(t, cc.IgnoreTLSErrors)
	require.NotNil(t, cc.ProxyURL)
	assert.Equal(t, "127.0.0.1:8081", cc.ProxyURL.Host)

	_, err = ClientConfigFromBackend(config.BackendConfig{Proxy: "http://[::1"}, nil)
	assert.Error(t, err)
}

func TestNewHTTPTransport(t *testing.T) {
	cfg := NewDefaultClientConfig()
	cfg.IgnoreTLSErrors = true
	transport := NewHTTPTransport(cfg)

	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
	assert.True(t, transport.DisableCompression, "compression is handled by the middleware")
	assert.Equal(t, DefaultMaxIdleConnsPerHost, transport.MaxIdleConnsPerHost)
}

func TestNewClient_WrapsCompression(t *testing.T) {
	client := NewClient(nil)
	_, ok := client.Transport.(*CompressionMiddleware)
	assert.True(t, ok)

	cfg := NewDefaultClientConfig()
	cfg.DisableCompression = true
	plain := NewClient(cfg)
	_, ok = plain.Transport.(*http.Transport)
	assert.True(t, ok)
}

func TestNewClient_RoutesThroughProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"task_id":"t-1"}`)
	}))
	defer backend.Close()

	var proxied atomic.Int32
	proxy := goproxy.NewProxyHttpServer()
	proxy.OnRequest().DoFunc(func(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		proxied.Add(1)
		return r, nil
	})
	proxyServer := httptest.NewServer(proxy)
	defer proxyServer.Close()

	proxyURL, err := url.Parse(proxyServer.URL)
	require.NoError(t, err)

	cfg := NewDefaultClientConfig()
	cfg.ProxyURL = proxyURL
	cfg.ForceHTTP2 = false
	client := NewClient(cfg)

	resp, err := client.Get(backend.URL + "/api/whois-result/t-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"task_id":"t-1"}`, string(body))
	assert.Equal(t, int32(1), proxied.Load())
}
