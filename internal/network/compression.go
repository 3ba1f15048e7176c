// File: internal/network/compression.go
package network

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding is advertised on every request that does not set its own.
const AcceptEncoding = "br, gzip, deflate"

var (
	gzipReaderPool = sync.Pool{New: func() interface{} { return new(gzip.Reader) }}
	brotliPool     = sync.Pool{New: func() interface{} { return brotli.NewReader(nil) }}
)

// CompressionMiddleware is an http.RoundTripper that negotiates compression
// and transparently decodes brotli, gzip and deflate response bodies.
type CompressionMiddleware struct {
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps transport, defaulting to http.DefaultTransport.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	// Callers that negotiate their own encoding get the raw body back.
	if req.Header.Get("Accept-Encoding") != "" {
		return cm.Transport.RoundTrip(req)
	}

	outbound := req.Clone(req.Context())
	outbound.Header.Set("Accept-Encoding", AcceptEncoding)

	resp, err := cm.Transport.RoundTrip(outbound)
	if err != nil {
		return nil, err
	}
	if err := DecompressResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// DecompressResponse replaces resp.Body with a decoding reader according to
// Content-Encoding. Unknown encodings are an error.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil || resp.Body == http.NoBody {
		return nil
	}
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))

	var decoded io.ReadCloser
	switch encoding {
	case "", "identity":
		return nil
	case "br":
		br := brotliPool.Get().(*brotli.Reader)
		if err := br.Reset(resp.Body); err != nil {
			brotliPool.Put(br)
			return fmt.Errorf("brotli reset: %w", err)
		}
		decoded = &pooledBody{Reader: br, body: resp.Body, release: func() { brotliPool.Put(br) }}
	case "gzip", "x-gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(resp.Body); err != nil {
			gzipReaderPool.Put(zr)
			return fmt.Errorf("gzip header: %w", err)
		}
		decoded = &pooledBody{Reader: zr, body: resp.Body, release: func() { gzipReaderPool.Put(zr) }}
	case "deflate":
		r, err := newDeflateReader(resp.Body)
		if err != nil {
			return err
		}
		decoded = &pooledBody{Reader: r, body: resp.Body, release: func() { r.Close() }}
	default:
		return fmt.Errorf("unsupported content encoding %q", encoding)
	}

	resp.Body = decoded
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// newDeflateReader accepts both zlib-wrapped and raw deflate streams, since
// servers disagree on what "deflate" means.
func newDeflateReader(body io.Reader) (io.ReadCloser, error) {
	buffered := bufio.NewReader(body)
	header, err := buffered.Peek(2)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("deflate peek: %w", err)
	}
	if len(header) == 2 && isZlibHeader(header[0], header[1]) {
		zr, err := zlib.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("zlib header: %w", err)
		}
		return zr, nil
	}
	return flate.NewReader(buffered), nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// pooledBody releases its decoder back to a pool before closing the
// underlying body.
type pooledBody struct {
	io.Reader
	body    io.Closer
	release func()
	once    sync.Once
}

func (p *pooledBody) Close() error {
	p.once.Do(p.release)
	return p.body.Close()
}
