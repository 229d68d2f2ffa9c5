// Package transport provides HTTP clients that present a Chrome-like TLS
// fingerprint. Go's default crypto/tls produces a JA3 fingerprint some
// networks and API fronts classify as automation and throttle or block.
// Providers opt in via their fingerprint_transport config flag.
//
// Three variants are provided:
//   - NewClient (HTTP/1.1): uTLS Chrome 120 ClientHello with ALPN
//     restricted to http/1.1. Used for the Gemini REST path.
//   - NewCloudflareClient: the HTTP/1.1 client plus request adaptation
//     for Cloudflare-fronted APIs. Strips X-Stainless-* SDK telemetry
//     headers and Zstd-compresses large request bodies. Used for the
//     Anthropic path, whose prompts embed document projections.
//   - NewH2Client (HTTP/2): tls-client with the full Chrome 120 profile,
//     matching TLS and HTTP/2 SETTINGS fingerprints for fronts that
//     inspect both. Used for the OpenAI path.
package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	fhttp "github.com/bogdanfinn/fhttp"
	tlsclient "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	utls "github.com/refraction-networking/utls"
)

// dialChromeTLS dials with a Chrome 120 ClientHello, restricting ALPN to
// HTTP/1.1 only. The server must not negotiate h2 because Go's
// http.Transport cannot drive h2 over custom DialTLSContext connections;
// h1Conn hides ConnectionState from the h2 auto-detection.
func dialChromeTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		rawConn.Close()
		return nil, err
	}

	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_120)
	if err != nil {
		rawConn.Close()
		return nil, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			break
		}
	}

	tlsConn := utls.UClient(rawConn, &utls.Config{ServerName: host}, utls.HelloCustom)
	if err := tlsConn.ApplyPreset(&spec); err != nil {
		rawConn.Close()
		return nil, err
	}
	if err := tlsConn.Handshake(); err != nil {
		rawConn.Close()
		return nil, err
	}

	return &h1Conn{Conn: tlsConn}, nil
}

// h1Conn wraps a net.Conn to hide ConnectionState from Go's net/http Transport.
type h1Conn struct {
	net.Conn
}

// NewTransport returns an *http.Transport using the Chrome TLS fingerprint
// with HTTP/1.1 only.
func NewTransport() *http.Transport {
	return &http.Transport{
		ForceAttemptHTTP2:  false,
		MaxIdleConns:       4,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: true,
		DialTLSContext:     dialChromeTLS,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewProxyTransport returns the fingerprinted transport with an HTTP proxy
// configured.
func NewProxyTransport(proxyURL *url.URL) *http.Transport {
	t := NewTransport()
	t.Proxy = http.ProxyURL(proxyURL)
	return t
}

// NewClient returns an *http.Client over the fingerprinted transport.
// Timeout of 0 means no client-level timeout; callers bound requests with
// contexts.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   0,
		Transport: NewTransport(),
	}
}

// NewCloudflareClient returns an *http.Client for Cloudflare-fronted API
// endpoints. It strips SDK telemetry headers (X-Stainless-*) that trigger
// WAF rules and Zstd-compresses request bodies over 2KB to stay under
// body-size inspection limits. Uses the HTTP/1.1 Chrome TLS fingerprint.
func NewCloudflareClient() *http.Client {
	return &http.Client{
		Timeout:   0,
		Transport: &cloudflareRT{inner: NewTransport()},
	}
}

type cloudflareRT struct {
	inner http.RoundTripper
}

func (rt *cloudflareRT) RoundTrip(req *http.Request) (*http.Response, error) {
	for k := range req.Header {
		if strings.HasPrefix(k, "X-Stainless") {
			req.Header.Del(k)
		}
	}

	if req.Body != nil && req.ContentLength > 2048 {
		raw, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		compressed := enc.EncodeAll(raw, nil)
		enc.Close()
		req.Body = io.NopCloser(bytes.NewReader(compressed))
		req.ContentLength = int64(len(compressed))
		req.Header.Set("Content-Encoding", "zstd")
	}

	return rt.inner.RoundTrip(req)
}

// chromeRoundTripper adapts tls-client (which uses bogdanfinn/fhttp types)
// to the standard http.RoundTripper interface.
type chromeRoundTripper struct {
	client tlsclient.HttpClient
}

func (rt *chromeRoundTripper) RoundTrip(hReq *http.Request) (*http.Response, error) {
	var body io.Reader
	if hReq.Body != nil {
		body = hReq.Body
	}
	fReq, err := fhttp.NewRequest(hReq.Method, hReq.URL.String(), body)
	if err != nil {
		return nil, err
	}
	// Copy headers individually; replacing the whole map discards fhttp's
	// internal defaults and breaks the fingerprint.
	for k, vv := range hReq.Header {
		for _, v := range vv {
			fReq.Header.Add(k, v)
		}
	}
	if hReq.ContentLength > 0 {
		fReq.ContentLength = hReq.ContentLength
	}

	fResp, err := rt.client.Do(fReq)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		Status:           fResp.Status,
		StatusCode:       fResp.StatusCode,
		Proto:            fResp.Proto,
		ProtoMajor:       fResp.ProtoMajor,
		ProtoMinor:       fResp.ProtoMinor,
		Header:           http.Header(fResp.Header),
		Body:             fResp.Body,
		ContentLength:    fResp.ContentLength,
		TransferEncoding: fResp.TransferEncoding,
		Close:            fResp.Close,
		Uncompressed:     fResp.Uncompressed,
		Trailer:          http.Header(fResp.Trailer),
		Request:          hReq,
	}, nil
}

// NewH2Client returns an *http.Client that speaks HTTP/2 behind a full
// Chrome browser fingerprint. Some fronts inspect the HTTP/2 SETTINGS
// frame as well as the TLS ClientHello; tls-client's Chrome 120 profile
// matches both.
func NewH2Client() *http.Client {
	client, err := tlsclient.NewHttpClient(tlsclient.NewNoopLogger(),
		tlsclient.WithClientProfile(profiles.Chrome_120),
		tlsclient.WithRandomTLSExtensionOrder(),
		tlsclient.WithNotFollowRedirects(),
	)
	if err != nil {
		panic("transport: creating Chrome h2 client: " + err.Error())
	}
	return &http.Client{
		Timeout:   0,
		Transport: &chromeRoundTripper{client: client},
	}
}
