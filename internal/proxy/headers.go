package proxy

import "net/http"

// Hop-by-hop headers, never forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// credentialHeaders carry API credentials. Their values never reach storage.
var credentialHeaders = []string{
	"Authorization",
	"X-Api-Key",
	"Cookie",
	"Set-Cookie",
	"Proxy-Authorization",
}

const redacted = "[REDACTED]"

func stripHopByHop(h http.Header) {
	for _, key := range hopByHopHeaders {
		h.Del(key)
	}
}

// hasCredentials reports whether the caller authenticated on its own,
// with either an API key or a bearer token.
func hasCredentials(h http.Header) bool {
	return h.Get("X-Api-Key") != "" || h.Get("Authorization") != ""
}

// prepareUpstreamHeaders builds the request headers sent to the Messages
// API. apiKey is only used when the caller brought no credentials. The
// upstream response must come back uncompressed so the event stream can be
// decoded as it passes through.
func prepareUpstreamHeaders(original http.Header, apiKey string) http.Header {
	h := original.Clone()
	stripHopByHop(h)
	h.Del("Host")
	h.Del("Accept-Encoding")

	if apiKey != "" && !hasCredentials(h) {
		h.Set("X-Api-Key", apiKey)
	}
	return h
}

// prepareClientHeaders builds the response headers relayed to the caller.
// Content-Length is left to the ResponseWriter; Content-Encoding is dropped
// because the proxy never asked for an encoded body.
func prepareClientHeaders(upstream http.Header) http.Header {
	h := upstream.Clone()
	stripHopByHop(h)
	h.Del("Content-Encoding")
	h.Del("Content-Length")
	return h
}

// redactedHeaders copies h for storage with credential values masked.
func redactedHeaders(h http.Header) http.Header {
	m := h.Clone()
	if m == nil {
		return http.Header{}
	}
	for _, key := range credentialHeaders {
		if len(m.Values(key)) > 0 {
			m[http.CanonicalHeaderKey(key)] = []string{redacted}
		}
	}
	return m
}
