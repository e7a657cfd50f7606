package proxy

import (
	"net/url"
	"strings"
)

var defaultUpstream = url.URL{Scheme: "https", Host: "api.anthropic.com"}

// buildTargetURL maps an incoming request path onto the upstream base URL.
// A base with a path prefix (an API gateway mounted under /anthropic, say)
// keeps that prefix in front of the request path.
func buildTargetURL(baseURL, path, rawQuery string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		u = &url.URL{Scheme: defaultUpstream.Scheme, Host: defaultUpstream.Host}
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawPath = ""
	u.RawQuery = rawQuery
	u.Fragment = ""
	return u.String()
}
