package x402gate

import (
	"net/url"
	"regexp"
	"strings"
)

// RouteConfig is what a resource server declares for one route: the
// payment config plus the metadata attached to its 402/requirements.
type RouteConfig struct {
	ResourceConfig
	Resource    string
	Description string
	MimeType    string
	Extensions  []string
}

// RoutesConfig maps "METHOD /pattern" strings to their RouteConfig.
// Method "*" matches any HTTP method; path segments "*" match exactly one
// segment and "**" match the remainder of the path.
type RoutesConfig map[string]RouteConfig

type compiledRoute struct {
	verb   string
	regex  *regexp.Regexp
	config RouteConfig
}

// CompileRoutes turns a RoutesConfig into a list of matchers whose order
// follows map iteration and is not defined, so callers that depend on route
// precedence should prefer one pattern per path rather than relying on
// registration order between overlapping patterns.
func CompileRoutes(routes RoutesConfig) ([]compiledRoute, error) {
	compiled := make([]compiledRoute, 0, len(routes))
	for pattern, cfg := range routes {
		verb, path, ok := strings.Cut(pattern, " ")
		if !ok {
			verb, path = "*", pattern
		}
		re, err := compilePattern(path)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRoute{verb: strings.ToUpper(verb), regex: re, config: cfg})
	}
	return compiled, nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	var b strings.Builder
	b.WriteString("^/")
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("/")
		}
		switch {
		case seg == "**":
			b.WriteString(".*")
		case seg == "*":
			b.WriteString("[^/]+")
		case strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]"):
			b.WriteString("[^/]+")
		default:
			b.WriteString(regexp.QuoteMeta(seg))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// MatchRoute finds the first compiled route matching method+path, trying
// an exact verb match before falling back to routes registered with "*".
func MatchRoute(routes []compiledRoute, method, path string) (RouteConfig, bool) {
	normalized := NormalizePath(path)
	var wildcardMatch *RouteConfig
	for _, r := range routes {
		if !r.regex.MatchString(normalized) {
			continue
		}
		if r.verb == strings.ToUpper(method) {
			return r.config, true
		}
		if r.verb == "*" && wildcardMatch == nil {
			cfg := r.config
			wildcardMatch = &cfg
		}
	}
	if wildcardMatch != nil {
		return *wildcardMatch, true
	}
	return RouteConfig{}, false
}

// NormalizePath strips query/fragment, URL-decodes, collapses repeated
// slashes and trims a trailing slash (but never the root "/").
func NormalizePath(path string) string {
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}
	return path
}
