package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrKeyExtractionFailed is returned when no identity can be derived from a request
var ErrKeyExtractionFailed = errors.New("failed to extract identity from request")

// KeyFunc derives the throttle identity of an HTTP request
// (e.g., IP address, API key, bearer token).
type KeyFunc func(*http.Request) (string, error)

// ExtractIP identifies callers by the connection's remote address.
func ExtractIP() KeyFunc {
	return func(r *http.Request) (string, error) {
		return remoteIP(r)
	}
}

// ExtractIPWithProxy prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the remote address. Only use it behind a proxy that sets these headers.
func ExtractIPWithProxy() KeyFunc {
	return func(r *http.Request) (string, error) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return "ip:" + ip, nil
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return "ip:" + xri, nil
		}
		return remoteIP(r)
	}
}

func remoteIP(r *http.Request) (string, error) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port
		ip = r.RemoteAddr
	}
	if ip == "" {
		return "", fmt.Errorf("%w: empty remote address", ErrKeyExtractionFailed)
	}
	return "ip:" + ip, nil
}

// ExtractHeader identifies callers by the value of the named header.
func ExtractHeader(name string) KeyFunc {
	return func(r *http.Request) (string, error) {
		value := strings.TrimSpace(r.Header.Get(name))
		if value == "" {
			return "", fmt.Errorf("%w: header %s missing", ErrKeyExtractionFailed, name)
		}
		return "header:" + name + ":" + value, nil
	}
}

// ExtractBearer identifies callers by the token of an "Authorization: Bearer <token>" header.
func ExtractBearer() KeyFunc {
	return func(r *http.Request) (string, error) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return "", fmt.Errorf("%w: no bearer token", ErrKeyExtractionFailed)
		}
		if token = strings.TrimSpace(token); token == "" {
			return "", fmt.Errorf("%w: empty bearer token", ErrKeyExtractionFailed)
		}
		return "bearer:" + token, nil
	}
}

// ExtractStatic puts every caller under one shared identity (a global limit).
func ExtractStatic(identity string) KeyFunc {
	return func(*http.Request) (string, error) {
		return identity, nil
	}
}

// ExtractComposite tries each KeyFunc in order and returns the first identity found.
//
// Example:
//
//	keyFunc := ExtractComposite(
//	    ExtractHeader("X-API-Key"),
//	    ExtractIPWithProxy(), // Fallback to IP if no API key
//	)
func ExtractComposite(funcs ...KeyFunc) KeyFunc {
	return func(r *http.Request) (string, error) {
		errs := make([]error, 0, len(funcs))
		for _, fn := range funcs {
			identity, err := fn(r)
			if err == nil {
				return identity, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return "", fmt.Errorf("%w: no extractors configured", ErrKeyExtractionFailed)
		}
		return "", errors.Join(errs...)
	}
}

// ParseKeyFunc builds a KeyFunc from a configuration string.
// Supported formats:
//   - "ip"
//   - "ip-proxy"
//   - "header:X-API-Key"
//   - "bearer"
//   - "static:global"
func ParseKeyFunc(value string) (KeyFunc, error) {
	kind, arg, hasArg := strings.Cut(value, ":")

	switch kind {
	case "ip":
		return ExtractIP(), nil
	case "ip-proxy":
		return ExtractIPWithProxy(), nil
	case "bearer":
		return ExtractBearer(), nil
	case "header", "static":
		if !hasArg || arg == "" {
			return nil, fmt.Errorf("key extractor %q requires format '%s:value'", value, kind)
		}
		if kind == "header" {
			return ExtractHeader(arg), nil
		}
		return ExtractStatic(arg), nil
	default:
		return nil, fmt.Errorf("unknown key extractor type: %q", kind)
	}
}
