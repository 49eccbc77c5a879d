// Package identity works out which session a websocket connection belongs to.
package identity

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrIdentityMissing is returned when a request carries no usable session ID.
var ErrIdentityMissing = errors.New("session identity missing")

// Resolver extracts the session ID from an upgrade request.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(r *http.Request) (string, error)

func (f ResolverFunc) Resolve(r *http.Request) (string, error) { return f(r) }

// SubdomainResolver takes the first label of the Host header, so
// "abc123.repl.example.com" resolves to "abc123".
type SubdomainResolver struct{}

func (SubdomainResolver) Resolve(r *http.Request) (string, error) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" || net.ParseIP(strings.Trim(host, "[]")) != nil {
		return "", ErrIdentityMissing
	}

	label, _, found := strings.Cut(host, ".")
	if !found || label == "" {
		return "", ErrIdentityMissing
	}
	return label, nil
}

// HeaderResolver reads the session ID from a request header, typically set
// by a fronting proxy.
type HeaderResolver struct {
	Header string
}

func (h HeaderResolver) Resolve(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(h.Header))
	if id == "" {
		return "", ErrIdentityMissing
	}
	return id, nil
}

// Chain tries each resolver in order and returns the first success.
type Chain []Resolver

func (c Chain) Resolve(r *http.Request) (string, error) {
	for _, res := range c {
		id, err := res.Resolve(r)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrIdentityMissing) {
			return "", err
		}
	}
	return "", ErrIdentityMissing
}

// FromSources builds a resolver from configured source names
// ("subdomain", "header").
func FromSources(sources []string, header string) (Resolver, error) {
	var chain Chain
	for _, src := range sources {
		switch strings.ToLower(strings.TrimSpace(src)) {
		case "subdomain":
			chain = append(chain, SubdomainResolver{})
		case "header":
			if header == "" {
				return nil, errors.New("header identity source needs a header name")
			}
			chain = append(chain, HeaderResolver{Header: header})
		case "":
		default:
			return nil, fmt.Errorf("unknown identity source %q", src)
		}
	}
	if len(chain) == 0 {
		return nil, errors.New("no identity sources configured")
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}
