// Package servername maps connection targets to the identity asserted
// during the TLS handshake.
package servername

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/ooni/maybetls/model"
)

// Parse validates s as either an IP literal or a DNS name. Surrounding
// brackets around IPv6 literals must already have been removed.
func Parse(s string) (model.ServerName, error) {
	if net.ParseIP(s) != nil {
		return model.ServerName(s), nil
	}
	if !isDNSName(s) {
		return "", fmt.Errorf("%w: %q", model.ErrInvalidServerName, s)
	}
	return model.ServerName(s), nil
}

func isDNSName(s string) bool {
	s = strings.TrimSuffix(s, ".")
	if len(s) < 1 || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if len(label) < 1 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
			case '0' <= c && c <= '9':
			case c == '-', c == '_':
			default:
				return false
			}
		}
	}
	return true
}

func trimBrackets(s string) string {
	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}

// Resolver is the default resolver. It uses the host of the target.
type Resolver struct{}

// Default is the default resolver.
var Default model.ServerNameResolver = Resolver{}

// Resolve implements model.ServerNameResolver.
func (Resolver) Resolve(target *url.URL) (model.ServerName, error) {
	return Parse(trimBrackets(target.Hostname()))
}

// Fixed is a resolver asserting always the same name. This is useful
// when connecting to an IP address while verifying a hostname.
type Fixed string

// Resolve implements model.ServerNameResolver.
func (f Fixed) Resolve(target *url.URL) (model.ServerName, error) {
	return Parse(trimBrackets(string(f)))
}

// Func adapts an ordinary function to model.ServerNameResolver.
type Func func(target *url.URL) (model.ServerName, error)

// Resolve implements model.ServerNameResolver.
func (f Func) Resolve(target *url.URL) (model.ServerName, error) {
	return f(target)
}
