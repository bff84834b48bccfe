// Package ipchecker gates internal endpoints by client IP: it extracts the
// caller's address from a request and checks it against a trusted subnet.
package ipchecker

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrNoClientIP is returned when no usable client address can be extracted
// from a request.
var ErrNoClientIP = errors.New("unable to determine the client IP address")

// IPChecker validates client addresses against a trusted subnet given in
// CIDR notation. An empty subnet leaves the checker disabled.
type IPChecker struct {
	trustedSubnet *net.IPNet
}

// New parses the trusted subnet and returns a configured checker. An empty
// subnet string yields a disabled checker rather than an error.
func New(trustedSubnet string) (*IPChecker, error) {
	if trustedSubnet == "" {
		return &IPChecker{}, nil
	}

	_, allowedNet, err := net.ParseCIDR(trustedSubnet)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/ipchecker/ipchecker.go/New(): error while `net.ParseCIDR()` calling: %w",
			err,
		)
	}

	return &IPChecker{trustedSubnet: allowedNet}, nil
}

// IsTrustedSubnetEmpty reports whether the checker was built without a
// trusted subnet.
func (checker *IPChecker) IsTrustedSubnetEmpty() bool {
	return checker.trustedSubnet == nil
}

// Check reports whether clientIP belongs to the trusted subnet. A disabled
// checker trusts nobody.
func (checker *IPChecker) Check(clientIP net.IP) bool {
	return checker.trustedSubnet != nil && checker.trustedSubnet.Contains(clientIP)
}

// GetClientIP resolves the caller's address from the X-Real-IP header, the
// first entry of X-Forwarded-For, or the connection's remote address, in
// that order.
func (checker *IPChecker) GetClientIP(request *http.Request) (net.IP, error) {
	if ip := net.ParseIP(request.Header.Get("X-Real-IP")); ip != nil {
		return ip, nil
	}

	if forwarded := request.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip, nil
		}
	}

	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/ipchecker/ipchecker.go/GetClientIP(): error while `net.SplitHostPort()` calling: %w",
			err,
		)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, ErrNoClientIP
	}

	return ip, nil
}
