package ipchecker

import (
	"net"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		trustedSubnet string
		wantErr       bool
		wantDisabled  bool
	}{
		{name: "empty subnet disables the checker", trustedSubnet: "", wantDisabled: true},
		{name: "valid CIDR", trustedSubnet: "10.0.0.0/8"},
		{name: "bare IP is not a CIDR", trustedSubnet: "10.0.0.1", wantErr: true},
		{name: "garbage", trustedSubnet: "not-a-subnet", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			checker, err := New(test.trustedSubnet)
			if test.wantErr {
				require.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.wantDisabled, checker.IsTrustedSubnetEmpty())
		})
	}
}

func TestCheck(t *testing.T) {
	checker, err := New("192.168.0.0/16")
	require.NoError(t, err)

	assert.True(t, checker.Check(net.ParseIP("192.168.1.42")))
	assert.False(t, checker.Check(net.ParseIP("10.0.0.1")))

	disabled, err := New("")
	require.NoError(t, err)
	assert.False(t, disabled.Check(net.ParseIP("192.168.1.42")))
}

func TestGetClientIP(t *testing.T) {
	checker, err := New("10.0.0.0/8")
	require.NoError(t, err)

	tests := []struct {
		name          string
		realIP        string
		forwardedFor  string
		remoteAddr    string
		expectedIP    string
		expectedError bool
	}{
		{
			name:       "X-Real-IP wins",
			realIP:     "10.1.2.3",
			remoteAddr: "192.168.0.1:1234",
			expectedIP: "10.1.2.3",
		},
		{
			name:         "first X-Forwarded-For entry",
			forwardedFor: "10.4.5.6, 172.16.0.1",
			remoteAddr:   "192.168.0.1:1234",
			expectedIP:   "10.4.5.6",
		},
		{
			name:       "falls back to the remote address",
			remoteAddr: "192.168.0.1:1234",
			expectedIP: "192.168.0.1",
		},
		{
			name:         "malformed forwarded header falls through",
			forwardedFor: "not-an-ip",
			remoteAddr:   "192.168.0.1:1234",
			expectedIP:   "192.168.0.1",
		},
		{
			name:          "unparsable remote address",
			remoteAddr:    "nonsense",
			expectedError: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			request := httptest.NewRequest("GET", "/api/internal/stats", nil)
			request.RemoteAddr = test.remoteAddr
			if test.realIP != "" {
				request.Header.Set("X-Real-IP", test.realIP)
			}
			if test.forwardedFor != "" {
				request.Header.Set("X-Forwarded-For", test.forwardedFor)
			}

			ip, err := checker.GetClientIP(request)
			if test.expectedError {
				require.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expectedIP, ip.String())
		})
	}
}
