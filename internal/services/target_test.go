package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetValidator_Blocklist(t *testing.T) {
	v := NewTargetValidator()

	urls := []string{
		"http://localhost/api",
		"http://LOCALHOST:3000",
		"http://127.0.0.1:9999",
		"http://0.0.0.0",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]:8080/",
		"https://localhost./x",
	}

	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			err := v.Validate(u)
			assert.True(t, IsKind(err, KindUnsafeTarget), "Validate(%q) = %v, want unsafe", u, err)
		})
	}
}

func TestTargetValidator_PrivateIPv4(t *testing.T) {
	v := NewTargetValidator()

	urls := []string{
		"http://10.0.0.1",
		"http://10.255.255.255/x",
		"http://172.16.0.1",
		"http://172.20.10.5",
		"http://172.31.255.255",
		"http://192.168.0.1",
		"http://192.168.100.42:8443",
		"http://169.254.1.1",
		"http://127.0.0.2",
	}

	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			assert.True(t, IsKind(v.Validate(u), KindUnsafeTarget), "Validate(%q) should be unsafe", u)
		})
	}
}

func TestTargetValidator_PrivateIPv6(t *testing.T) {
	v := NewTargetValidator()

	urls := []string{
		"http://[fc00::1]/",
		"http://[fd12:3456:789a::1]:8080",
		"http://[fe80::1]",
		"http://[fe80::1%25eth0]/",
		"http://[febf::1]",
		"http://[::ffff:127.0.0.1]/",
		"http://[::ffff:10.0.0.1]/",
		"http://[::]/",
	}

	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			assert.True(t, IsKind(v.Validate(u), KindUnsafeTarget), "Validate(%q) should be unsafe", u)
		})
	}
}

func TestTargetValidator_NonCanonicalNumericHosts(t *testing.T) {
	v := NewTargetValidator()

	for _, u := range []string{"http://127.1/", "http://2130706433/", "http://0x7f.0.0.1/"} {
		assert.True(t, IsKind(v.Validate(u), KindUnsafeTarget), "Validate(%q) should be unsafe", u)
	}
}

func TestTargetValidator_Public(t *testing.T) {
	v := NewTargetValidator()

	urls := []string{
		"https://public.example/api",
		"https://api.github.com/repos",
		"http://8.8.8.8/dns",
		"http://172.32.0.1/",
		"http://192.169.0.1/",
		"https://[2001:4860:4860::8888]/",
		"https://10.example.com/",
	}

	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			assert.NoError(t, v.Validate(u))
		})
	}
}

func TestTargetValidator_Malformed(t *testing.T) {
	v := NewTargetValidator()

	urls := []string{
		"://missing-scheme",
		"not a url",
		"ftp://files.example.com",
		"http://",
		"http://%zz",
	}

	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			err := v.Validate(u)
			assert.True(t, IsKind(err, KindMalformedTarget), "Validate(%q) = %v, want malformed", u, err)
		})
	}
}

func TestDialGuard(t *testing.T) {
	assert.NoError(t, DialGuard("tcp", "93.184.216.34:443", nil))
	assert.NoError(t, DialGuard("tcp6", "[2606:2800:220:1::]:443", nil))

	for _, addr := range []string{"127.0.0.1:80", "10.1.2.3:443", "[::1]:80", "[fe80::1]:80", "169.254.169.254:80"} {
		err := DialGuard("tcp", addr, nil)
		assert.True(t, errors.Is(err, ErrBlockedAddress), "DialGuard(%q) = %v", addr, err)
	}
}
