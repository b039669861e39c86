// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gatewarden/gatewarden/internal/auth"
)

func TestDeriveDeviceName(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      string
	}{
		{
			name:      "chrome on mac",
			userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			want:      "Chrome on Mac",
		},
		{
			name:      "firefox on windows",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
			want:      "Firefox on Windows PC",
		},
		{
			name:      "safari on iphone",
			userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			want:      "Safari on iPhone",
		},
		{
			name:      "edge on windows",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			want:      "Edge on Windows PC",
		},
		{
			name:      "android chrome",
			userAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			want:      "Chrome on Android device",
		},
		{
			name:      "curl",
			userAgent: "curl/8.4.0",
			want:      "Command line",
		},
		{
			name:      "empty",
			userAgent: "",
			want:      "Unknown device",
		},
		{
			name:      "unrecognized",
			userAgent: "SomeBot/1.0",
			want:      "Unknown device",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.DeriveDeviceName(tt.userAgent))
		})
	}
}

func TestDeriveLocation(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		want string
	}{
		{"loopback v4", "127.0.0.1", "This machine"},
		{"loopback v6", "::1", "This machine"},
		{"private 10", "10.1.2.3", "Local network"},
		{"private 192.168", "192.168.1.50", "Local network"},
		{"link local", "169.254.10.20", "Local network"},
		{"public", "203.0.113.9", "External network"},
		{"public v6", "2001:db8::1", "External network"},
		{"empty", "", "Unknown location"},
		{"garbage", "not-an-ip", "Unknown location"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.DeriveLocation(tt.ip))
		})
	}
}
