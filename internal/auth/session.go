// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth

import (
	"net"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Session is the caller-facing view of an Active refresh token. The raw
// token never appears here; sessions are addressed by ID.
type Session struct {
	ID         ulid.ULID
	DeviceName string
	Location   string
	IPAddress  string
	CreatedAt  time.Time
	LastUsedAt time.Time
	Current    bool
}

// unknownDevice is the fixed fallback when a user agent is missing or
// unrecognized.
const unknownDevice = "Unknown device"

// deviceRules maps user-agent substrings to display names, checked in
// order. Pure derivation; nothing is stored.
var deviceRules = []struct {
	needle string
	name   string
}{
	{"iphone", "iPhone"},
	{"ipad", "iPad"},
	{"android", "Android device"},
	{"windows", "Windows PC"},
	{"macintosh", "Mac"},
	{"mac os x", "Mac"},
	{"cros", "Chromebook"},
	{"linux", "Linux PC"},
	{"curl", "Command line"},
	{"postman", "API client"},
}

var browserRules = []struct {
	needle string
	name   string
}{
	{"edg/", "Edge"},
	{"opr/", "Opera"},
	{"firefox/", "Firefox"},
	{"chrome/", "Chrome"},
	{"safari/", "Safari"},
}

// DeriveDeviceName derives a human-readable device name from a stored
// user-agent string, with a fixed fallback.
func DeriveDeviceName(userAgent string) string {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return unknownDevice
	}

	device := ""
	for _, rule := range deviceRules {
		if strings.Contains(ua, rule.needle) {
			device = rule.name
			break
		}
	}

	browser := ""
	for _, rule := range browserRules {
		if strings.Contains(ua, rule.needle) {
			browser = rule.name
			break
		}
	}

	switch {
	case device != "" && browser != "":
		return browser + " on " + device
	case device != "":
		return device
	case browser != "":
		return browser
	default:
		return unknownDevice
	}
}

// DeriveLocation classifies a stored IP address into a coarse location
// label. Real geo lookup belongs to a collaborator; this only
// distinguishes local and private networks from the public internet.
func DeriveLocation(ipAddress string) string {
	ip := net.ParseIP(strings.TrimSpace(ipAddress))
	if ip == nil {
		return "Unknown location"
	}
	switch {
	case ip.IsLoopback():
		return "This machine"
	case ip.IsPrivate(), ip.IsLinkLocalUnicast():
		return "Local network"
	default:
		return "External network"
	}
}

// sessionView converts a refresh token into its Session representation.
func sessionView(token *RefreshToken, currentHash string) Session {
	return Session{
		ID:         token.ID,
		DeviceName: DeriveDeviceName(token.UserAgent),
		Location:   DeriveLocation(token.IPAddress),
		IPAddress:  token.IPAddress,
		CreatedAt:  token.CreatedAt,
		LastUsedAt: token.LastUsedAt,
		Current:    currentHash != "" && token.TokenHash == currentHash,
	}
}
