// Package room builds the names of the broadcast groups connections join.
//
// Every name starts with the tenant so no event can cross tenants. Components
// are escaped so that the delimiter "_" never appears inside one: any byte
// outside [A-Za-z0-9-] is written as %XX. Ordinary numeric or UUID ids keep
// their literal form, e.g. tenant_9_conv_5.
package room

import (
	"strings"
)

const hex = "0123456789ABCDEF"

// Conversation returns the room scoping a single conversation within a tenant.
func Conversation(tenantID, conversationID string) string {
	return "tenant_" + escape(tenantID) + "_conv_" + escape(conversationID)
}

// Presence returns the tenant-wide presence room.
func Presence(tenantID string) string {
	return "tenant_" + escape(tenantID) + "_presence"
}

// Platform returns the room for per-channel contact-list updates within a tenant.
func Platform(tenantID, platform string) string {
	return "tenant_" + escape(tenantID) + "_platform_" + escape(platform)
}

func escape(s string) string {
	if !needsEscape(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if safe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func needsEscape(s string) bool {
	for i := 0; i < len(s); i++ {
		if !safe(s[i]) {
			return true
		}
	}
	return false
}

func safe(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-'
}
