package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNames(t *testing.T) {
	assert.Equal(t, "tenant_9_conv_5", Conversation("9", "5"))
	assert.Equal(t, "tenant_9_presence", Presence("9"))
	assert.Equal(t, "tenant_9_platform_WHATSAPP", Platform("9", "WHATSAPP"))
	assert.Equal(t,
		"tenant_1b4e28ba-2fa1-11d2-883f-0016d3cca427_conv_42",
		Conversation("1b4e28ba-2fa1-11d2-883f-0016d3cca427", "42"))
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "a%5Fb", escape("a_b"))
	assert.Equal(t, "a%25b", escape("a%b"))
	assert.Equal(t, "a%2Eb%20c", escape("a.b c"))
	assert.Equal(t, "%C3%B1", escape("ñ"))
}

func TestConversation_Injective(t *testing.T) {
	pairs := [][2]string{
		{"a", "x_conv_c"},
		{"a_conv_x", "c"},
		{"a_conv", "x_conv_c"},
		{"a", "x%5Fconv%5Fc"},
		{"", "_conv_"},
		{"_conv_", ""},
		{"9", "5"},
		{"95", ""},
		{"9_5", ""},
	}
	seen := make(map[string][2]string)
	for _, p := range pairs {
		name := Conversation(p[0], p[1])
		if prev, ok := seen[name]; ok {
			t.Fatalf("collision: %v and %v both map to %q", prev, p, name)
		}
		seen[name] = p
	}
}

func TestKinds_DoNotCollide(t *testing.T) {
	names := map[string]string{}
	add := func(kind, name string) {
		if prev, ok := names[name]; ok {
			t.Fatalf("%s and %s share %q", prev, kind, name)
		}
		names[name] = kind
	}
	add("presence", Presence("1"))
	add("conv", Conversation("1", "presence"))
	add("platform", Platform("1", "presence"))
	add("conv-presence-tenant", Conversation("1_presence", ""))
	add("platform-tenant", Presence("1_platform_x"))
	add("platform", Platform("1", "x"))
}

func TestNames_AreDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.Equal(t, Conversation("t.1", "c 2"), Conversation("t.1", "c 2"))
		assert.Equal(t, Platform("t", "wa_b"), Platform("t", "wa_b"))
	}
}
