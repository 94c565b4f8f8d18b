package signaling

import "testing"

func TestParseClientMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"offer","payload":{"sdp":"v=0"},"targetUserId":"u2"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Type != "offer" || msg.TargetUserID != "u2" {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
	if string(msg.Payload) != `{"sdp":"v=0"}` {
		t.Fatalf("payload must stay uninterpreted: %s", msg.Payload)
	}
}

func TestParseClientMessageBroadcastShape(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"ice-candidate","payload":{"candidate":"..."}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.TargetUserID != "" {
		t.Fatalf("expected broadcast envelope, got target %q", msg.TargetUserID)
	}
}

func TestParseClientMessageRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing type", `{"payload":{}}`},
		{"unknown field", `{"type":"offer","extra":1}`},
		{"trailing data", `{"type":"offer"}{"type":"answer"}`},
		{"not json", `offer`},
		{"empty", ``},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}
