package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name   string
		from   State
		event  Event
		want   State
		wantOK bool
	}{
		{"connect from disconnected", Disconnected, EventConnect, Connecting, true},
		{"connect while connecting", Connecting, EventConnect, Connecting, false},
		{"connect while connected", Connected, EventConnect, Connected, false},
		{"connect while suspended", SuspendedAuthFailure, EventConnect, SuspendedAuthFailure, false},
		{"open", Connecting, EventOpen, Connected, true},
		{"open while disconnected", Disconnected, EventOpen, Disconnected, false},
		{"close while connected", Connected, EventClosed, Disconnected, true},
		{"close during handshake", Connecting, EventClosed, Disconnected, true},
		{"auth rejected while connected", Connected, EventAuthRejected, SuspendedAuthFailure, true},
		{"auth rejected during handshake", Connecting, EventAuthRejected, SuspendedAuthFailure, true},
		{"credential change resumes", SuspendedAuthFailure, EventCredentialChanged, Connecting, true},
		{"credential change while connected", Connected, EventCredentialChanged, Connected, false},
		{"disconnect from suspended", SuspendedAuthFailure, EventDisconnect, Disconnected, true},
		{"disconnect from connected", Connected, EventDisconnect, Disconnected, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Transition(tt.from, tt.event)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		tenant string
		token  string
		want   string
	}{
		{
			name:   "https with api suffix",
			base:   "https://api.example.com/api/v1",
			tenant: "farm-1",
			token:  "tok",
			want:   "wss://api.example.com/api/v1/notifications/ws?tenant_id=farm-1&token=tok",
		},
		{
			name:   "http with trailing slash",
			base:   "http://localhost:8000/api/v1/",
			tenant: "farm-1",
			token:  "tok",
			want:   "ws://localhost:8000/api/v1/notifications/ws?tenant_id=farm-1&token=tok",
		},
		{
			name:   "no suffix",
			base:   "https://api.example.com/",
			tenant: "farm-1",
			want:   "wss://api.example.com/api/v1/notifications/ws?tenant_id=farm-1",
		},
		{
			name:   "path prefix kept",
			base:   "https://example.com/backend/api/v1",
			tenant: "farm-2",
			token:  "tok",
			want:   "wss://example.com/backend/api/v1/notifications/ws?tenant_id=farm-2&token=tok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Endpoint(tt.base, tt.tenant, tt.token)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpointRejectsHostlessBase(t *testing.T) {
	_, err := Endpoint("/api/v1", "farm", "tok")
	assert.Error(t, err)
}
