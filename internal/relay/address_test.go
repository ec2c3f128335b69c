package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "already canonical", input: "wss://relay.example.com", want: "wss://relay.example.com"},
		{name: "bare host defaults to wss", input: "relay.example.com", want: "wss://relay.example.com"},
		{name: "uppercase scheme and host", input: "WSS://Relay.Example.COM", want: "wss://relay.example.com"},
		{name: "trailing slash stripped", input: "wss://relay.example.com/", want: "wss://relay.example.com"},
		{name: "default wss port dropped", input: "wss://relay.example.com:443", want: "wss://relay.example.com"},
		{name: "default ws port dropped", input: "ws://relay.example.com:80", want: "ws://relay.example.com"},
		{name: "custom port kept", input: "wss://relay.example.com:7777", want: "wss://relay.example.com:7777"},
		{name: "https maps to wss", input: "https://relay.example.com", want: "wss://relay.example.com"},
		{name: "http maps to ws", input: "http://localhost:8080", want: "ws://localhost:8080"},
		{name: "path kept", input: "wss://relay.example.com/nostr/", want: "wss://relay.example.com/nostr"},
		{name: "surrounding whitespace", input: "  wss://relay.example.com  ", want: "wss://relay.example.com"},
		{name: "empty", input: "", wantErr: true},
		{name: "blank", input: "   ", wantErr: true},
		{name: "unsupported scheme", input: "ftp://relay.example.com", wantErr: true},
		{name: "missing host", input: "wss://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeAddressIdempotent(t *testing.T) {
	inputs := []string{
		"relay.example.com",
		"WSS://Relay.Example.COM:443/",
		"ws://localhost:8080/path/",
		"wss://relay.example.com?limit=10",
	}
	for _, input := range inputs {
		first, err := NormalizeAddress(input)
		require.NoError(t, err)
		second, err := NormalizeAddress(first)
		require.NoError(t, err)
		require.Equal(t, first, second, "normalizing %q twice changed the result", input)
	}
}
