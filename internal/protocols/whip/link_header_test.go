package whip

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestLinkHeaderMarshal(t *testing.T) {
	links := LinkHeaderMarshal([]webrtc.ICEServer{
		{
			URLs: []string{"stun:stun.example.com:3478"},
		},
		{
			URLs:       []string{"turn:turn.example.com:3478"},
			Username:   "us\"er",
			Credential: "pass",
		},
		{
			URLs: []string{"turns:turn.example.com:5349"},
		},
		{
			URLs: []string{"http://not-an-ice-server"},
		},
	})

	require.Equal(t, []string{
		`<stun:stun.example.com:3478>; rel="ice-server"`,
		`<turn:turn.example.com:3478>; rel="ice-server"; username="us\"er"; credential="pass"; credential-type="password"`,
		`<turns:turn.example.com:5349>; rel="ice-server"`,
	}, links)
}
