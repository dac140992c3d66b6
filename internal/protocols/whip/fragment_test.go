package whip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFragment(t *testing.T) {
	for _, ca := range []struct {
		name string
		body string
		frag Fragment
	}{
		{
			"candidates only",
			"a=ice-ufrag:U1\r\n" +
				"a=ice-pwd:P1\r\n" +
				"a=candidate:1 1 udp 1 1.2.3.4 1 typ host\r\n",
			Fragment{
				Ufrag: "U1",
				Pwd:   "P1",
				Candidates: []Candidate{{
					Candidate:     "candidate:1 1 udp 1 1.2.3.4 1 typ host",
					SDPMLineIndex: intPtr(0),
				}},
			},
		},
		{
			"lf line endings",
			"a=ice-ufrag:U2\na=ice-pwd:P2\na=end-of-candidates\n",
			Fragment{
				Ufrag: "U2",
				Pwd:   "P2",
				Candidates: []Candidate{{
					Completed: true,
				}},
			},
		},
		{
			"unrelated lines skipped",
			"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
				"a=mid:0\r\n" +
				"a=candidate:2 1 udp 1 5.6.7.8 2 typ srflx\r\n" +
				"a=end-of-candidates\r\n",
			Fragment{
				Candidates: []Candidate{
					{
						Candidate:     "candidate:2 1 udp 1 5.6.7.8 2 typ srflx",
						SDPMLineIndex: intPtr(0),
					},
					{
						Completed: true,
					},
				},
			},
		},
		{
			"empty",
			"",
			Fragment{},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.frag, ParseFragment([]byte(ca.body)))
		})
	}
}

func TestExtractICECredentials(t *testing.T) {
	ufrag, pwd := ExtractICECredentials("v=0\r\n" +
		"a=ice-ufrag:abcd\r\n" +
		"a=ice-pwd:efgh\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"a=ice-ufrag:other\r\n")
	require.Equal(t, "abcd", ufrag)
	require.Equal(t, "efgh", pwd)

	ufrag, pwd = ExtractICECredentials("v=0\r\n")
	require.Equal(t, "", ufrag)
	require.Equal(t, "", pwd)
}

func TestReplaceICECredentials(t *testing.T) {
	in := "v=0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"a=ice-ufrag:U1\r\n" +
		"a=ice-pwd:P1\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"a=ice-ufrag:U1\r\n" +
		"a=ice-pwd:P1\r\n"

	out := ReplaceICECredentials(in, "U1", "P1", "U2", "P2")

	require.Equal(t, "v=0\r\n"+
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"+
		"a=ice-ufrag:U2\r\n"+
		"a=ice-pwd:P2\r\n"+
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n"+
		"a=ice-ufrag:U2\r\n"+
		"a=ice-pwd:P2\r\n", out)
}

func TestRestartFragmentMarshal(t *testing.T) {
	answer := "v=0\r\n" +
		"o=- 0 0 IN IP4 0.0.0.0\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"a=group:BUNDLE 0 1\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n" +
		"a=ice-ufrag:U2\r\n" +
		"a=ice-pwd:P2\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n" +
		"a=candidate:1 1 udp 1 1.2.3.4 1 typ host\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"a=mid:1\r\n" +
		"a=ice-ufrag:U2\r\n" +
		"a=ice-pwd:P2\r\n" +
		"a=end-of-candidates\r\n" +
		"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
		"a=mid:2\r\n" +
		"a=ice-ufrag:U2\r\n"

	frag, err := RestartFragmentMarshal(answer)
	require.NoError(t, err)

	require.Equal(t, "a=group:BUNDLE 0 1\r\n"+
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"+
		"a=mid:0\r\n"+
		"a=ice-ufrag:U2\r\n"+
		"a=ice-pwd:P2\r\n"+
		"a=candidate:1 1 udp 1 1.2.3.4 1 typ host\r\n"+
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n"+
		"a=mid:1\r\n"+
		"a=ice-ufrag:U2\r\n"+
		"a=ice-pwd:P2\r\n"+
		"a=end-of-candidates\r\n", string(frag))
}

func TestRestartFragmentMarshalInvalid(t *testing.T) {
	_, err := RestartFragmentMarshal("not a session description")
	require.Error(t, err)
}
