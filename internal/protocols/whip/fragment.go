// Package whip contains WHIP protocol utilities.
package whip

import (
	"strings"
)

func intPtr(v int) *int {
	return &v
}

// Candidate is a trickled ICE candidate, in the shape
// accepted by the backend trickle request.
type Candidate struct {
	Candidate     string `json:"candidate,omitempty"`
	SDPMLineIndex *int   `json:"sdpMLineIndex,omitempty"`
	Completed     bool   `json:"completed,omitempty"`
}

// Fragment is a decoded application/trickle-ice-sdpfrag body.
type Fragment struct {
	Ufrag      string
	Pwd        string
	Candidates []Candidate
}

func splitLines(buf string) []string {
	lines := strings.Split(buf, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// ParseFragment decodes an RFC 8840 SDP fragment.
// Both LF and CRLF line endings are accepted.
func ParseFragment(buf []byte) Fragment {
	var frag Fragment

	for _, line := range splitLines(string(buf)) {
		switch {
		case strings.HasPrefix(line, "a=ice-ufrag:"):
			frag.Ufrag = line[len("a=ice-ufrag:"):]

		case strings.HasPrefix(line, "a=ice-pwd:"):
			frag.Pwd = line[len("a=ice-pwd:"):]

		case strings.HasPrefix(line, "a=candidate:"):
			frag.Candidates = append(frag.Candidates, Candidate{
				Candidate:     "candidate:" + line[len("a=candidate:"):],
				SDPMLineIndex: intPtr(0),
			})

		case line == "a=end-of-candidates":
			frag.Candidates = append(frag.Candidates, Candidate{
				Completed: true,
			})
		}
	}

	return frag
}

// ExtractICECredentials returns the first ice-ufrag and ice-pwd
// attributes of a SDP, regardless of whether they appear at session
// or media level.
func ExtractICECredentials(sdp string) (string, string) {
	var ufrag string
	var pwd string

	for _, line := range splitLines(sdp) {
		switch {
		case ufrag == "" && strings.HasPrefix(line, "a=ice-ufrag:"):
			ufrag = line[len("a=ice-ufrag:"):]

		case pwd == "" && strings.HasPrefix(line, "a=ice-pwd:"):
			pwd = line[len("a=ice-pwd:"):]
		}

		if ufrag != "" && pwd != "" {
			break
		}
	}

	return ufrag, pwd
}

// ReplaceICECredentials rewrites every occurrence of the given ICE
// credentials inside a SDP. It is used to craft the offer that
// triggers an ICE restart on the backend.
func ReplaceICECredentials(sdp string, oldUfrag string, oldPwd string, newUfrag string, newPwd string) string {
	sdp = strings.ReplaceAll(sdp, "a=ice-ufrag:"+oldUfrag, "a=ice-ufrag:"+newUfrag)
	sdp = strings.ReplaceAll(sdp, "a=ice-pwd:"+oldPwd, "a=ice-pwd:"+newPwd)
	return sdp
}
