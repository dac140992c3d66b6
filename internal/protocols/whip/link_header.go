package whip

import (
	"encoding/json"
	"strings"

	"github.com/pion/webrtc/v4"
)

func quoteCredential(v string) string {
	b, _ := json.Marshal(v)
	s := string(b)
	return s[1 : len(s)-1]
}

func validICEServerURL(u string) bool {
	return strings.HasPrefix(u, "stun:") ||
		strings.HasPrefix(u, "turn:") ||
		strings.HasPrefix(u, "turns:")
}

// LinkHeaderMarshal encodes the ICE server advertisement.
// Servers with a non-ICE URL scheme are skipped.
func LinkHeaderMarshal(iceServers []webrtc.ICEServer) []string {
	var ret []string

	for _, server := range iceServers {
		if len(server.URLs) == 0 || !validICEServerURL(server.URLs[0]) {
			continue
		}

		link := "<" + server.URLs[0] + ">; rel=\"ice-server\""
		if server.Username != "" {
			link += "; username=\"" + quoteCredential(server.Username) + "\"" +
				"; credential=\"" + quoteCredential(server.Credential.(string)) + "\"; credential-type=\"password\""
		}
		ret = append(ret, link)
	}

	return ret
}
