package whip

import (
	"strings"

	"github.com/pion/sdp/v3"
)

func isRestartAttribute(key string) bool {
	switch {
	case strings.HasPrefix(key, "ice-"):
		return true
	case key == "mid", key == "candidate", key == "end-of-candidates":
		return true
	}
	return false
}

func writeAttribute(frag *strings.Builder, attr sdp.Attribute) {
	frag.WriteString("a=" + attr.Key)
	if attr.Value != "" {
		frag.WriteString(":" + attr.Value)
	}
	frag.WriteString("\r\n")
}

// RestartFragmentMarshal encodes the response body of an ICE restart:
// the answer truncated to its first two media sections, projected
// onto the attributes a client needs to re-run ICE.
func RestartFragmentMarshal(answer string) ([]byte, error) {
	var desc sdp.SessionDescription
	err := desc.Unmarshal([]byte(answer))
	if err != nil {
		return nil, err
	}

	var frag strings.Builder

	for _, attr := range desc.Attributes {
		if strings.HasPrefix(attr.Key, "ice-") ||
			(attr.Key == "group" && strings.HasPrefix(attr.Value, "BUNDLE")) {
			writeAttribute(&frag, attr)
		}
	}

	for i, media := range desc.MediaDescriptions {
		if i == 2 {
			break
		}

		frag.WriteString("m=" + media.MediaName.String() + "\r\n")

		for _, attr := range media.Attributes {
			if isRestartAttribute(attr.Key) {
				writeAttribute(&frag, attr)
			}
		}
	}

	return []byte(frag.String()), nil
}
