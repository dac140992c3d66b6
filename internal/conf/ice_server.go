package conf

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEServer is a STUN or TURN server.
type ICEServer struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s ICEServer) validate() error {
	if !strings.HasPrefix(s.URL, "stun:") &&
		!strings.HasPrefix(s.URL, "turn:") &&
		!strings.HasPrefix(s.URL, "turns:") {
		return fmt.Errorf("invalid ICE server URL '%s'", s.URL)
	}
	return nil
}

// ICEServers is the iceServers parameter.
type ICEServers []ICEServer

// unmarshalEnv implements envUnmarshaler.
func (s *ICEServers) unmarshalEnv(v string) error {
	return json.Unmarshal([]byte(v), s)
}

// ToWebRTC converts to webrtc.ICEServer slice.
func (s ICEServers) ToWebRTC() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(s))
	for i, server := range s {
		out[i] = webrtc.ICEServer{
			URLs: []string{server.URL},
		}
		if server.Username != "" {
			out[i].Username = server.Username
			out[i].Credential = server.Password
		}
	}
	return out
}
