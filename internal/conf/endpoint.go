package conf

import (
	"fmt"
	"regexp"
)

var reEndpointID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Recipient is the destination of a RTP forward.
type Recipient struct {
	Host          string `json:"host"`
	AudioPort     int    `json:"audioPort"`
	VideoPort     int    `json:"videoPort"`
	VideoRTCPPort int    `json:"videoRTCPPort"`
}

// Endpoint is an endpoint configuration.
type Endpoint struct {
	Room       uint64     `json:"room"`
	Label      string     `json:"label"`
	Token      string     `json:"token"`
	JWTSecret  string     `json:"jwtSecret"`
	Pin        string     `json:"pin"`
	Secret     string     `json:"secret"`
	AdminKey   string     `json:"adminKey"`
	ICEServers ICEServers `json:"iceServers"`
	Recipient  *Recipient `json:"recipient,omitempty"`
}

// Validate checks the endpoint configuration for errors.
func (e *Endpoint) Validate(id string) error {
	if !reEndpointID.MatchString(id) {
		return fmt.Errorf("invalid endpoint id '%s'", id)
	}

	if e.Room == 0 {
		return fmt.Errorf("endpoint '%s': 'room' is mandatory", id)
	}

	if e.Token != "" && e.JWTSecret != "" {
		return fmt.Errorf("endpoint '%s': 'token' and 'jwtSecret' cannot be used together", id)
	}

	if e.Recipient != nil &&
		(e.Recipient.AudioPort != 0 || e.Recipient.VideoPort != 0) &&
		e.Recipient.Host == "" {
		return fmt.Errorf("endpoint '%s': 'recipient.host' is mandatory", id)
	}

	for _, s := range e.ICEServers {
		if err := s.validate(); err != nil {
			return fmt.Errorf("endpoint '%s': %w", id, err)
		}
	}

	return nil
}
