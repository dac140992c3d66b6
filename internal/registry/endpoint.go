// Package registry contains the endpoint registry and the resource index.
package registry

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/bluenviron/whipgate/internal/auth"
)

// State is the publishing state of an endpoint.
type State int

// endpoint states.
const (
	StateIdle State = iota
	StateNegotiating
	StateActive
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	}
	return "idle"
}

// Recipient is a plain-RTP forwarding target.
type Recipient struct {
	Host          string `json:"host"`
	AudioPort     int    `json:"audioPort"`
	VideoPort     int    `json:"videoPort"`
	VideoRTCPPort int    `json:"videoRtcpPort"`
}

// Session is the state of an active ingest.
type Session struct {
	UUID        uuid.UUID
	HandleID    uint64
	PublisherID uint64
	SDPOffer    string
	ICEUfrag    string
	ICEPwd      string
	ResourceID  string
	ETag        string
}

// Endpoint is a gateway-local entry point that a client publishes to.
// Its session fields are guarded by the embedded mutex; every ingest
// operation on the same endpoint is serialized through it.
type Endpoint struct {
	sync.Mutex

	ID         string
	Room       uint64
	Label      string
	Pin        string
	Secret     string
	AdminKey   string
	Token      auth.Token
	ICEServers []webrtc.ICEServer
	Recipient  *Recipient

	State   State
	Session *Session
}

// FillDefaults fills unset fields with default values.
func (e *Endpoint) FillDefaults() {
	if e.Label == "" {
		e.Label = "WHIP Publisher " + strconv.FormatUint(e.Room, 10)
	}
}

// Info is the projection of an Endpoint exposed by listing
// operations. It never carries credentials.
type Info struct {
	ID           string `json:"id"`
	Room         uint64 `json:"room"`
	Label        string `json:"label"`
	Enabled      bool   `json:"enabled"`
	State        string `json:"state"`
	HasPin       bool   `json:"hasPin"`
	HasSecret    bool   `json:"hasSecret"`
	HasAdminKey  bool   `json:"hasAdminKey"`
	HasToken     bool   `json:"hasToken"`
	HasRecipient bool   `json:"hasRecipient"`
}

func (e *Endpoint) info() Info {
	return Info{
		ID:           e.ID,
		Room:         e.Room,
		Label:        e.Label,
		Enabled:      e.State != StateIdle,
		State:        e.State.String(),
		HasPin:       e.Pin != "",
		HasSecret:    e.Secret != "",
		HasAdminKey:  e.AdminKey != "",
		HasToken:     !e.Token.IsZero(),
		HasRecipient: e.Recipient != nil,
	}
}
