package registry

import (
	"github.com/bluenviron/whipgate/internal/auth"
	"github.com/bluenviron/whipgate/internal/conf"
)

// NewFromConf builds an Endpoint from its configuration. When the
// configuration carries no admin key, globalAdminKey is used.
func NewFromConf(id string, cnf *conf.Endpoint, globalAdminKey string) *Endpoint {
	e := &Endpoint{
		ID:       id,
		Room:     cnf.Room,
		Label:    cnf.Label,
		Pin:      cnf.Pin,
		Secret:   cnf.Secret,
		AdminKey: cnf.AdminKey,
	}

	if e.AdminKey == "" {
		e.AdminKey = globalAdminKey
	}

	switch {
	case cnf.Token != "":
		e.Token = auth.Static(cnf.Token)

	case cnf.JWTSecret != "":
		e.Token = auth.JWT(cnf.JWTSecret)
	}

	if len(cnf.ICEServers) != 0 {
		e.ICEServers = cnf.ICEServers.ToWebRTC()
	}

	if cnf.Recipient != nil {
		e.Recipient = &Recipient{
			Host:          cnf.Recipient.Host,
			AudioPort:     cnf.Recipient.AudioPort,
			VideoPort:     cnf.Recipient.VideoPort,
			VideoRTCPPort: cnf.Recipient.VideoRTCPPort,
		}
	}

	return e
}
