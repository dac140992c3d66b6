package janus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bluenviron/whipgate/internal/logger"
	"github.com/bluenviron/whipgate/internal/protocols/whip"
)

// Handle is a plugin handle bound to the backend session.
type Handle struct {
	c  *Client
	id uint64
}

// Attach creates a plugin handle.
func (c *Client) Attach(ctx context.Context) (*Handle, error) {
	c.mutex.Lock()
	sessionID := c.sessionID
	c.mutex.Unlock()

	res, err := c.do(ctx, request{
		Janus:     "attach",
		SessionID: sessionID,
		Plugin:    c.Plugin,
	})
	if err != nil {
		return nil, err
	}
	if res.Data == nil {
		return nil, fmt.Errorf("malformed attach response")
	}

	c.Log(logger.Debug, "handle %d attached", res.Data.ID)

	return &Handle{
		c:  c,
		id: res.Data.ID,
	}, nil
}

// ID returns the numeric handle id.
func (h *Handle) ID() uint64 {
	return h.id
}

func (h *Handle) message(ctx context.Context, body interface{}, jsep *JSEP) (*frame, *pluginData, error) {
	h.c.mutex.Lock()
	sessionID := h.c.sessionID
	h.c.mutex.Unlock()

	res, err := h.c.do(ctx, request{
		Janus:     "message",
		SessionID: sessionID,
		HandleID:  h.id,
		Body:      body,
		JSEP:      jsep,
	})
	if err != nil {
		return nil, nil, err
	}

	var pd pluginData
	if res.PluginData != nil {
		json.Unmarshal(res.PluginData.Data, &pd) //nolint:errcheck
		if pd.Error != "" {
			return nil, nil, fmt.Errorf("plugin error %d (%s)", pd.ErrorCode, pd.Error)
		}
	}

	return res, &pd, nil
}

// Configure submits a plugin request carrying a SDP offer and returns
// the SDP answer together with the publisher id assigned by the
// backend, when present.
func (h *Handle) Configure(ctx context.Context, body interface{}, offer string) (string, uint64, error) {
	res, pd, err := h.message(ctx, body, &JSEP{
		Type: "offer",
		SDP:  offer,
	})
	if err != nil {
		return "", 0, err
	}

	if res.JSEP == nil || res.JSEP.SDP == "" {
		return "", 0, fmt.Errorf("no answer in response")
	}

	return res.JSEP.SDP, pd.ID, nil
}

// Trickle sends ICE candidates. It is fire-and-forget: only a
// transport-level failure is reported.
func (h *Handle) Trickle(ctx context.Context, candidates []whip.Candidate) error {
	h.c.mutex.Lock()
	conn := h.c.conn
	sessionID := h.c.sessionID
	h.c.mutex.Unlock()

	if conn == nil {
		return ErrBackendGone
	}

	req := request{
		Janus:     "trickle",
		SessionID: sessionID,
		HandleID:  h.id,
	}
	if len(candidates) == 1 {
		req.Candidate = &candidates[0]
	} else {
		req.Candidates = candidates
	}

	return h.c.send(conn, req)
}

// StartForward configures a plain-RTP fan-out of the published stream.
func (h *Handle) StartForward(ctx context.Context, body interface{}) error {
	_, _, err := h.message(ctx, body, nil)
	return err
}

// Detach tears the handle down. It is idempotent and never fails if
// the handle or the whole backend is already gone.
func (h *Handle) Detach(ctx context.Context) error {
	h.c.mutex.Lock()
	sessionID := h.c.sessionID
	h.c.mutex.Unlock()

	_, err := h.c.do(ctx, request{
		Janus:     "detach",
		SessionID: sessionID,
		HandleID:  h.id,
	})
	if err != nil {
		h.c.Log(logger.Debug, "handle %d detach: %v", h.id, err)
	}
	return nil
}
