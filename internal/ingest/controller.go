// Package ingest contains the per-endpoint ingest state machine.
package ingest

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/bluenviron/whipgate/internal/auth"
	"github.com/bluenviron/whipgate/internal/logger"
	"github.com/bluenviron/whipgate/internal/nonce"
	"github.com/bluenviron/whipgate/internal/protocols/whip"
	"github.com/bluenviron/whipgate/internal/registry"
)

// Backend is the subset of the backend client used by the controller.
type Backend interface {
	Connected() bool
	Attach(ctx context.Context) (BackendHandle, error)
}

// BackendHandle is a plugin handle on the backend.
type BackendHandle interface {
	ID() uint64
	Configure(ctx context.Context, body interface{}, offer string) (answer string, publisherID uint64, err error)
	Trickle(ctx context.Context, candidates []whip.Candidate) error
	StartForward(ctx context.Context, body interface{}) error
	Detach(ctx context.Context) error
}

// Parent is the event sink of a Controller.
type Parent interface {
	logger.Writer
	OnEndpointInactive(endpointID string)
}

// PublishRes is the result of a successful publish.
type PublishRes struct {
	Answer     string
	ResourceID string
	ETag       string
	ICEServers []webrtc.ICEServer
}

// PatchRes is the result of a successful PATCH.
type PatchRes struct {
	Restart bool
	ETag    string
	Body    []byte
}

func randomSSRC() uint32 {
	var buf [4]byte
	rand.Read(buf[:]) //nolint:errcheck
	return binary.BigEndian.Uint32(buf[:])
}

// Controller runs the ingest state machine of every endpoint.
type Controller struct {
	Backend        Backend
	Registry       *registry.Registry
	ICEServers     []webrtc.ICEServer
	TrickleEnabled bool
	StrictETags    bool
	Parent         Parent

	mutex     sync.Mutex
	handles   map[string]BackendHandle // endpoint id -> handle
	endpoints map[uint64]string        // handle id -> endpoint id
}

// Initialize initializes a Controller.
func (c *Controller) Initialize() {
	c.handles = make(map[string]BackendHandle)
	c.endpoints = make(map[uint64]string)
}

// Log implements logger.Writer.
func (c *Controller) Log(level logger.Level, format string, args ...interface{}) {
	c.Parent.Log(level, format, args...)
}

func (c *Controller) registerHandle(endpointID string, h BackendHandle) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.handles[endpointID] = h
	c.endpoints[h.ID()] = endpointID
}

func (c *Controller) unregisterHandle(endpointID string) BackendHandle {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	h, ok := c.handles[endpointID]
	if !ok {
		return nil
	}
	delete(c.handles, endpointID)
	delete(c.endpoints, h.ID())
	return h
}

func (c *Controller) handleOf(endpointID string) BackendHandle {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.handles[endpointID]
}

// AdvertisedICEServers returns the STUN / TURN servers to advertise
// for an endpoint.
func (c *Controller) AdvertisedICEServers(e *registry.Endpoint) []webrtc.ICEServer {
	if len(e.ICEServers) != 0 {
		return e.ICEServers
	}
	return c.ICEServers
}

// Publish runs a WHIP ingest: it attaches a backend handle, submits
// the offer and records the answer. The endpoint mutex is held for
// the whole operation, serializing it against any concurrent
// operation on the same endpoint.
func (c *Controller) Publish(ctx context.Context, endpointID string, authorization string, offer []byte) (*PublishRes, error) {
	e, ok := c.Registry.Get(endpointID)
	if !ok {
		return nil, ErrNotFound
	}

	e.Lock()
	defer e.Unlock()

	err := auth.Authenticate(e.Token, authorization)
	if err != nil {
		return nil, err
	}

	if !strings.Contains(string(offer), "v=0") {
		return nil, ErrUnsupportedMedia
	}

	if !c.Backend.Connected() {
		return nil, ErrBackendUnavailable
	}

	if e.State != registry.StateIdle {
		return nil, ErrConflict
	}

	e.State = registry.StateNegotiating

	resourceID := c.Registry.ReserveResource(endpointID)
	etag := nonce.Generate()
	ufrag, pwd := whip.ExtractICECredentials(string(offer))

	unwind := func(h BackendHandle) {
		if h != nil {
			c.unregisterHandle(endpointID)
			h.Detach(ctx) //nolint:errcheck
		}
		c.Registry.ReleaseResource(resourceID)
		e.Session = nil
		e.State = registry.StateIdle
	}

	h, err := c.Backend.Attach(ctx)
	if err != nil {
		unwind(nil)
		return nil, BackendError{Err: err}
	}
	c.registerHandle(endpointID, h)

	body := map[string]interface{}{
		"request": "joinandconfigure",
		"room":    e.Room,
		"ptype":   "publisher",
		"display": e.Label,
		"audio":   true,
		"video":   true,
	}
	if e.Pin != "" {
		body["pin"] = e.Pin
	}

	answer, publisherID, err := h.Configure(ctx, body, string(offer))
	if err != nil {
		unwind(h)
		return nil, BackendError{Err: err}
	}

	if e.Recipient != nil && (e.Recipient.AudioPort != 0 || e.Recipient.VideoPort != 0) {
		fwd := map[string]interface{}{
			"request":      "rtp_forward",
			"room":         e.Room,
			"publisher_id": publisherID,
			"host":         e.Recipient.Host,
		}
		if e.AdminKey != "" {
			fwd["admin_key"] = e.AdminKey
		}
		if e.Secret != "" {
			fwd["secret"] = e.Secret
		}
		if e.Recipient.AudioPort != 0 {
			fwd["audio_port"] = e.Recipient.AudioPort
			fwd["audio_ssrc"] = randomSSRC()
		}
		if e.Recipient.VideoPort != 0 {
			fwd["video_port"] = e.Recipient.VideoPort
			fwd["video_ssrc"] = randomSSRC()
			if e.Recipient.VideoRTCPPort != 0 {
				fwd["video_rtcp_port"] = e.Recipient.VideoRTCPPort
			}
		}

		err = h.StartForward(ctx, fwd)
		if err != nil {
			unwind(h)
			return nil, BackendError{Err: err}
		}
	}

	e.State = registry.StateActive
	e.Session = &registry.Session{
		UUID:        uuid.New(),
		HandleID:    h.ID(),
		PublisherID: publisherID,
		SDPOffer:    string(offer),
		ICEUfrag:    ufrag,
		ICEPwd:      pwd,
		ResourceID:  resourceID,
		ETag:        etag,
	}

	c.Log(logger.Info, "[endpoint %s] session %s is publishing to room %d",
		endpointID, e.Session.UUID, e.Room)

	return &PublishRes{
		Answer:     answer,
		ResourceID: resourceID,
		ETag:       etag,
		ICEServers: c.AdvertisedICEServers(e),
	}, nil
}

func quoted(v string) string {
	return "\"" + v + "\""
}

// Patch trickles ICE candidates or performs an ICE restart,
// depending on the credentials carried by the fragment.
func (c *Controller) Patch(ctx context.Context, resourceID string, authorization string,
	ifMatch string, body []byte,
) (*PatchRes, error) {
	if !c.TrickleEnabled {
		return nil, ErrTrickleDisabled
	}

	endpointID, ok := c.Registry.LookupByResource(resourceID)
	if !ok {
		return nil, ErrNotFound
	}

	e, ok := c.Registry.Get(endpointID)
	if !ok {
		return nil, ErrNotFound
	}

	e.Lock()
	defer e.Unlock()

	err := auth.Authenticate(e.Token, authorization)
	if err != nil {
		return nil, err
	}

	if e.State != registry.StateActive || e.Session == nil || e.Session.ResourceID != resourceID {
		return nil, ErrNotFound
	}

	if !c.Backend.Connected() {
		return nil, ErrBackendUnavailable
	}

	frag := whip.ParseFragment(body)

	restart := frag.Ufrag != "" && frag.Pwd != "" &&
		(frag.Ufrag != e.Session.ICEUfrag || frag.Pwd != e.Session.ICEPwd)

	// the precondition is enforced only in strict mode; otherwise it
	// is advisory and never rejects.
	if c.StrictETags {
		if restart {
			// RFC 7232 requires the quoted form
			if ifMatch != quoted("*") {
				return nil, ErrPreconditionFailed
			}
		} else if ifMatch != quoted(e.Session.ETag) {
			return nil, ErrPreconditionFailed
		}
	}

	h := c.handleOf(endpointID)
	if h == nil {
		return nil, ErrNotFound
	}

	if !restart {
		if len(frag.Candidates) != 0 {
			err = h.Trickle(ctx, frag.Candidates)
			if err != nil {
				return nil, BackendError{Err: err}
			}
		}

		return &PatchRes{
			ETag: e.Session.ETag,
		}, nil
	}

	c.Log(logger.Info, "[endpoint %s] session %s is restarting ICE",
		endpointID, e.Session.UUID)

	newOffer := whip.ReplaceICECredentials(e.Session.SDPOffer,
		e.Session.ICEUfrag, e.Session.ICEPwd, frag.Ufrag, frag.Pwd)

	answer, _, err := h.Configure(ctx, map[string]interface{}{
		"request": "configure",
	}, newOffer)
	if err != nil {
		return nil, BackendError{Err: err}
	}

	body, err = whip.RestartFragmentMarshal(answer)
	if err != nil {
		return nil, BackendError{Err: err}
	}

	e.Session.SDPOffer = newOffer
	e.Session.ICEUfrag = frag.Ufrag
	e.Session.ICEPwd = frag.Pwd
	e.Session.ETag = nonce.Generate()

	// candidates collected in the same request are forwarded after
	// the answer is known
	if len(frag.Candidates) != 0 {
		err = h.Trickle(ctx, frag.Candidates)
		if err != nil {
			return nil, BackendError{Err: err}
		}
	}

	return &PatchRes{
		Restart: true,
		ETag:    e.Session.ETag,
		Body:    body,
	}, nil
}

// Teardown closes the session bound to a resource id.
func (c *Controller) Teardown(ctx context.Context, resourceID string, authorization string) error {
	endpointID, ok := c.Registry.LookupByResource(resourceID)
	if !ok {
		return ErrNotFound
	}

	e, ok := c.Registry.Get(endpointID)
	if !ok {
		return ErrNotFound
	}

	e.Lock()
	defer e.Unlock()

	err := auth.Authenticate(e.Token, authorization)
	if err != nil {
		return err
	}

	c.teardownLocked(ctx, e, true)
	return nil
}

// DestroyEndpoint tears down any active session of an endpoint, then
// removes it from the registry.
func (c *Controller) DestroyEndpoint(ctx context.Context, endpointID string) error {
	e, ok := c.Registry.Get(endpointID)
	if !ok {
		return ErrNotFound
	}

	e.Lock()
	c.teardownLocked(ctx, e, true)
	e.Unlock()

	return c.Registry.Destroy(endpointID)
}

// HandleClosed reacts to a handle spontaneously closed by the
// backend. The handle is already gone, so no Detach is attempted.
func (c *Controller) HandleClosed(handleID uint64) {
	c.mutex.Lock()
	endpointID, ok := c.endpoints[handleID]
	c.mutex.Unlock()
	if !ok {
		return
	}

	e, ok := c.Registry.Get(endpointID)
	if !ok {
		return
	}

	e.Lock()
	defer e.Unlock()

	// skip if the session was replaced in the meantime
	if e.Session == nil || e.Session.HandleID != handleID {
		return
	}

	c.Log(logger.Info, "[endpoint %s] backend closed the session", endpointID)
	c.teardownLocked(context.Background(), e, false)
}

// BackendLost transitions every non-idle endpoint to idle. It is
// invoked when the backend connection is lost; no Detach calls are
// attempted.
func (c *Controller) BackendLost() {
	for _, e := range c.Registry.All() {
		e.Lock()
		if e.State != registry.StateIdle {
			c.teardownLocked(context.Background(), e, false)
		}
		e.Unlock()
	}
}

// teardownLocked clears the session of an endpoint. The endpoint
// mutex must be held. It is idempotent.
func (c *Controller) teardownLocked(ctx context.Context, e *registry.Endpoint, detach bool) {
	h := c.unregisterHandle(e.ID)

	if e.Session == nil {
		return
	}

	if detach && h != nil {
		h.Detach(ctx) //nolint:errcheck
	}

	c.Registry.ReleaseResource(e.Session.ResourceID)
	sessionUUID := e.Session.UUID
	e.Session = nil
	e.State = registry.StateIdle

	c.Log(logger.Info, "[endpoint %s] session %s closed", e.ID, sessionUUID)
	c.Parent.OnEndpointInactive(e.ID)
}
