package janus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/whipgate/internal/logger"
	"github.com/bluenviron/whipgate/internal/protocols/whip"
)

type testLogger struct{ t *testing.T }

func (l *testLogger) Log(_ logger.Level, format string, args ...interface{}) {
	l.t.Logf(format, args...)
}

func testAnswerSDP(t *testing.T) string {
	desc := sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username: "-", SessionID: 1, SessionVersion: 1,
			NetworkType: "IN", AddressType: "IP4", UnicastAddress: "0.0.0.0",
		},
		SessionName: "-",
		TimeDescriptions: []sdp.TimeDescription{{
			Timing: sdp.Timing{},
		}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media: "video",
				Port:  sdp.RangedPort{Value: 9},
				Protos: []string{
					"UDP", "TLS", "RTP", "SAVPF",
				},
				Formats: []string{"96"},
			},
			ConnectionInformation: &sdp.ConnectionInformation{
				NetworkType: "IN", AddressType: "IP4",
				Address: &sdp.Address{Address: "0.0.0.0"},
			},
			Attributes: []sdp.Attribute{
				{Key: "mid", Value: "0"},
				{Key: "ice-ufrag", Value: "srvUfrag"},
				{Key: "ice-pwd", Value: "srvPwd"},
			},
		}},
	}
	byts, err := desc.Marshal()
	require.NoError(t, err)
	return string(byts)
}

type mockBackend struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	// in
	chDropConn chan struct{}
	chHangup   chan uint64

	// out
	chTrickle   chan map[string]interface{}
	chKeepAlive chan struct{}
}

func newMockBackend(t *testing.T) *mockBackend {
	mb := &mockBackend{
		t:           t,
		chDropConn:  make(chan struct{}),
		chHangup:    make(chan uint64),
		chTrickle:   make(chan map[string]interface{}, 16),
		chKeepAlive: make(chan struct{}, 16),
	}
	mb.srv = httptest.NewServer(http.HandlerFunc(mb.handle))
	return mb
}

func (mb *mockBackend) close() {
	mb.srv.Close()
}

func (mb *mockBackend) address() string {
	return "ws" + strings.TrimPrefix(mb.srv.URL, "http")
}

func (mb *mockBackend) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := mb.upgrader.Upgrade(w, r, nil)
	require.NoError(mb.t, err)
	defer conn.Close()

	var writeMutex sync.Mutex
	write := func(in map[string]interface{}) {
		writeMutex.Lock()
		defer writeMutex.Unlock()
		conn.WriteJSON(in) //nolint:errcheck
	}

	go func() {
		for {
			select {
			case <-mb.chDropConn:
				conn.Close()
				return

			case handleID := <-mb.chHangup:
				write(map[string]interface{}{
					"janus":  "hangup",
					"sender": handleID,
					"reason": "DTLS alert",
				})
			}
		}
	}()

	handleID := uint64(4000)

	for {
		var req map[string]interface{}
		err := conn.ReadJSON(&req)
		if err != nil {
			return
		}

		tx := req["transaction"].(string)

		switch req["janus"] {
		case "create":
			write(map[string]interface{}{
				"janus":       "success",
				"transaction": tx,
				"data":        map[string]interface{}{"id": 7777},
			})

		case "keepalive":
			select {
			case mb.chKeepAlive <- struct{}{}:
			default:
			}
			write(map[string]interface{}{
				"janus":       "ack",
				"transaction": tx,
			})

		case "attach":
			handleID++
			write(map[string]interface{}{
				"janus":       "success",
				"transaction": tx,
				"data":        map[string]interface{}{"id": handleID},
			})

		case "message":
			// intermediate ack, then the terminal event
			write(map[string]interface{}{
				"janus":       "ack",
				"transaction": tx,
			})

			res := map[string]interface{}{
				"janus":       "event",
				"transaction": tx,
				"sender":      handleID,
				"plugindata": map[string]interface{}{
					"plugin": "janus.plugin.videoroom",
					"data":   map[string]interface{}{"videoroom": "joined", "id": 1234},
				},
			}
			if _, ok := req["jsep"].(map[string]interface{}); ok {
				res["jsep"] = map[string]interface{}{
					"type": "answer",
					"sdp":  testAnswerSDP(mb.t),
				}
			}
			write(res)

		case "trickle":
			select {
			case mb.chTrickle <- req:
			default:
			}
			write(map[string]interface{}{
				"janus":       "ack",
				"transaction": tx,
			})

		case "detach":
			write(map[string]interface{}{
				"janus":       "success",
				"transaction": tx,
			})
		}
	}
}

func TestClientConnect(t *testing.T) {
	mb := newMockBackend(t)
	defer mb.close()

	c := &Client{
		Address: mb.address(),
		Parent:  &testLogger{t},
	}
	c.Initialize()

	err := c.Connect(context.Background())
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.Connected())

	// overlapping Connect calls are refused
	err = c.Connect(context.Background())
	require.ErrorIs(t, err, ErrAlreadyConnecting)
}

func TestClientConfigure(t *testing.T) {
	mb := newMockBackend(t)
	defer mb.close()

	c := &Client{
		Address: mb.address(),
		Parent:  &testLogger{t},
	}
	c.Initialize()

	err := c.Connect(context.Background())
	require.NoError(t, err)
	defer c.Close()

	h, err := c.Attach(context.Background())
	require.NoError(t, err)
	require.NotZero(t, h.ID())

	answer, publisherID, err := h.Configure(context.Background(),
		map[string]interface{}{"request": "joinandconfigure", "room": 1234},
		"v=0\r\na=ice-ufrag:U1\r\na=ice-pwd:P1\r\n")
	require.NoError(t, err)
	require.Equal(t, uint64(1234), publisherID)
	require.Contains(t, answer, "a=ice-ufrag:srvUfrag")

	err = h.Trickle(context.Background(), []whip.Candidate{{
		Candidate:     "candidate:1 1 udp 1 1.2.3.4 1 typ host",
		SDPMLineIndex: intPtr(0),
	}})
	require.NoError(t, err)

	tr := <-mb.chTrickle
	require.Equal(t, "trickle", tr["janus"])
	require.NotNil(t, tr["candidate"])

	err = h.Detach(context.Background())
	require.NoError(t, err)
}

func TestClientTrickleBatch(t *testing.T) {
	mb := newMockBackend(t)
	defer mb.close()

	c := &Client{
		Address: mb.address(),
		Parent:  &testLogger{t},
	}
	c.Initialize()

	err := c.Connect(context.Background())
	require.NoError(t, err)
	defer c.Close()

	h, err := c.Attach(context.Background())
	require.NoError(t, err)

	err = h.Trickle(context.Background(), []whip.Candidate{
		{Candidate: "candidate:1 1 udp 1 1.2.3.4 1 typ host", SDPMLineIndex: intPtr(0)},
		{Completed: true},
	})
	require.NoError(t, err)

	tr := <-mb.chTrickle
	require.Nil(t, tr["candidate"])
	require.Len(t, tr["candidates"], 2)
}

func TestClientKeepAlive(t *testing.T) {
	mb := newMockBackend(t)
	defer mb.close()

	c := &Client{
		Address:         mb.address(),
		KeepAlivePeriod: 50 * time.Millisecond,
		Parent:          &testLogger{t},
	}
	c.Initialize()

	err := c.Connect(context.Background())
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-mb.chKeepAlive:
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive received")
	}
}

func TestClientHandleClosedEvent(t *testing.T) {
	mb := newMockBackend(t)
	defer mb.close()

	closed := make(chan uint64, 1)

	c := &Client{
		Address:        mb.address(),
		OnHandleClosed: func(handleID uint64) { closed <- handleID },
		Parent:         &testLogger{t},
	}
	c.Initialize()

	err := c.Connect(context.Background())
	require.NoError(t, err)
	defer c.Close()

	h, err := c.Attach(context.Background())
	require.NoError(t, err)

	mb.chHangup <- h.ID()

	select {
	case id := <-closed:
		require.Equal(t, h.ID(), id)
	case <-time.After(2 * time.Second):
		t.Fatal("OnHandleClosed not fired")
	}
}

func TestClientDisconnect(t *testing.T) {
	mb := newMockBackend(t)
	defer mb.close()

	disconnected := make(chan struct{})

	c := &Client{
		Address:        mb.address(),
		OnDisconnected: func() { close(disconnected) },
		Parent:         &testLogger{t},
	}
	c.Initialize()

	err := c.Connect(context.Background())
	require.NoError(t, err)

	h, err := c.Attach(context.Background())
	require.NoError(t, err)

	mb.chDropConn <- struct{}{}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnected not fired")
	}

	require.False(t, c.Connected())

	// Detach after disconnect must not fail
	err = h.Detach(context.Background())
	require.NoError(t, err)

	// a new Connect succeeds once the backend is reachable again
	err = c.Connect(context.Background())
	require.NoError(t, err)
	c.Close()
}

func TestClientCloseThenReconnect(t *testing.T) {
	mb := newMockBackend(t)
	defer mb.close()

	disconnected := make(chan struct{}, 64)

	c := &Client{
		Address:        mb.address(),
		OnDisconnected: func() { disconnected <- struct{}{} },
		Parent:         &testLogger{t},
	}
	c.Initialize()

	// rapid cycles: the reader of a torn-down connection must never
	// act on the connection that replaced it
	for i := 0; i < 10; i++ {
		err := c.Connect(context.Background())
		require.NoError(t, err)
		c.Close()
	}

	err := c.Connect(context.Background())
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-disconnected:
		t.Fatal("connection torn down by a stale reader")
	case <-time.After(250 * time.Millisecond):
	}

	require.True(t, c.Connected())
}

func intPtr(v int) *int {
	return &v
}
