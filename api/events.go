package api

import (
	"encoding/json"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/stockpile/notify"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/lxzan/gws"
)

const (
	eventsPingInterval = 25 * time.Second
	eventsPingWait     = 60 * time.Second
	sessionKeySub      = "subscription"
	sessionKeyGone     = "observer-gone"
)

// Websocket close codes
const (
	closeNormal      uint16 = 1000
	closeGoingAway   uint16 = 1001
	closeTryAgain    uint16 = 1013
	closeReasonLag          = "observer fell behind; re-read state and reconnect"
	closeReasonClose        = "service shutting down"
)

/*
eventStream pushes change events to websocket observers

Each connection holds one notifier subscription. Every event becomes one JSON text
frame. When the hub drops the subscription, the connection is closed so the observer
knows to re-read state.
*/
type eventStream struct {
	gws.BuiltinEventHandler
	goutils.Component
	hub        *notify.Hub
	bufferSize int
	upgrader   *gws.Upgrader
}

func newEventStream(hub *notify.Hub, bufferSize int) *eventStream {
	logTags := log.Fields{"package": "stockpile", "module": "api", "component": "event-stream"}
	stream := &eventStream{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		hub:        hub,
		bufferSize: bufferSize,
	}
	stream.upgrader = gws.NewUpgrader(stream, &gws.ServerOption{
		CheckUtf8Enabled:  true,
		Recovery:          gws.Recovery,
		PermessageDeflate: gws.PermessageDeflate{Enabled: true},
	})
	return stream
}

// serve upgrade the request and start streaming
func (s *eventStream) serve(c *gin.Context) {
	logTags := s.GetLogTagsForContext(c.Request.Context())

	socket, err := s.upgrader.Upgrade(c.Writer, c.Request)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Websocket upgrade failed")
		return
	}

	sub := s.hub.Subscribe(s.bufferSize)
	socket.Session().Store(sessionKeySub, sub)

	log.WithFields(logTags).WithField("subscription", sub.ID).Info("Observer connected")

	go socket.ReadLoop()
	go s.pump(socket, sub, logTags)
}

// pump forward events until the subscription ends
func (s *eventStream) pump(socket *gws.Conn, sub *notify.Subscription, logTags log.Fields) {
	for event := range sub.Events {
		payload, err := json.Marshal(event)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to encode change event")
			continue
		}
		if err := socket.WriteMessage(gws.OpcodeText, payload); err != nil {
			log.WithError(err).WithFields(logTags).WithField("subscription", sub.ID).Debug("Observer write failed")
			s.hub.Unsubscribe(sub)
			return
		}
	}

	_, observerGone := socket.Session().Load(sessionKeyGone)
	if code, reason, send := closeFrameFor(s.hub.IsClosed(), observerGone); send {
		socket.WriteClose(code, []byte(reason))
	}
}

/*
closeFrameFor decide how to close a connection whose subscription has ended

	@param hubClosed bool - the hub is shutting down
	@param observerGone bool - the observer already disconnected
	@returns the close code and reason, and whether a close frame is sent at all
*/
func closeFrameFor(hubClosed bool, observerGone bool) (uint16, string, bool) {
	switch {
	case observerGone:
		return 0, "", false
	case hubClosed:
		return closeGoingAway, closeReasonClose, true
	default:
		return closeTryAgain, closeReasonLag, true
	}
}

func (s *eventStream) OnOpen(socket *gws.Conn) {
	_ = socket.SetDeadline(time.Now().Add(eventsPingWait))
	go func() {
		ticker := time.NewTicker(eventsPingInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := socket.WritePing(nil); err != nil {
				return
			}
		}
	}()
}

func (s *eventStream) OnClose(socket *gws.Conn, err error) {
	// Set before unsubscribing, so the pump sees it once the event channel closes
	socket.Session().Store(sessionKeyGone, true)
	value, ok := socket.Session().Load(sessionKeySub)
	if !ok {
		return
	}
	sub := value.(*notify.Subscription)
	s.hub.Unsubscribe(sub)
	log.WithFields(s.LogTags).WithField("subscription", sub.ID).Info("Observer disconnected")
}

func (s *eventStream) OnPing(socket *gws.Conn, _ []byte) {
	_ = socket.SetDeadline(time.Now().Add(eventsPingWait))
	_ = socket.WritePong(nil)
}

func (s *eventStream) OnPong(socket *gws.Conn, _ []byte) {
	_ = socket.SetDeadline(time.Now().Add(eventsPingWait))
}

// OnMessage observers only listen; "close" ends the stream, anything else is ignored
func (s *eventStream) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	if message.Opcode == gws.OpcodeText && message.Data.String() == "close" {
		socket.WriteClose(closeNormal, nil)
	}
}
