package channel

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	sockettypes "github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/lumachat/engage/internal/media"
	"github.com/lumachat/engage/internal/persistence"
	"github.com/lumachat/engage/pkg/logger"
	"github.com/lumachat/engage/pkg/types"
)

const (
	// socketPath is the Socket.IO mount point on the contact server.
	socketPath = "/v1/contacts"
	// ackTimeout bounds every request/ack exchange with the server.
	ackTimeout = 15 * time.Second
)

// SocketFactory creates and resumes contact channels over Socket.IO.
type SocketFactory struct {
	serverURL string
	secret    []byte
	debug     bool
}

// NewSocketFactory returns a factory connecting to the given contact server.
// secret signs the visitor page tokens used during the connect handshake.
func NewSocketFactory(serverURL string, secret []byte, debug bool) *SocketFactory {
	return &SocketFactory{serverURL: serverURL, secret: secret, debug: debug}
}

// Create implements Factory.
func (f *SocketFactory) Create(ctx context.Context, opts ContactOptions) (Channel, error) {
	token, err := SignVisitorToken(f.secret, opts.VisitorToken, opts.SessionToken, opts.CampaignID)
	if err != nil {
		return nil, err
	}
	ch, err := f.connect(token)
	if err != nil {
		return nil, err
	}

	ack, err := ch.emitWithAck(ctx, "contact.create", map[string]any{
		"campaignId":   opts.CampaignID,
		"version":      opts.CampaignVersion,
		"channelId":    opts.ChannelID,
		"entryPointId": opts.EntryPointID,
		"engagementId": opts.EngagementID,
		"initialOffer": offerPayload(opts.InitialOffer),
		"lang":         opts.Language,
		"firstUri":     opts.FirstURI,
		"firstTitle":   opts.FirstTitle,
		"nick":         opts.Nick,
		"data":         formsPayload(opts.Data),
	})
	if err != nil {
		ch.close()
		return nil, fmt.Errorf("create contact: %w", err)
	}
	if msg := getString(ack, "error"); msg != "" {
		ch.close()
		return nil, fmt.Errorf("create contact: %s", msg)
	}

	ch.contactID = getString(ack, "contactId")
	ch.token = getString(ack, "token")
	ch.campaignID = opts.CampaignID
	ch.language = opts.Language
	ch.initialOffer = opts.InitialOffer.Clone()
	if ch.contactID == "" {
		ch.close()
		return nil, fmt.Errorf("create contact: missing contact id in ack")
	}
	return ch, nil
}

// Resume implements Factory.
func (f *SocketFactory) Resume(ctx context.Context, snap persistence.Snapshot) (Channel, error) {
	if snap.ContactID == "" || snap.Token == "" {
		return nil, fmt.Errorf("resume contact: incomplete snapshot")
	}
	ch, err := f.connect(snap.Token)
	if err != nil {
		return nil, err
	}

	ack, err := ch.emitWithAck(ctx, "contact.resume", map[string]any{
		"contactId": snap.ContactID,
	})
	if err != nil {
		ch.close()
		return nil, fmt.Errorf("resume contact: %w", err)
	}
	if msg := getString(ack, "error"); msg != "" {
		ch.close()
		return nil, fmt.Errorf("resume contact: %s", msg)
	}

	ch.contactID = snap.ContactID
	ch.token = snap.Token
	ch.campaignID = snap.CampaignID
	ch.language = snap.Language
	ch.initialOffer = snap.InitialOffer.Clone()
	if agent, ok := decodeAgentInfo(getMap(ack, "agentInfo")); ok {
		ch.agent = &agent
	} else if snap.Agent != nil {
		a := *snap.Agent
		ch.agent = &a
	}
	ch.transcript = decodeTranscript(ack["transcript"])
	return ch, nil
}

func (f *SocketFactory) connect(token string) (*socketChannel, error) {
	opts := socket.DefaultOptions()
	opts.SetPath(socketPath)
	opts.SetTransports(sockettypes.NewSet(socket.Polling, socket.WebSocket))
	opts.SetAuth(map[string]any{
		"token":      token,
		"clientType": "visitor",
	})

	sock, err := socket.Connect(f.serverURL, opts)
	if err != nil {
		return nil, fmt.Errorf("connect contact server: %w", err)
	}

	ch := &socketChannel{sock: sock, debug: f.debug}
	ch.bindEvents()
	return ch, nil
}

// socketChannel is the Socket.IO-backed Channel implementation.
type socketChannel struct {
	sock  *socket.Socket
	debug bool

	contactID    string
	token        string
	campaignID   string
	language     string
	initialOffer media.Offer

	mu         sync.Mutex
	handlers   Handlers
	agent      *types.Agent
	transcript []TranscriptEntry
	closed     bool
}

// ID implements Channel.
func (c *socketChannel) ID() string { return c.contactID }

// Subscribe implements Channel.
func (c *socketChannel) Subscribe(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

func (c *socketChannel) currentHandlers() Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

// bindEvents registers the inbound event handlers. Socket.IO delivers events
// serially, and handlers are invoked synchronously so the session observes
// channel events in arrival order.
func (c *socketChannel) bindEvents() {
	c.sock.On(sockettypes.EventName("attachment"), func(args ...any) {
		if h := c.currentHandlers().Attachment; h != nil {
			h(decodeAttachmentEvent(args))
		}
	})
	c.sock.On(sockettypes.EventName("joined"), func(args ...any) {
		ev := decodeJoinedEvent(firstMap(args))
		if ev.UserID != "" {
			c.mu.Lock()
			c.agent = &types.Agent{ID: ev.UserID, Nick: ev.Nick, IsBot: ev.IsBot, Avatar: ev.Avatar}
			c.mu.Unlock()
		}
		if h := c.currentHandlers().Joined; h != nil {
			h(ev)
		}
	})
	c.sock.On(sockettypes.EventName("rawmessage"), func(args ...any) {
		if h := c.currentHandlers().RawMessage; h != nil {
			h(decodeRawMessageEvent(firstMap(args)))
		}
	})
	c.sock.On(sockettypes.EventName("iswriting"), func(args ...any) {
		if h := c.currentHandlers().IsWriting; h != nil {
			h(decodeIsWritingEvent(args))
		}
	})
	c.sock.On(sockettypes.EventName("localtext"), func(args ...any) {
		if h := c.currentHandlers().LocalText; h != nil {
			text := ""
			if len(args) > 0 {
				text, _ = args[0].(string)
			}
			h(LocalTextEvent{Text: text})
		}
	})
	c.sock.On(sockettypes.EventName("left"), func(args ...any) {
		if h := c.currentHandlers().Left; h != nil {
			h(decodeLeftEvent(firstMap(args)))
		}
	})
	c.sock.On(sockettypes.EventName("mediachange"), func(args ...any) {
		if h := c.currentHandlers().MediaChange; h != nil {
			h(MediaChangeEvent{Media: decodeOffer(firstArg(args))})
		}
	})
	c.sock.On(sockettypes.EventName("mediaoffer"), func(args ...any) {
		payload := firstMap(args)
		offerID := getString(payload, "id")
		offer := decodeOffer(payload["offer"])
		h := c.currentHandlers().MediaOffer
		if h == nil {
			return
		}
		h(MediaOfferEvent{
			Offer:   offer,
			Respond: c.offerResponder(offerID),
		})
	})
	c.sock.On(sockettypes.EventName("connect_error"), func(args ...any) {
		if len(args) > 0 {
			logger.Warnf("contact socket connect error: %v", args[0])
		}
	})
}

// offerResponder answers an inbound media offer by id.
func (c *socketChannel) offerResponder(offerID string) OfferResponder {
	return func(err error, merged media.Offer) {
		payload := map[string]any{"id": offerID}
		if err != nil {
			payload["error"] = err.Error()
		} else {
			payload["merged"] = offerPayload(merged)
		}
		c.emit("contact.mediaoffer.response", payload)
	}
}

// Leave implements Channel.
func (c *socketChannel) Leave() error {
	err := c.emit("contact.leave", map[string]any{"contactId": c.contactID})
	c.close()
	return err
}

// Send implements Channel.
func (c *socketChannel) Send(payload map[string]any) error {
	return c.emit("contact.send", payload)
}

// SendText implements Channel.
func (c *socketChannel) SendText(text string) error {
	return c.emit("contact.text", map[string]any{"body": text})
}

// SendIsWriting implements Channel.
func (c *socketChannel) SendIsWriting() error {
	return c.emit("contact.iswriting", map[string]any{})
}

// Attach implements Channel.
func (c *socketChannel) Attach(ctx context.Context, upload types.Upload) error {
	ack, err := c.emitWithAck(ctx, "contact.attach", map[string]any{
		"name":    upload.Name,
		"caption": upload.Caption,
		"data":    base64.StdEncoding.EncodeToString(upload.Data),
	})
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	if msg := getString(ack, "error"); msg != "" {
		return fmt.Errorf("attach: %s", msg)
	}
	return nil
}

// GetMediaOffer implements Channel.
func (c *socketChannel) GetMediaOffer(ctx context.Context) (media.Offer, error) {
	ack, err := c.emitWithAck(ctx, "contact.mediaoffer.get", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("get media offer: %w", err)
	}
	return decodeOffer(ack["offer"]), nil
}

// OfferMedia implements Channel.
func (c *socketChannel) OfferMedia(ctx context.Context, offer media.Offer) error {
	ack, err := c.emitWithAck(ctx, "contact.mediaoffer.set", map[string]any{
		"offer": offerPayload(offer),
	})
	if err != nil {
		return fmt.Errorf("offer media: %w", err)
	}
	if msg := getString(ack, "error"); msg != "" {
		return fmt.Errorf("offer media: %s", msg)
	}
	return nil
}

// MergeMedia implements Channel.
func (c *socketChannel) MergeMedia(ctx context.Context, diff media.Offer) (media.Offer, error) {
	ack, err := c.emitWithAck(ctx, "contact.mediaoffer.merge", map[string]any{
		"offer": offerPayload(diff),
	})
	if err != nil {
		return nil, fmt.Errorf("merge media: %w", err)
	}
	if msg := getString(ack, "error"); msg != "" {
		return nil, fmt.Errorf("merge media: %s", msg)
	}
	return decodeOffer(ack["offer"]), nil
}

// MediaEngine implements Channel. Only the WebRTC engine exists on this
// transport.
func (c *socketChannel) MediaEngine(name string) (Engine, error) {
	if name != media.EngineWebRTC {
		return nil, ErrNoEngine
	}
	return &socketEngine{ch: c}, nil
}

// LocalCapabilities implements Channel.
func (c *socketChannel) LocalCapabilities(ctx context.Context) (Capabilities, error) {
	ack, err := c.emitWithAck(ctx, "contact.capabilities.local", map[string]any{})
	if err != nil {
		return nil, err
	}
	return Capabilities(ack), nil
}

// RemoteCapabilities implements Channel.
func (c *socketChannel) RemoteCapabilities(ctx context.Context) (Capabilities, error) {
	ack, err := c.emitWithAck(ctx, "contact.capabilities.remote", map[string]any{})
	if err != nil {
		return nil, err
	}
	return Capabilities(ack), nil
}

// AgentInfo implements Channel.
func (c *socketChannel) AgentInfo() (types.Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.agent == nil {
		return types.Agent{}, false
	}
	return *c.agent, true
}

// Transcript implements Channel.
func (c *socketChannel) Transcript() []TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TranscriptEntry(nil), c.transcript...)
}

// StoreSurvey implements Channel.
func (c *socketChannel) StoreSurvey(survey map[string]any) error {
	return c.emit("contact.survey", survey)
}

// Snapshot implements Channel.
func (c *socketChannel) Snapshot() persistence.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := persistence.Snapshot{
		ContactID:    c.contactID,
		Token:        c.token,
		CampaignID:   c.campaignID,
		Language:     c.language,
		InitialOffer: c.initialOffer.Clone(),
	}
	if c.agent != nil {
		a := *c.agent
		snap.Agent = &a
	}
	return snap
}

func (c *socketChannel) emit(event string, payload map[string]any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrNotConnected
	}
	if c.debug {
		logger.Tracef("contact socket emit: %s", event)
	}
	c.sock.Emit(event, payload)
	return nil
}

func (c *socketChannel) emitWithAck(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrNotConnected
	}
	if c.debug {
		logger.Tracef("contact socket emit with ack: %s", event)
	}

	resultCh := make(chan map[string]any, 1)
	errCh := make(chan error, 1)

	c.sock.Emit(event, payload, func(args []any, err error) {
		if err != nil {
			errCh <- err
			return
		}
		if len(args) == 0 {
			resultCh <- nil
			return
		}
		if m, ok := args[0].(map[string]any); ok {
			resultCh <- m
			return
		}
		resultCh <- nil
	})

	select {
	case res := <-resultCh:
		return res, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(ackTimeout):
		return nil, fmt.Errorf("%s: ack timeout", event)
	}
}

func (c *socketChannel) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.sock.Disconnect()
}

// socketEngine is the WebRTC engine handle exposed by a socket channel.
// Mute state changes are relayed to the media bridge through the socket.
type socketEngine struct {
	ch *socketChannel
}

// MuteLocalAudio implements Engine.
func (e *socketEngine) MuteLocalAudio() error {
	return e.ch.emit("contact.media.mute", map[string]any{"muted": true})
}

// UnmuteLocalAudio implements Engine.
func (e *socketEngine) UnmuteLocalAudio() error {
	return e.ch.emit("contact.media.mute", map[string]any{"muted": false})
}
