// Package media models the desired transmit/receive state of a contact's
// media streams and the pure negotiation policies applied to it.
//
// An Offer never mutates in place across the session: every policy returns a
// new Offer, and only the session runtime submits offers to the channel.
package media

// Kind identifies a media stream.
type Kind string

const (
	// Chat is the text stream. It is part of every contact.
	Chat Kind = "Chat"
	// Voice is the audio stream.
	Voice Kind = "Voice"
	// Video is the video stream. Video always implies Voice.
	Video Kind = "Video"
)

// Direction is a transmit/receive directive for one side of a stream.
type Direction string

const (
	// Required means the stream must flow in that direction.
	Required Direction = "required"
	// Off means the stream must not flow in that direction.
	Off Direction = "off"
)

const (
	// EngineWebRTC tags Voice/Video entries with the transport engine that
	// carries them.
	EngineWebRTC = "WebRTC"
	// ViaNet is the transport tag for network-carried streams.
	ViaNet = "net"
)

// Entry is the desired state of a single media stream.
type Entry struct {
	TX     Direction `json:"tx" msgpack:"tx"`
	RX     Direction `json:"rx" msgpack:"rx"`
	Via    string    `json:"via,omitempty" msgpack:"via,omitempty"`
	Engine string    `json:"engine,omitempty" msgpack:"engine,omitempty"`
}

// Live reports whether the entry carries media in either direction.
func (e Entry) Live() bool { return e.TX == Required || e.RX == Required }

// Offer maps media kinds to their desired state.
type Offer map[Kind]Entry

// Clone returns an independent copy of the offer.
func (o Offer) Clone() Offer {
	if o == nil {
		return nil
	}
	out := make(Offer, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Active reports whether the given kind is live in the offer.
func (o Offer) Active(kind Kind) bool {
	e, ok := o[kind]
	return ok && e.Live()
}

// Initial builds the offer attached to a contact creation request from the
// host's requested media ("chat", "voice" or "video").
func Initial(requested string) Offer {
	offer := Offer{
		Chat: {TX: Required, RX: Required, Via: ViaNet},
	}
	switch requested {
	case "voice":
		offer[Voice] = Entry{TX: Required, RX: Required, Via: ViaNet, Engine: EngineWebRTC}
	case "video":
		offer[Voice] = Entry{TX: Required, RX: Required, Via: ViaNet, Engine: EngineWebRTC}
		offer[Video] = Entry{TX: Required, RX: Required, Via: ViaNet, Engine: EngineWebRTC}
	}
	return offer
}

// Upgrade returns the offer with the requested kind set to required in both
// directions. Requesting Video also forces Voice (video implies voice), and
// Voice/Video entries are tagged with the WebRTC engine.
func Upgrade(offer Offer, kind Kind) Offer {
	out := offer.Clone()
	if out == nil {
		out = Offer{}
	}
	out[kind] = requiredEntry(kind)
	if kind == Video {
		out[Voice] = requiredEntry(Voice)
	}
	return out
}

func requiredEntry(kind Kind) Entry {
	e := Entry{TX: Required, RX: Required, Via: ViaNet}
	if kind == Voice || kind == Video {
		e.Engine = EngineWebRTC
	}
	return e
}

// HangUp returns the offer with any Voice/Video entries forced off in both
// directions. Other entries are untouched, so chat survives a hang-up.
func HangUp(offer Offer) Offer {
	out := offer.Clone()
	for _, kind := range []Kind{Voice, Video} {
		if e, ok := out[kind]; ok {
			e.TX = Off
			e.RX = Off
			out[kind] = e
		}
	}
	return out
}

// ToggleVideo returns the offer with the Video transmit direction set
// according to show. Offers without a Video entry are returned unchanged.
func ToggleVideo(offer Offer, show bool) Offer {
	out := offer.Clone()
	e, ok := out[Video]
	if !ok {
		return out
	}
	if show {
		e.TX = Required
	} else {
		e.TX = Off
	}
	out[Video] = e
	return out
}
