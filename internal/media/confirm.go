package media

// Classification is the result of classifying an inbound offer.
type Classification struct {
	// NeedsConfirmation is true when the offer proposes new live voice or
	// video and the visitor must accept or reject it explicitly.
	NeedsConfirmation bool
	// Proposed is the most significant media kind the offer proposes
	// (Video over Voice over Chat).
	Proposed Kind
	// Diff is the offer to merge once the visitor accepts, or immediately
	// for offers that need no confirmation.
	Diff Offer
}

// Classify applies the confirmation policy to an inbound offer against the
// currently known media state.
//
// A new live Voice or Video request that is not already live locally asks
// for confirmation; everything else (chat-only changes, downgrades, streams
// the visitor already has) merges automatically.
func Classify(current, incoming Offer) Classification {
	c := Classification{Proposed: Chat, Diff: incoming.Clone()}
	for _, kind := range []Kind{Voice, Video} {
		if incoming.Active(kind) && !current.Active(kind) {
			c.NeedsConfirmation = true
			c.Proposed = kind
		}
	}
	return c
}

// AutoMerge is the negotiation policy for offers that need no confirmation:
// the remote proposal is accepted as-is, with the chat stream always kept
// required so text never drops out of an active contact.
func AutoMerge(incoming Offer) Offer {
	out := incoming.Clone()
	if out == nil {
		out = Offer{}
	}
	out[Chat] = Entry{TX: Required, RX: Required, Via: ViaNet}
	return out
}
