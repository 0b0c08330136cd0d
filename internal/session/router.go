package session

import (
	"github.com/lumachat/engage/internal/actor"
	"github.com/lumachat/engage/internal/channel"
	"github.com/lumachat/engage/pkg/types"
)

// bindChannel subscribes the session to a channel's event stream. Every
// handler only converts the event into an actor input and enqueues it, so the
// router never blocks and the mailbox preserves the channel's delivery order.
func bindChannel(ch channel.Channel, emit func(actor.Input)) {
	ch.Subscribe(channel.Handlers{
		Attachment: func(e channel.AttachmentEvent) {
			emit(evAttachment{Event: e})
		},
		Joined: func(e channel.JoinedEvent) {
			if e.Local() {
				emit(evLocalJoined{Reason: e.Reason})
				return
			}
			emit(evAgentJoined{Agent: types.Agent{
				ID:     e.UserID,
				Nick:   e.Nick,
				IsBot:  e.IsBot,
				Avatar: e.Avatar,
			}})
		},
		RawMessage: func(e channel.RawMessageEvent) {
			emit(evRawMessage{Event: e})
		},
		IsWriting: func(e channel.IsWritingEvent) {
			emit(evIsWriting{Event: e})
		},
		LocalText: func(e channel.LocalTextEvent) {
			emit(evLocalText{Text: e.Text})
		},
		Left: func(e channel.LeftEvent) {
			emit(evLeft{RemoteCount: e.RemoteCount, Reason: e.Reason})
		},
		MediaChange: func(e channel.MediaChangeEvent) {
			emit(evMediaChange{Media: e.Media})
		},
		MediaOffer: func(e channel.MediaOfferEvent) {
			emit(evMediaOffer{Offer: e.Offer, Respond: e.Respond})
		},
	})
}
