package channel

import (
	"strings"

	"github.com/lumachat/engage/internal/datacollection"
	"github.com/lumachat/engage/internal/media"
	"github.com/lumachat/engage/internal/messages"
	"github.com/lumachat/engage/pkg/types"
)

// Payload decoding for the loosely typed maps the Socket.IO transport
// delivers. Every helper tolerates missing or mistyped fields and returns
// zero values instead of failing, since a malformed frame must never take
// down the session.

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func firstMap(args []any) map[string]any {
	m, _ := firstArg(args).(map[string]any)
	return m
}

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func getBool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

func getInt(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]any)
	return sub
}

func getSlice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	s, _ := m[key].([]any)
	return s
}

// decodeOffer converts a wire media description into an Offer. Unknown kinds
// are carried through untouched so a newer server does not lose streams.
func decodeOffer(v any) media.Offer {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	offer := make(media.Offer, len(raw))
	for kind, entryVal := range raw {
		em, ok := entryVal.(map[string]any)
		if !ok {
			continue
		}
		offer[media.Kind(kind)] = media.Entry{
			TX:     media.Direction(getString(em, "tx")),
			RX:     media.Direction(getString(em, "rx")),
			Via:    getString(em, "via"),
			Engine: getString(em, "engine"),
		}
	}
	return offer
}

// offerPayload converts an Offer into its wire form.
func offerPayload(offer media.Offer) map[string]any {
	out := make(map[string]any, len(offer))
	for kind, e := range offer {
		em := map[string]any{
			"tx": string(e.TX),
			"rx": string(e.RX),
		}
		if e.Via != "" {
			em["via"] = e.Via
		}
		if e.Engine != "" {
			em["engine"] = e.Engine
		}
		out[string(kind)] = em
	}
	return out
}

// formsPayload converts completed data collection forms into the creation
// payload shape.
func formsPayload(forms []datacollection.Form) []map[string]any {
	out := make([]map[string]any, 0, len(forms))
	for _, f := range forms {
		out = append(out, map[string]any{
			"id":   f.ID,
			"data": f.Data,
		})
	}
	return out
}

// decodeAvatar resolves an agent avatar which arrives either as a plain URL
// string or as a descriptor carrying a base url and an image list.
func decodeAvatar(v any) string {
	switch av := v.(type) {
	case string:
		return av
	case map[string]any:
		base := getString(av, "base_url")
		images := getSlice(av, "images")
		if len(images) == 0 {
			return ""
		}
		img, ok := images[0].(map[string]any)
		if !ok {
			return ""
		}
		file := getString(img, "file")
		if file == "" {
			return ""
		}
		if base != "" && !strings.HasSuffix(base, "/") {
			base += "/"
		}
		return base + file
	}
	return ""
}

func decodeAttachmentMeta(m map[string]any) messages.AttachmentMeta {
	return messages.AttachmentMeta{
		URL:          getString(m, "url"),
		OriginalURL:  getString(m, "originalUrl"),
		OriginalName: getString(m, "originalName"),
		Desc:         getString(m, "desc"),
		MimeType:     getString(m, "mimeType"),
		Size:         int64(getInt(m, "size")),
	}
}

// decodeAttachmentEvent decodes the positional attachment frame:
// (url, meta, fromId, fromNick, isAgent).
func decodeAttachmentEvent(args []any) AttachmentEvent {
	ev := AttachmentEvent{}
	if len(args) > 0 {
		ev.URL, _ = args[0].(string)
	}
	if len(args) > 1 {
		if m, ok := args[1].(map[string]any); ok {
			ev.Meta = decodeAttachmentMeta(m)
		}
	}
	if len(args) > 2 {
		ev.FromID, _ = args[2].(string)
	}
	if len(args) > 3 {
		ev.FromNick, _ = args[3].(string)
	}
	if len(args) > 4 {
		ev.IsAgent, _ = args[4].(bool)
	}
	return ev
}

func decodeJoinedEvent(m map[string]any) JoinedEvent {
	return JoinedEvent{
		UserID: getString(m, "userId"),
		Nick:   getString(m, "nick"),
		IsBot:  getBool(m, "isBot"),
		Avatar: decodeAvatar(m["avatar"]),
		Reason: getString(m, "reason"),
	}
}

func decodeRawMessageEvent(m map[string]any) RawMessageEvent {
	ev := RawMessageEvent{
		Type:     getString(m, "type"),
		Body:     getString(m, "body"),
		IsAgent:  getBool(m, "isAgent"),
		FromID:   getString(m, "fromId"),
		FromNick: getString(m, "fromNick"),
		Template: getMap(m, "template"),
	}
	for _, qr := range getSlice(m, "quick_replies") {
		qm, ok := qr.(map[string]any)
		if !ok {
			continue
		}
		ev.QuickReplies = append(ev.QuickReplies, types.PostBack{
			Type:  getString(qm, "type"),
			Title: getString(qm, "title"),
			URL:   getString(qm, "url"),
			Extra: getMap(qm, "extra"),
		})
	}
	return ev
}

// decodeIsWritingEvent decodes the positional frame (fromId, fromNick, agent).
func decodeIsWritingEvent(args []any) IsWritingEvent {
	ev := IsWritingEvent{}
	if len(args) > 0 {
		ev.FromID, _ = args[0].(string)
	}
	if len(args) > 1 {
		ev.FromNick, _ = args[1].(string)
	}
	if len(args) > 2 {
		ev.IsAgent, _ = args[2].(bool)
	}
	return ev
}

// decodeLeftEvent decodes a leave frame. The remote party count lives under
// channels.user.
func decodeLeftEvent(m map[string]any) LeftEvent {
	return LeftEvent{
		RemoteCount: getInt(getMap(m, "channels"), "user"),
		Reason:      getString(m, "reason"),
	}
}

func decodeAgentInfo(m map[string]any) (types.Agent, bool) {
	if m == nil {
		return types.Agent{}, false
	}
	id := getString(m, "id")
	if id == "" {
		id = getString(m, "userId")
	}
	if id == "" {
		return types.Agent{}, false
	}
	return types.Agent{
		ID:     id,
		Nick:   getString(m, "nick"),
		IsBot:  getBool(m, "isBot"),
		Avatar: decodeAvatar(m["avatar"]),
	}, true
}

// decodeTranscript decodes the persisted message list replayed on resume.
func decodeTranscript(v any) []TranscriptEntry {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]TranscriptEntry, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		entry := TranscriptEntry{
			Type:     getString(m, "type"),
			Body:     getString(m, "body"),
			IsAgent:  getBool(m, "isAgent"),
			FromID:   getString(m, "fromId"),
			FromNick: getString(m, "fromNick"),
			URL:      getString(m, "url"),
		}
		if mm := getMap(m, "meta"); mm != nil {
			meta := decodeAttachmentMeta(mm)
			entry.Meta = &meta
		}
		out = append(out, entry)
	}
	return out
}
