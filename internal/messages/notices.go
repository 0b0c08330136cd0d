package messages

import "fmt"

// Notice identifies a local system notice. Hosts may localize by key; Body
// carries the default English rendering.
type Notice string

const (
	// NoticeQueueConnecting is shown while the contact waits for an agent.
	NoticeQueueConnecting Notice = "queue.connecting"
	// NoticeWelcome replaces the queue notice when an agent answers.
	NoticeWelcome Notice = "chat.welcome"
	// NoticeLocalClose is posted when the visitor closes the contact.
	NoticeLocalClose Notice = "contact.closed-by-visitor"
	// NoticeRemoteClose is posted when the agent side leaves.
	NoticeRemoteClose Notice = "contact.closed-by-agent"
	// NoticeCallRejected is posted when the visitor rejects an incoming call.
	NoticeCallRejected Notice = "media.call-rejected"
)

var noticeBodies = map[Notice]string{
	NoticeQueueConnecting: "Connecting you with an agent...",
	NoticeWelcome:         "You are now chatting with %s",
	NoticeLocalClose:      "You closed the conversation",
	NoticeRemoteClose:     "The agent closed the conversation",
	NoticeCallRejected:    "Call rejected",
}

// System builds a system message for the given notice. args fill the notice's
// format verbs (the welcome notice takes the agent nickname).
func System(notice Notice, args ...any) Message {
	body, ok := noticeBodies[notice]
	if !ok {
		body = string(notice)
	}
	if len(args) > 0 {
		body = fmt.Sprintf(body, args...)
	}
	return Message{
		Kind: KindSystem,
		Body: body,
	}
}
