// Package hostbridge carries the session's outbound lifecycle notifications
// to the page embedding the widget.
package hostbridge

import (
	"github.com/lumachat/engage/pkg/logger"
	"github.com/lumachat/engage/pkg/types"
)

// Bridge receives lifecycle milestones from the session core. Implementations
// forward them to the host page; they must not block and must tolerate being
// called from session runtime goroutines.
type Bridge interface {
	// InteractionCreated fires once a contact channel is installed.
	InteractionCreated(payload map[string]any)
	// InteractionAnswered fires when an agent answers the contact.
	InteractionAnswered(agent types.Agent)
	// InteractionFailed fires when channel creation or resumption fails.
	// The session stays uninitialized afterwards.
	InteractionFailed(message string)
	// InteractionEvent forwards a named widget event (web_url opens,
	// non-postback template actions) to the host page.
	InteractionEvent(eventType string, payload map[string]any)
	// RemoveApp asks the host to unmount the widget.
	RemoveApp()
}

// LogBridge is a Bridge that only logs. Used by the demo client and as a
// safe default when the host registers no bridge.
type LogBridge struct{}

// InteractionCreated implements Bridge.
func (LogBridge) InteractionCreated(payload map[string]any) {
	logger.Infof("host bridge: interaction created (%d fields)", len(payload))
}

// InteractionAnswered implements Bridge.
func (LogBridge) InteractionAnswered(agent types.Agent) {
	logger.Infof("host bridge: interaction answered by %s", agent.Nick)
}

// InteractionFailed implements Bridge.
func (LogBridge) InteractionFailed(message string) {
	logger.Warnf("host bridge: interaction failed: %s", message)
}

// InteractionEvent implements Bridge.
func (LogBridge) InteractionEvent(eventType string, payload map[string]any) {
	logger.Debugf("host bridge: event %s (%d fields)", eventType, len(payload))
}

// RemoveApp implements Bridge.
func (LogBridge) RemoveApp() {
	logger.Infof("host bridge: remove app requested")
}

var _ Bridge = LogBridge{}
