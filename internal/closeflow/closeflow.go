// Package closeflow decides how a session terminates.
//
// Decide is a total, pure function over the session and UI flags: every flag
// combination maps to exactly one action, and the session controller runs
// the corresponding effect sequence only after the decision is made. No
// channel mutation ever happens before Decide returns.
package closeflow

// Flags is the input snapshot for a close decision.
type Flags struct {
	// ContactStarted is true once a contact channel was created or resumed.
	ContactStarted bool
	// IsInQueue is true while the contact waits for an agent.
	IsInQueue bool
	// IsClosed is true once the contact channel has terminated.
	IsClosed bool
	// HasSurvey is true when a post-contact survey is configured.
	HasSurvey bool
	// CanRemoveApp is true when the host allows removing the widget.
	CanRemoveApp bool
	// AskCloseConfirm requires a confirmation modal before closing an
	// active contact.
	AskCloseConfirm bool
	// StayInAppAfterClose keeps the widget mounted after closing.
	StayInAppAfterClose bool
	// SurveyVisible is true once the survey has been shown in this close
	// sequence.
	SurveyVisible bool
	// CloseModalVisible is true once the confirmation modal has been shown
	// in this close sequence.
	CloseModalVisible bool
}

// Action is the single termination step decided for a close request.
type Action string

const (
	// RemoveApp removes the widget without touching the channel.
	RemoveApp Action = "remove-app"
	// ShowSurvey shows the survey for an already-closed contact.
	ShowSurvey Action = "show-survey"
	// CloseAndSurvey closes the contact, then shows the survey.
	CloseAndSurvey Action = "close-and-survey"
	// ShowCloseModal asks the visitor to confirm the close.
	ShowCloseModal Action = "show-close-modal"
	// CloseAndStay closes the contact but keeps the widget mounted.
	CloseAndStay Action = "close-and-stay"
	// CloseAndRemove closes the contact and removes the widget.
	CloseAndRemove Action = "close-and-remove"
)

// Decide maps a flag snapshot to exactly one termination action.
func Decide(f Flags) Action {
	if !f.ContactStarted {
		return RemoveApp
	}
	if f.IsInQueue {
		return CloseAndRemove
	}
	if f.IsClosed {
		if f.HasSurvey && f.CanRemoveApp {
			if f.SurveyVisible {
				return RemoveApp
			}
			return ShowSurvey
		}
		return RemoveApp
	}

	// Active contact, not yet closed.
	if f.AskCloseConfirm && !f.CloseModalVisible {
		return ShowCloseModal
	}
	if f.StayInAppAfterClose {
		return CloseAndStay
	}
	if f.HasSurvey {
		if f.SurveyVisible {
			return RemoveApp
		}
		return CloseAndSurvey
	}
	return CloseAndRemove
}
