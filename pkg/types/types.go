// Package types defines the records shared between the session core and its
// host-facing surfaces.
package types

// Variables are host-configured behavior switches for a widget instance.
type Variables struct {
	// AskCloseConfirm requires a confirmation modal before an active contact
	// is closed.
	AskCloseConfirm bool `json:"askCloseConfirm"`
	// StayInAppAfterClose keeps the widget mounted after the contact closes.
	StayInAppAfterClose bool `json:"stayInAppAfterClose"`
	// ShowWelcomeMessage posts a system welcome message when an agent answers.
	ShowWelcomeMessage bool `json:"showWelcomeMessage"`
}

// PageInfo carries the visitor/page tracking tokens attached to contact
// creation requests.
type PageInfo struct {
	VisitorID  string `json:"visitorId"`
	SessionID  string `json:"sessionId"`
	FirstURI   string `json:"firstUri"`
	FirstTitle string `json:"firstTitle"`
}

// DataField is a single field of a data-collection form.
type DataField struct {
	ID     string `json:"id"`
	Format string `json:"format,omitempty"`
	// DefaultConstant, when non-nil, pre-fills the field without rendering it.
	DefaultConstant any `json:"defaultConstant,omitempty"`
}

// DataCollection describes one data-collection form requested before contact
// creation.
type DataCollection struct {
	ID     string      `json:"id"`
	Fields []DataField `json:"fields"`
}

// SessionContext is the immutable snapshot supplied by the host at init.
// The core never mutates it.
type SessionContext struct {
	CampaignID      string           `json:"campaignId"`
	CampaignVersion int              `json:"campaignVersion"`
	EntryPointID    string           `json:"entryPointId"`
	EngagementID    string           `json:"engagementId"`
	RequestedMedia  string           `json:"requestedMedia"`
	Language        string           `json:"language"`
	PersistenceID   string           `json:"persistenceId,omitempty"`
	Page            PageInfo         `json:"page"`
	Variables       Variables        `json:"variables"`
	HasSurvey       bool             `json:"hasSurvey"`
	CanRemoveApp    bool             `json:"canRemoveApp"`
	DataCollections []DataCollection `json:"dataCollections,omitempty"`
}

// Agent identifies the remote party currently serving the contact. It is
// replaced, never merged, on each join.
type Agent struct {
	ID     string `json:"id"`
	Nick   string `json:"nick"`
	IsBot  bool   `json:"isBot"`
	Avatar string `json:"avatar,omitempty"`
}

// IsAgent reports whether the record describes a human agent.
func (a Agent) IsAgent() bool { return !a.IsBot }

// Upload is an attachment the visitor wants to send.
type Upload struct {
	Name    string `json:"name"`
	Data    []byte `json:"-"`
	Caption string `json:"caption,omitempty"`
}

// PostBack is a structured action originating from a template or quick-reply
// button.
type PostBack struct {
	Type  string         `json:"type"`
	Title string         `json:"title"`
	URL   string         `json:"url,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}
