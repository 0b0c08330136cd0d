package channel

import (
	"github.com/lumachat/engage/internal/datacollection"
	"github.com/lumachat/engage/internal/media"
	"github.com/lumachat/engage/pkg/types"
)

// webChannelID is the channel id attached to every creation request from
// this widget.
const webChannelID = "web"

// ContactOptions is the request payload for contact creation.
type ContactOptions struct {
	CampaignID      string                `json:"campaignId"`
	CampaignVersion int                   `json:"version"`
	ChannelID       string                `json:"channelId"`
	EntryPointID    string                `json:"entryPointId"`
	EngagementID    string                `json:"engagementId"`
	InitialOffer    media.Offer           `json:"initialOffer"`
	Language        string                `json:"lang"`
	VisitorToken    string                `json:"visitorToken"`
	SessionToken    string                `json:"sessionToken"`
	FirstURI        string                `json:"firstUri,omitempty"`
	FirstTitle      string                `json:"firstTitle,omitempty"`
	Nick            string                `json:"nick,omitempty"`
	Data            []datacollection.Form `json:"data,omitempty"`
}

// BuildContactOptions assembles the creation payload from the session
// context and the completed data collection.
func BuildContactOptions(sc types.SessionContext, collected datacollection.Result) ContactOptions {
	return ContactOptions{
		CampaignID:      sc.CampaignID,
		CampaignVersion: sc.CampaignVersion,
		ChannelID:       webChannelID,
		EntryPointID:    sc.EntryPointID,
		EngagementID:    sc.EngagementID,
		InitialOffer:    media.Initial(sc.RequestedMedia),
		Language:        sc.Language,
		VisitorToken:    sc.Page.VisitorID,
		SessionToken:    sc.Page.SessionID,
		FirstURI:        sc.Page.FirstURI,
		FirstTitle:      sc.Page.FirstTitle,
		Nick:            collected.Nick,
		Data:            collected.Forms,
	}
}
