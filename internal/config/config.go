// Package config loads the widget client configuration from the environment,
// optionally merged with a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/lumachat/engage/pkg/logger"
	"github.com/lumachat/engage/pkg/types"
)

type Config struct {
	// ServerURL is the base URL of the contact server.
	ServerURL string
	// TokenSecret signs visitor page tokens for the connect handshake.
	TokenSecret string

	// EngageHome is the directory for local state (contact snapshots).
	EngageHome string

	// CampaignID identifies the campaign this widget instance serves.
	CampaignID string
	// CampaignVersion is the campaign revision to request.
	CampaignVersion int
	// EntryPointID and EngagementID identify where the widget was embedded.
	EntryPointID string
	EngagementID string
	// RequestedMedia is the media the host asked for (chat|voice|video).
	RequestedMedia string
	// Language is the visitor language tag.
	Language string
	// PersistenceID, when set, enables contact resumption across restarts.
	PersistenceID string

	// AskCloseConfirm requires a confirmation before closing an active
	// contact.
	AskCloseConfirm bool
	// StayInAppAfterClose keeps the widget mounted after the contact closes.
	StayInAppAfterClose bool
	// ShowWelcomeMessage posts a welcome notice when an agent answers.
	ShowWelcomeMessage bool
	// HasSurvey enables the post-contact survey step of the close flow.
	HasSurvey bool
	// CanRemoveApp allows the close flow to unmount the widget.
	CanRemoveApp bool

	// LogLevel is the logger verbosity (trace|debug|info|warn|error).
	LogLevel string
	// Debug enables verbose transport logging.
	Debug bool
}

// fileConfig is the TOML shape. File values override environment values only
// for keys that are actually defined in the file.
type fileConfig struct {
	ServerURL           string `toml:"server_url"`
	TokenSecret         string `toml:"token_secret"`
	CampaignID          string `toml:"campaign_id"`
	CampaignVersion     int    `toml:"campaign_version"`
	EntryPointID        string `toml:"entry_point_id"`
	EngagementID        string `toml:"engagement_id"`
	RequestedMedia      string `toml:"requested_media"`
	Language            string `toml:"language"`
	PersistenceID       string `toml:"persistence_id"`
	AskCloseConfirm     bool   `toml:"ask_close_confirm"`
	StayInAppAfterClose bool   `toml:"stay_in_app_after_close"`
	ShowWelcomeMessage  bool   `toml:"show_welcome_message"`
	HasSurvey           bool   `toml:"has_survey"`
	CanRemoveApp        bool   `toml:"can_remove_app"`
	LogLevel            string `toml:"log_level"`
	Debug               bool   `toml:"debug"`
}

// Load builds the configuration from environment variables and defaults.
// When path is non-empty, the TOML file at path is merged on top.
func Load(path string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	engageHome := os.Getenv("ENGAGE_HOME_DIR")
	if engageHome == "" {
		engageHome = filepath.Join(homeDir, ".engage")
	}
	if err := os.MkdirAll(engageHome, 0700); err != nil {
		return nil, fmt.Errorf("failed to create engage home: %w", err)
	}

	serverURL := os.Getenv("ENGAGE_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8090"
	}

	requestedMedia := os.Getenv("ENGAGE_REQUESTED_MEDIA")
	if requestedMedia == "" {
		requestedMedia = "chat"
	}
	language := os.Getenv("ENGAGE_LANGUAGE")
	if language == "" {
		language = "en"
	}

	cfg := &Config{
		ServerURL:           serverURL,
		TokenSecret:         os.Getenv("ENGAGE_TOKEN_SECRET"),
		EngageHome:          engageHome,
		CampaignID:          os.Getenv("ENGAGE_CAMPAIGN_ID"),
		EntryPointID:        os.Getenv("ENGAGE_ENTRY_POINT_ID"),
		EngagementID:        os.Getenv("ENGAGE_ENGAGEMENT_ID"),
		RequestedMedia:      requestedMedia,
		Language:            language,
		PersistenceID:       os.Getenv("ENGAGE_PERSISTENCE_ID"),
		AskCloseConfirm:     envBool("ENGAGE_ASK_CLOSE_CONFIRM"),
		StayInAppAfterClose: envBool("ENGAGE_STAY_IN_APP"),
		ShowWelcomeMessage:  envBool("ENGAGE_SHOW_WELCOME"),
		HasSurvey:           envBool("ENGAGE_HAS_SURVEY"),
		CanRemoveApp:        !envBool("ENGAGE_KEEP_APP"),
		LogLevel:            os.Getenv("ENGAGE_LOG_LEVEL"),
		Debug:               envBool("DEBUG") || envBool("ENGAGE_DEBUG"),
	}

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}

	set := func(key string, apply func()) {
		if meta.IsDefined(key) {
			apply()
		}
	}
	set("server_url", func() { c.ServerURL = strings.TrimSpace(raw.ServerURL) })
	set("token_secret", func() { c.TokenSecret = raw.TokenSecret })
	set("campaign_id", func() { c.CampaignID = strings.TrimSpace(raw.CampaignID) })
	set("campaign_version", func() { c.CampaignVersion = raw.CampaignVersion })
	set("entry_point_id", func() { c.EntryPointID = strings.TrimSpace(raw.EntryPointID) })
	set("engagement_id", func() { c.EngagementID = strings.TrimSpace(raw.EngagementID) })
	set("requested_media", func() { c.RequestedMedia = strings.TrimSpace(raw.RequestedMedia) })
	set("language", func() { c.Language = strings.TrimSpace(raw.Language) })
	set("persistence_id", func() { c.PersistenceID = strings.TrimSpace(raw.PersistenceID) })
	set("ask_close_confirm", func() { c.AskCloseConfirm = raw.AskCloseConfirm })
	set("stay_in_app_after_close", func() { c.StayInAppAfterClose = raw.StayInAppAfterClose })
	set("show_welcome_message", func() { c.ShowWelcomeMessage = raw.ShowWelcomeMessage })
	set("has_survey", func() { c.HasSurvey = raw.HasSurvey })
	set("can_remove_app", func() { c.CanRemoveApp = raw.CanRemoveApp })
	set("log_level", func() { c.LogLevel = strings.TrimSpace(raw.LogLevel) })
	set("debug", func() { c.Debug = raw.Debug })
	return nil
}

func (c *Config) validate() error {
	if c.CampaignID == "" {
		return fmt.Errorf("missing campaign id (ENGAGE_CAMPAIGN_ID or campaign_id)")
	}
	switch c.RequestedMedia {
	case "chat", "voice", "video":
	default:
		return fmt.Errorf("invalid requested media %q (expected chat, voice, or video)", c.RequestedMedia)
	}
	if c.LogLevel != "" {
		if _, err := logger.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// SessionContext converts the configuration into the immutable snapshot the
// session core consumes.
func (c *Config) SessionContext(page types.PageInfo) types.SessionContext {
	return types.SessionContext{
		CampaignID:      c.CampaignID,
		CampaignVersion: c.CampaignVersion,
		EntryPointID:    c.EntryPointID,
		EngagementID:    c.EngagementID,
		RequestedMedia:  c.RequestedMedia,
		Language:        c.Language,
		PersistenceID:   c.PersistenceID,
		Page:            page,
		Variables: types.Variables{
			AskCloseConfirm:     c.AskCloseConfirm,
			StayInAppAfterClose: c.StayInAppAfterClose,
			ShowWelcomeMessage:  c.ShowWelcomeMessage,
		},
		HasSurvey:    c.HasSurvey,
		CanRemoveApp: c.CanRemoveApp,
	}
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}
