package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/lumachat/engage/internal/channel"
	"github.com/lumachat/engage/internal/closeflow"
	"github.com/lumachat/engage/internal/config"
	"github.com/lumachat/engage/internal/datacollection"
	"github.com/lumachat/engage/internal/hostbridge"
	"github.com/lumachat/engage/internal/messages"
	"github.com/lumachat/engage/internal/persistence"
	"github.com/lumachat/engage/internal/session"
	"github.com/lumachat/engage/internal/ui"
	"github.com/lumachat/engage/pkg/logger"
	"github.com/lumachat/engage/pkg/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a TOML config file")
		nick       = flag.String("nick", "", "visitor nickname")
		pageURI    = flag.String("page", "http://localhost/demo", "page URI to report")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.LogLevel != "" {
		lvl, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(lvl)
	}

	if cfg.Debug {
		logger.Debugf("config: server=%s campaign=%s media=%s", cfg.ServerURL, cfg.CampaignID, cfg.RequestedMedia)
	}

	page := types.PageInfo{
		VisitorID:  uuid.NewString(),
		SessionID:  uuid.NewString(),
		FirstURI:   *pageURI,
		FirstTitle: "engage demo",
	}

	store := messages.NewMemoryStore()
	tracker := ui.NewTracker()
	tracker.OnChange(renderStatus())

	deps := session.Deps{
		Factory:   channel.NewSocketFactory(cfg.ServerURL, []byte(cfg.TokenSecret), cfg.Debug),
		Collector: nickCollector{nick: *nick},
		Store:     &printingStore{MemoryStore: store},
		Projector: tracker,
		Bridge:    hostbridge.LogBridge{},
	}
	if cfg.PersistenceID != "" {
		deps.Persist = persistence.NewStore(filepath.Join(cfg.EngageHome, "contacts"))
	}

	ctrl := session.NewController(cfg.SessionContext(page), deps)
	defer ctrl.Shutdown()

	fmt.Println("Connecting...")
	if err := ctrl.Initialize(); err != nil {
		return fmt.Errorf("failed to start contact: %w", err)
	}
	fmt.Println("Connected. Type a message, or /help for commands.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println()
		ctrl.RequestClose()
		os.Exit(0)
	}()

	return inputLoop(ctrl, tracker)
}

func inputLoop(ctrl *session.Controller, tracker *ui.Tracker) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := ctrl.SendText(line); err != nil {
				fmt.Printf("! send failed: %v\n", err)
			}
			continue
		}

		cmd, arg, _ := strings.Cut(line[1:], " ")
		switch cmd {
		case "help":
			printHelp()
		case "quit", "close":
			action, err := ctrl.RequestClose()
			if err != nil {
				fmt.Printf("! close failed: %v\n", err)
				continue
			}
			switch action {
			case closeflow.ShowCloseModal:
				fmt.Println("End the conversation? /close to confirm, /stay to keep chatting.")
			case closeflow.ShowSurvey, closeflow.CloseAndSurvey:
				fmt.Println("Please rate the conversation: /survey <1-5>. Then /close to leave.")
			case closeflow.RemoveApp, closeflow.CloseAndRemove:
				fmt.Println("Bye.")
				return nil
			case closeflow.CloseAndStay:
				fmt.Println("Conversation closed. /quit to leave.")
			}
		case "stay":
			ctrl.DismissCloseModal()
			fmt.Println("Staying in the conversation.")
		case "survey":
			if err := ctrl.SubmitSurvey(map[string]any{"rating": arg}); err != nil {
				fmt.Printf("! survey failed: %v\n", err)
				continue
			}
			fmt.Println("Thanks for the feedback. /close to leave.")
		case "voice":
			report(ctrl.AskForVoiceUpgrade())
		case "video":
			report(ctrl.AskForVideoUpgrade())
		case "showvideo":
			report(ctrl.ToggleVideo(true))
		case "hidevideo":
			report(ctrl.ToggleVideo(false))
		case "hangup":
			report(ctrl.HangUp())
		case "mute":
			report(ctrl.MuteToggle(true))
		case "unmute":
			report(ctrl.MuteToggle(false))
		case "accept":
			report(ctrl.AcceptOffer())
		case "reject":
			report(ctrl.RejectOffer())
		case "attach":
			sendAttachment(ctrl, arg)
		case "transcript":
			for _, msg := range ctrl.Messages() {
				printMessage(msg)
			}
		case "status":
			printState(tracker.Snapshot())
		default:
			fmt.Printf("Unknown command /%s; try /help.\n", cmd)
		}
	}
	return scanner.Err()
}

func sendAttachment(ctrl *session.Controller, path string) {
	if path == "" {
		fmt.Println("Usage: /attach <file>")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("! read failed: %v\n", err)
		return
	}
	report(ctrl.SendAttachment(types.Upload{
		Name: filepath.Base(path),
		Data: data,
	}))
}

func report(err error) {
	if err != nil {
		fmt.Printf("! %v\n", err)
	}
}

func printHelp() {
	fmt.Print(`Commands:
  /voice /video       ask to upgrade the conversation
  /showvideo /hidevideo  toggle the local video stream
  /hangup             end voice/video, keep chatting
  /mute /unmute       toggle the local microphone
  /accept /reject     answer an incoming call offer
  /attach <file>      send a file
  /transcript         reprint the conversation
  /status             show the current session state
  /close /quit        leave the conversation
`)
}

// renderStatus prints one-shot notifications derived from UI transitions.
// The tracker may invoke it from several runtime goroutines.
func renderStatus() func(ui.State) {
	var mu sync.Mutex
	var prev ui.State
	return func(s ui.State) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case s.IsWriting && !prev.IsWriting:
			fmt.Println("... agent is typing")
		case s.IncomingMedia != "" && s.IncomingMedia != prev.IncomingMedia:
			fmt.Printf("Incoming %s call: /accept or /reject\n", s.IncomingMedia)
		case s.OfferRejected && !prev.OfferRejected:
			fmt.Println("The call offer was declined.")
		case s.VoiceAccepted && !prev.VoiceAccepted:
			fmt.Println("Call connected.")
		case s.ClosedByAgent && !prev.ClosedByAgent:
			fmt.Println("The agent ended the conversation. /close to leave.")
		}
		prev = s
	}
}

func printState(s ui.State) {
	agent := "none"
	if s.Agent != nil {
		agent = s.Agent.Nick
	}
	fmt.Printf("agent=%s media=%v muted=%v offering=%q incoming=%q\n",
		agent, s.Media, s.Muted, s.Offering, s.IncomingMedia)
}

func printMessage(msg messages.Message) {
	from := "you"
	if msg.IsAgent {
		from = msg.FromNick
		if from == "" {
			from = "agent"
		}
	}
	switch msg.Kind {
	case messages.KindSystem:
		fmt.Printf("  * %s\n", msg.Body)
	default:
		body := msg.Body
		if msg.Meta != nil {
			body = fmt.Sprintf("[file] %s", msg.Meta.ResolvedURL())
		}
		fmt.Printf("  %s: %s\n", from, body)
	}
}

// printingStore renders every appended message as it lands in the transcript.
type printingStore struct {
	*messages.MemoryStore
}

func (s *printingStore) Append(msg messages.Message) string {
	id := s.MemoryStore.Append(msg)
	printMessage(msg)
	return id
}

// nickCollector satisfies the pre-contact data collection step with a fixed
// nickname instead of rendered forms.
type nickCollector struct {
	nick string
}

func (c nickCollector) Collect(ctx context.Context, sc types.SessionContext) (datacollection.Result, error) {
	return datacollection.Result{Nick: c.nick}, nil
}
