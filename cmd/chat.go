package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"

	"github.com/leadchat/internal/capture"
	"github.com/leadchat/internal/config"
	"github.com/leadchat/internal/leads"
	"github.com/leadchat/internal/logging"
	"github.com/leadchat/internal/relay"
	"github.com/leadchat/internal/retry"
	"github.com/leadchat/internal/scoring"
	"github.com/leadchat/internal/storage"
	"github.com/leadchat/internal/widget"
	"github.com/leadchat/pkg/models"
)

// ChatCommand returns the command that runs the widget in the terminal.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with the assistant from the terminal, as a site visitor would",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "page-url",
				Usage: "URL of the page the visitor is on",
				Value: "https://example.com/",
			},
			&cli.StringFlag{
				Name:  "page-title",
				Usage: "Title of the page the visitor is on",
				Value: "Home",
			},
			&cli.BoolFlag{
				Name:  "memory",
				Usage: "Keep widget state in memory instead of storage.path",
			},
			&cli.BoolFlag{
				Name:  "capture",
				Usage: "Record relay and sink exchanges as JSON files under captures/ or $" + capture.EnvCaptureDir,
			},
		},
		Action: runChat,
	}
}

func runChat(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// Log lines would interleave with the transcript.
	logging.SetupWriter(c.App.ErrWriter, "warn", true)

	if c.Bool("capture") {
		capture.Enable()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var kv storage.KV = storage.NewMemoryStore()
	if !c.Bool("memory") && cfg.Storage.Path != "" {
		sqlite, err := storage.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open widget storage: %w", err)
		}
		defer sqlite.Close()
		kv = sqlite
	}

	chat, err := chatRelay(ctx, cfg)
	if err != nil {
		return err
	}

	presenter := newTerminalPresenter(c.App.Writer)
	ctrl, err := widget.New(widget.Deps{
		Store:     storage.NewAdapter(kv),
		Relay:     chat,
		Sink:      leadSink(cfg),
		Presenter: presenter,
	}, widget.Options{
		Widget: cfg.Widget,
		Page:   widget.Page{URL: c.String("page-url"), Title: c.String("page-title")},
		Device: terminalDevice(),
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	session := &chatSession{ctrl: ctrl, p: presenter}
	session.banner(cfg.General.BrandName)
	ctrl.Open()
	ctrl.Start()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.App.Reader)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if session.handle(ctx, line) {
				return nil
			}
		}
	}
}

// chatRelay calls the relay server when one is configured and the language
// model directly otherwise.
func chatRelay(ctx context.Context, cfg *config.Config) (relay.ChatRelay, error) {
	policy := retry.RelayConfig(cfg.Relay.MaxRetries)
	if cfg.Relay.Endpoint != "" {
		return relay.NewResilient(relay.NewHTTPClient(cfg.Relay.Endpoint, cfg.Relay.Timeout), policy), nil
	}
	llm, err := relay.NewLLMRelayFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat relay: %w", err)
	}
	return relay.NewResilient(llm, policy), nil
}

// leadSink posts captures to the lead sink server when one is configured and
// handles them in-process otherwise.
func leadSink(cfg *config.Config) leads.Sink {
	if cfg.Sink.Endpoint != "" {
		return leads.NewHTTPSink(cfg.Sink.Endpoint, 0)
	}
	return leads.NewService(leads.NewMemoryRepository(), leads.WithNotifiers(leads.NotifiersFromConfig(cfg)...))
}

func terminalDevice() models.Device {
	device := models.Device{
		UserAgent: "leadchat-cli/" + Version,
		Timezone:  time.Local.String(),
	}
	if cols, lines := os.Getenv("COLUMNS"), os.Getenv("LINES"); cols != "" && lines != "" {
		device.ScreenResolution = cols + "x" + lines
	}
	return device
}

type chatStyles struct {
	user      lipgloss.Style
	assistant lipgloss.Style
	system    lipgloss.Style
	notice    lipgloss.Style
	err       lipgloss.Style
}

func newChatStyles(dark bool) chatStyles {
	text, muted := lipgloss.Color("236"), lipgloss.Color("244")
	if dark {
		text, muted = lipgloss.Color("252"), lipgloss.Color("242")
	}
	return chatStyles{
		user:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		assistant: lipgloss.NewStyle().Foreground(text),
		system:    lipgloss.NewStyle().Italic(true).Foreground(muted),
		notice:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		err:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

// terminalPresenter renders widget updates as transcript lines. Timer
// callbacks present concurrently with the input loop, so every write goes
// through mu.
type terminalPresenter struct {
	mu     sync.Mutex
	w      io.Writer
	styles chatStyles
}

func newTerminalPresenter(w io.Writer) *terminalPresenter {
	return &terminalPresenter{w: w, styles: newChatStyles(false)}
}

// line writes text in the style pick selects.
func (p *terminalPresenter) line(pick func(chatStyles) lipgloss.Style, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, pick(p.styles).Render(text))
}

func (p *terminalPresenter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *terminalPresenter) Present(u widget.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u.Kind == widget.UpdatePreferences {
		p.styles = newChatStyles(u.DarkMode)
	}
	s := p.styles
	switch u.Kind {
	case widget.UpdateMessage:
		p.message(u.Message)
	case widget.UpdateRestored:
		fmt.Fprintln(p.w, s.system.Render("-- conversation restored --"))
		for _, m := range u.Messages {
			p.message(m)
		}
	case widget.UpdateCleared:
		fmt.Fprintln(p.w, s.system.Render("-- new conversation --"))
	case widget.UpdateTyping:
		if u.Typing {
			fmt.Fprintln(p.w, s.system.Render("assistant is typing..."))
		}
	case widget.UpdateScore:
		fmt.Fprintln(p.w, s.system.Render(fmt.Sprintf("[score %d: +%d %s]", u.Score, u.Points, u.Reason)))
	case widget.UpdateCapturePrompt:
		fmt.Fprintln(p.w, s.notice.Render("Get personalized help! Share your email with /capture <email> [name], or /skip."))
	case widget.UpdateCaptureSuccess:
		fmt.Fprintln(p.w, s.notice.Render(u.Text))
	case widget.UpdateCaptureError:
		fmt.Fprintln(p.w, s.err.Render(u.Text))
	case widget.UpdatePreferences:
		fmt.Fprintln(p.w, s.system.Render(fmt.Sprintf("[dark mode: %t, sound: %t]", u.DarkMode, u.SoundEnabled)))
	case widget.UpdateSound:
		if u.Sound == widget.SoundNotification || u.Sound == widget.SoundReceived {
			fmt.Fprint(p.w, "\a")
		}
	}
}

func (p *terminalPresenter) message(m models.Message) {
	switch m.Role {
	case models.RoleUser:
		fmt.Fprintln(p.w, p.styles.user.Render("you: ")+m.Content)
	case models.RoleAssistant:
		fmt.Fprintln(p.w, p.styles.assistant.Render("assistant: "+m.Content))
	}
}

// chatSession dispatches terminal input to the controller.
type chatSession struct {
	ctrl *widget.Controller
	p    *terminalPresenter
}

func styleSystem(s chatStyles) lipgloss.Style { return s.system }
func styleNotice(s chatStyles) lipgloss.Style { return s.notice }
func styleError(s chatStyles) lipgloss.Style  { return s.err }

const chatHelp = `Commands:
  /new                      start a new conversation
  /history                  list recent conversations
  /load <n|id>              reopen a conversation
  /delete <n|id>            delete a conversation
  /scroll <pixels>          report page scroll depth
  /capture <email> [name]   share contact details
  /skip                     dismiss the contact prompt
  /dark, /sound             toggle preferences
  /lead                     show the scored lead
  /quit                     save and exit
Anything else is sent to the assistant.`

func (s *chatSession) banner(brand string) {
	s.p.line(styleNotice, "Chat with "+brand)
	s.p.line(styleSystem, "Type /help for commands.")
}

func (s *chatSession) fail(err error) {
	s.p.line(styleError, "error: "+err.Error())
}

// handle processes one input line and reports whether the session is over.
func (s *chatSession) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.ctrl.Typing()
		if err := s.ctrl.SendMessage(ctx, line); err != nil && !errors.Is(err, relay.ErrRelayFailed) {
			s.fail(err)
		}
		return false
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		s.p.printf("%s\n", chatHelp)
	case "/new":
		s.ctrl.StartNewConversation()
	case "/history":
		s.history()
	case "/load", "/delete":
		if len(args) != 1 {
			s.fail(fmt.Errorf("usage: %s <n|id>", cmd))
			return false
		}
		id := s.resolveConversation(args[0])
		var err error
		if cmd == "/load" {
			err = s.ctrl.LoadConversation(id)
		} else {
			err = s.ctrl.DeleteConversation(id)
		}
		if err != nil {
			s.fail(err)
		}
	case "/scroll":
		depth, err := strconv.Atoi(strings.Join(args, ""))
		if err != nil {
			s.fail(errors.New("usage: /scroll <pixels>"))
			return false
		}
		s.ctrl.Scrolled(depth)
	case "/capture":
		if len(args) == 0 {
			s.fail(errors.New("usage: /capture <email> [name]"))
			return false
		}
		contact := scoring.Contact{Email: args[0], Name: strings.Join(args[1:], " ")}
		// The controller already reported the failure inline.
		_ = s.ctrl.SubmitCapture(ctx, contact)
	case "/skip":
		s.ctrl.SkipCapture()
	case "/dark":
		s.ctrl.ToggleDarkMode()
	case "/sound":
		s.ctrl.ToggleSound()
	case "/lead":
		s.lead()
	default:
		s.fail(fmt.Errorf("unknown command %s, try /help", cmd))
	}
	return false
}

func (s *chatSession) history() {
	recent := s.ctrl.Recent()
	if len(recent) == 0 {
		s.p.line(styleSystem, "No saved conversations.")
		return
	}
	for i, conv := range recent {
		marker := " "
		if conv.Active {
			marker = "*"
		}
		s.p.printf("%s %d. %s (%d messages, %s) %s\n",
			marker, i+1, conv.Title, conv.Messages, conv.LastUpdated.Format("Jan 2 15:04"), conv.ID)
	}
}

// resolveConversation accepts a 1-based index into the recent list or an id.
func (s *chatSession) resolveConversation(arg string) string {
	if n, err := strconv.Atoi(arg); err == nil {
		recent := s.ctrl.Recent()
		if n >= 1 && n <= len(recent) {
			return recent[n-1].ID
		}
	}
	return arg
}

func (s *chatSession) lead() {
	lead := s.ctrl.Lead()
	s.p.printf("id:        %s\nstatus:    %s\nscore:     %d\ninterests: %s\nmessages:  %d\nreturning: %t\n",
		lead.ID, lead.Status, lead.Score, strings.Join(lead.Interests, ", "), lead.ConversationMessages, s.ctrl.Returning())
	if lead.Email != "" {
		s.p.printf("contact:   %s %s\n", lead.Email, lead.Name)
	}
}
