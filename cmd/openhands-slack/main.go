// ABOUTME: Entry point for the openhands-slack bridge
// ABOUTME: Connects Slack threads to OpenHands conversations

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/yourself-q/slack-openhands-bot/internal/config"
	"github.com/yourself-q/slack-openhands-bot/internal/conversation"
	"github.com/yourself-q/slack-openhands-bot/internal/openhands"
	"github.com/yourself-q/slack-openhands-bot/internal/slackbridge"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                        _                     _
  ___  _ __   ___ _ __ | |__   __ _ _ __   __| |___        ___| | __ _  ___| | __
 / _ \| '_ \ / _ \ '_ \| '_ \ / _' | '_ \ / _' / __|_____ / __| |/ _' |/ __| |/ /
| (_) | |_) |  __/ | | | | | | (_| | | | | (_| \__ \_____|\__ \ | (_| | (__|   <
 \___/| .__/ \___|_| |_|_| |_|\__,_|_| |_|\__,_|___/      |___/_|\__,_|\___|_|\_\
      |_|
`

// getConfigPath returns the path to the bridge config file.
// Priority: OPENHANDS_SLACK_CONFIG env var > XDG_CONFIG_HOME/openhands-slack/config.yaml > ~/.config/openhands-slack/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("OPENHANDS_SLACK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "openhands-slack", "config.yaml")
}

func main() {
	// Tokens commonly live in a .env next to the binary during development
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: openhands-slack <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Start the Slack bridge")
		fmt.Println("  init       Create a new config file interactively")
		fmt.Println("  health     Check OpenHands backend health")
		fmt.Println("  sessions   List conversations on the backend")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "sessions":
		err = runSessions(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s\n", cfg.OpenHands.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.OpenHands.Model)
	green.Print("    ▶ ")
	if len(cfg.Slack.AllowedChannels) == 0 {
		fmt.Println("Channels:  all")
	} else {
		fmt.Printf("Channels:  %d allowed\n", len(cfg.Slack.AllowedChannels))
	}
	fmt.Println()

	logger.Info("starting openhands-slack",
		"config", configPath,
		"backend", cfg.OpenHands.BaseURL,
	)

	client := openhands.NewClient(cfg.OpenHands.BaseURL)

	if !client.Health(ctx) {
		logger.Warn("backend not reachable at startup, messages will be rejected until it comes up",
			"backend", cfg.OpenHands.BaseURL,
		)
	}

	convReq := openhands.ConversationRequest{
		Model:       cfg.OpenHands.Model,
		BaseURL:     cfg.OpenHands.ModelBaseURL,
		APIKey:      cfg.OpenHands.APIKey,
		Agent:       cfg.OpenHands.Agent,
		GitHubToken: cfg.OpenHands.GitHubToken,
	}
	timing := conversation.Timing{
		ConnectTimeout: cfg.Bridge.ConnectTimeout,
		ReadyTimeout:   cfg.Bridge.ReadyTimeout,
		SettleDelay:    cfg.Bridge.SettleDelay,
		FallbackDelay:  cfg.Bridge.FallbackDelay,
	}

	svc := conversation.NewService(client, convReq, timing, logger)
	defer svc.DisconnectAll()

	api := slack.New(cfg.Slack.BotToken, slack.OptionAppLevelToken(cfg.Slack.AppToken))
	socket := socketmode.New(api)

	bridge, err := slackbridge.New(api, socket, svc, cfg.Slack.AllowedChannels, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	defer bridge.Close()

	logger.Info("starting bridge")
	return bridge.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{level: level})
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client := openhands.NewClient(cfg.OpenHands.BaseURL)
	if !client.Health(ctx) {
		return fmt.Errorf("backend at %s is not healthy", cfg.OpenHands.BaseURL)
	}

	fmt.Println("healthy")
	return nil
}

func runSessions(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client := openhands.NewClient(cfg.OpenHands.BaseURL)
	conversations, err := client.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	if len(conversations) == 0 {
		fmt.Println("No conversations on the backend.")
		return nil
	}

	for _, c := range conversations {
		line := c.ConversationID
		if c.Title != "" {
			line += "  " + c.Title
		}
		if c.Status != "" {
			line += "  (" + c.Status + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)

	green.Print("    ▶ ")
	fmt.Print("Slack app-level token (xapp-...): ")
	appToken, _ := reader.ReadString('\n')
	appToken = strings.TrimSpace(appToken)

	green.Print("    ▶ ")
	fmt.Print("Slack bot token (xoxb-...): ")
	botToken, _ := reader.ReadString('\n')
	botToken = strings.TrimSpace(botToken)

	green.Print("    ▶ ")
	fmt.Print("OpenHands base URL [http://localhost:3000]: ")
	baseURL, _ := reader.ReadString('\n')
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}

	green.Print("    ▶ ")
	fmt.Print("Model [lm_studio/devstral-small-2505]: ")
	model, _ := reader.ReadString('\n')
	model = strings.TrimSpace(model)
	if model == "" {
		model = "lm_studio/devstral-small-2505"
	}

	green.Print("    ▶ ")
	fmt.Print("GitHub token (optional): ")
	githubToken, _ := reader.ReadString('\n')
	githubToken = strings.TrimSpace(githubToken)

	cfgContent := fmt.Sprintf(`# openhands-slack bridge configuration
# Generated by openhands-slack init

slack:
  app_token: "%s"
  bot_token: "%s"
  # Only respond in these channels (empty = all channels)
  allowed_channels: []

openhands:
  base_url: "%s"
  model: "%s"
`, appToken, botToken, baseURL, model)

	if githubToken != "" {
		cfgContent += fmt.Sprintf("  github_token: \"%s\"\n", githubToken)
	}

	cfgContent += `
bridge:
  connect_timeout: "5s"
  ready_timeout: "2m"
  settle_delay: "5s"
  fallback_delay: "1s"

logging:
  level: "info"
`

	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(cfgContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: openhands-slack serve")
	fmt.Println()

	return nil
}
