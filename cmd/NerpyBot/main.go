package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nerdycraft/NerpyBot-sub000/internal/api"
	"github.com/nerdycraft/NerpyBot-sub000/internal/bot"
	"github.com/nerdycraft/NerpyBot-sub000/internal/genai"
	"github.com/nerdycraft/NerpyBot-sub000/internal/scheduler"
	"github.com/nerdycraft/NerpyBot-sub000/internal/store"
	"github.com/nerdycraft/NerpyBot-sub000/internal/twiliowhatsapp"
	"github.com/nerdycraft/NerpyBot-sub000/internal/util"
	"github.com/nerdycraft/NerpyBot-sub000/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for NerpyBot state data
	DefaultStateDir = "/var/lib/nerpybot"
	// DefaultWhatsAppDBFileName is the SQLite file holding the WhatsApp device session
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAppDBFileName is the SQLite file holding submissions and templates
	DefaultAppDBFileName = "nerpybot.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	cfg := bot.Config{
		StateDir:        *flags.stateDir,
		Transport:       *flags.transport,
		FormsFile:       *flags.formsFile,
		TwilioPublicURL: *flags.twilioPublicURL,
		WhatsApp:        buildWhatsAppOptions(flags),
		Twilio:          buildTwilioOptions(flags),
		Store:           buildStoreOptions(flags),
		GenAI:           buildGenAIOptions(flags),
		Bot:             buildBotOptions(flags),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping NerpyBot with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(cfg.WhatsApp), "twilio", len(cfg.Twilio), "store", len(cfg.Store), "genai", len(cfg.GenAI), "bot", len(cfg.Bot))
	if err := bot.Run(ctx, cfg); err != nil {
		slog.Error("NerpyBot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("NerpyBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	WhatsAppDBDSN    string
	ApplicationDBDSN string
	Transport        string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioPublicURL  string
	OpenAIKey        string
	OpenAIModel      string
	APIAddr          string
	FormsFile        string
	Scope            string
	Prefix           string
	IdleTimeout      time.Duration
	SweepSchedule    string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput        *string
	numeric         *bool
	stateDir        *string
	whatsappDBDSN   *string
	appDBDSN        *string
	transport       *string
	twilioSID       *string
	twilioToken     *string
	twilioFrom      *string
	twilioPublicURL *string
	openaiKey       *string
	openaiModel     *string
	apiAddr         *string
	formsFile       *string
	scope           *string
	prefix          *string
	idleTimeout     *time.Duration
	sweepSchedule   *string
	noAPI           *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

func defaultAppDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         util.StringEnv("NERPYBOT_STATE_DIR", DefaultStateDir),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		ApplicationDBDSN: os.Getenv("DATABASE_DSN"),
		Transport:        util.StringEnv("NERPYBOT_TRANSPORT", bot.TransportWhatsApp),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM"),
		TwilioPublicURL:  os.Getenv("TWILIO_WEBHOOK_URL"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		APIAddr:          os.Getenv("API_ADDR"),
		FormsFile:        os.Getenv("NERPYBOT_FORMS_FILE"),
		Scope:            os.Getenv("NERPYBOT_SCOPE"),
		Prefix:           os.Getenv("NERPYBOT_PREFIX"),
		IdleTimeout:      util.ParseDurationEnv("NERPYBOT_IDLE_TIMEOUT", scheduler.DefaultIdleTimeout),
		SweepSchedule:    util.StringEnv("NERPYBOT_SWEEP_SCHEDULE", bot.DefaultSweepSchedule),
	}
	if util.ParseBoolEnv("USE_TWILIO", false) {
		config.Transport = bot.TransportTwilio
	}

	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
		if config.ApplicationDBDSN != "" {
			slog.Debug("Using DATABASE_URL as DATABASE_DSN", "dsn_set", true)
		}
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = defaultAppDSN(config.StateDir)
		slog.Debug("No application DSN provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
		slog.Debug("No WhatsApp DSN provided, defaulting to SQLite", "dsn", config.WhatsAppDBDSN)
	}

	slog.Debug("environment variables loaded",
		"NERPYBOT_STATE_DIR", config.StateDir,
		"NERPYBOT_TRANSPORT", config.Transport,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"NERPYBOT_FORMS_FILE", config.FormsFile,
		"NERPYBOT_IDLE_TIMEOUT", config.IdleTimeout)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:        flag.String("qr-output", "", "path to write login QR code"),
		numeric:         flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for NerpyBot data (overrides $NERPYBOT_STATE_DIR)"),
		whatsappDBDSN:   flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "database DSN for the WhatsApp session (overrides $WHATSAPP_DB_DSN)"),
		appDBDSN:        flag.String("db-dsn", config.ApplicationDBDSN, "database DSN for submissions and templates (overrides $DATABASE_DSN or $DATABASE_URL)"),
		transport:       flag.String("transport", config.Transport, "messaging transport: whatsapp or twilio (overrides $NERPYBOT_TRANSPORT)"),
		twilioSID:       flag.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:     flag.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:      flag.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM)"),
		twilioPublicURL: flag.String("twilio-webhook-url", config.TwilioPublicURL, "public webhook URL used to check Twilio signatures (overrides $TWILIO_WEBHOOK_URL)"),
		openaiKey:       flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:     flag.String("openai-model", config.OpenAIModel, "OpenAI model for template drafts (overrides $OPENAI_MODEL)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		formsFile:       flag.String("forms", config.FormsFile, "YAML file with form definitions (overrides $NERPYBOT_FORMS_FILE)"),
		scope:           flag.String("scope", config.Scope, "scope dialogs and templates belong to (overrides $NERPYBOT_SCOPE)"),
		prefix:          flag.String("prefix", config.Prefix, "command prefix (overrides $NERPYBOT_PREFIX)"),
		idleTimeout:     flag.Duration("idle-timeout", config.IdleTimeout, "how long a dialog may wait for input (overrides $NERPYBOT_IDLE_TIMEOUT)"),
		sweepSchedule:   flag.String("sweep-schedule", config.SweepSchedule, "cron schedule of the idle sweep (overrides $NERPYBOT_SWEEP_SCHEDULE)"),
		noAPI:           flag.Bool("no-api", false, "disable the admin API server"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"transport", *flags.transport,
		"whatsappDBDSN_set", *flags.whatsappDBDSN != "",
		"appDBDSN_set", *flags.appDBDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"forms", *flags.formsFile,
		"noAPI", *flags.noAPI)

	applyStateDirOverride(config, flags)
	return flags
}

// applyStateDirOverride moves default database paths into a state directory
// given on the command line.
func applyStateDirOverride(config Config, flags Flags) {
	if *flags.stateDir == config.StateDir {
		return
	}
	if *flags.whatsappDBDSN == defaultWhatsAppDSN(config.StateDir) {
		*flags.whatsappDBDSN = defaultWhatsAppDSN(*flags.stateDir)
		slog.Debug("Updated WhatsApp DSN based on state directory", "new_state_dir", *flags.stateDir)
	}
	if *flags.appDBDSN == defaultAppDSN(config.StateDir) {
		*flags.appDBDSN = defaultAppDSN(*flags.stateDir)
		slog.Debug("Updated application DSN based on state directory", "new_state_dir", *flags.stateDir)
	}
}

// ensureDirectoriesExist creates the directories of file-based databases
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.whatsappDBDSN, *flags.appDBDSN} {
		if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		dir := filepath.Dir(sqlitePath(dsn))
		slog.Debug("Creating directory for file-based database", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// sqlitePath strips the "file:" scheme and query of a SQLite URI.
func sqlitePath(dsn string) string {
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	return path
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.qrOutput != nil && *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if flags.numeric != nil && *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if flags.whatsappDBDSN != nil && *flags.whatsappDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDBDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if flags.twilioSID != nil && *flags.twilioSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(*flags.twilioSID))
	}
	if flags.twilioToken != nil && *flags.twilioToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(*flags.twilioToken))
	}
	if flags.twilioFrom != nil && *flags.twilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(*flags.twilioFrom))
	}
	return opts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if flags.appDBDSN == nil || *flags.appDBDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(*flags.appDBDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return append(storeOpts, store.WithPostgresDSN(*flags.appDBDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.appDBDSN)
	return append(storeOpts, store.WithSQLiteDSN(*flags.appDBDSN))
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if flags.openaiKey != nil && *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if flags.openaiModel != nil && *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildBotOptions constructs bot and API server options
func buildBotOptions(flags Flags) []bot.Option {
	var opts []bot.Option
	if flags.scope != nil && *flags.scope != "" {
		opts = append(opts, bot.WithScope(*flags.scope))
	}
	if flags.prefix != nil && *flags.prefix != "" {
		opts = append(opts, bot.WithPrefix(*flags.prefix))
	}
	if flags.idleTimeout != nil && *flags.idleTimeout > 0 {
		opts = append(opts, bot.WithIdleTimeout(*flags.idleTimeout))
	}
	if flags.sweepSchedule != nil && *flags.sweepSchedule != "" {
		opts = append(opts, bot.WithSweepSchedule(*flags.sweepSchedule))
	}
	if flags.noAPI != nil && *flags.noAPI {
		opts = append(opts, bot.WithoutAPI())
	} else if flags.apiAddr != nil && *flags.apiAddr != "" {
		opts = append(opts, bot.WithAPIOptions(api.WithAddr(*flags.apiAddr)))
	}
	return opts
}
