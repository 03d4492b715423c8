// Command SalesPipe runs the WhatsApp sales assistant: it receives customer
// messages from WhatsApp or Twilio, answers them through the conversation
// engine and delivers replies and operator alerts from the outbox.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/api"
	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/flow"
	"github.com/BTreeMap/SalesPipe/internal/genai"
	"github.com/BTreeMap/SalesPipe/internal/handoff"
	"github.com/BTreeMap/SalesPipe/internal/links"
	"github.com/BTreeMap/SalesPipe/internal/lockfile"
	"github.com/BTreeMap/SalesPipe/internal/messaging"
	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/recovery"
	"github.com/BTreeMap/SalesPipe/internal/scheduler"
	"github.com/BTreeMap/SalesPipe/internal/store"
	"github.com/BTreeMap/SalesPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/SalesPipe/internal/util"
	"github.com/BTreeMap/SalesPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	DefaultStateDir           = "/var/lib/salespipe"
	DefaultAppDBFileName      = "salespipe.db"
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	DefaultCatalogRefreshCron = "@every 15m"
	DefaultOutboxPoll         = 2 * time.Second
	DefaultJobPoll            = 30 * time.Second
)

// Messaging channels.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelTwilio   = "twilio"
	ChannelNone     = "none"
)

// Config holds environment configuration.
type Config struct {
	StateDir           string
	DatabaseDSN        string
	WhatsAppDBDSN      string
	OpenAIKey          string
	OpenAIModel        string
	GenAIDebug         bool
	APIAddr            string
	Channel            string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFrom         string
	TwilioWebhookURL   string
	RedisURL           string
	LinkBaseURL        string
	CatalogTTL         time.Duration
	CatalogSeedFile    string
	CatalogRefreshCron string
	FlowsDir           string
	StorefrontURL      string
	OperatorPhone      string
	FlowRunTimeout     time.Duration
}

// Flags holds command line flag values.
type Flags struct {
	stateDir      *string
	dbDSN         *string
	waDSN         *string
	qrOutput      *string
	numeric       *bool
	openaiKey     *string
	openaiModel   *string
	apiAddr       *string
	channel       *string
	seedFile      *string
	flowsDir      *string
	refreshCron   *string
	operatorPhone *string
}

func main() {
	initializeLogger()
	config := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("SalesPipe: invalid flags", "error", err)
		os.Exit(2)
	}
	applyFlags(&config, flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, config, flags); err != nil {
		slog.Error("SalesPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SalesPipe exited successfully")
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:           util.EnvOr("SALESPIPE_STATE_DIR", DefaultStateDir),
		DatabaseDSN:        os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        util.EnvOr("OPENAI_MODEL", genai.DefaultModel),
		GenAIDebug:         util.ParseBoolEnv("GENAI_DEBUG", false),
		APIAddr:            util.EnvOr("API_ADDR", api.DefaultAddr),
		Channel:            strings.ToLower(util.EnvOr("MESSAGING_CHANNEL", ChannelWhatsApp)),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:         os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:   os.Getenv("TWILIO_WEBHOOK_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		LinkBaseURL:        os.Getenv("LINK_BASE_URL"),
		CatalogTTL:         util.ParseDurationEnv("CATALOG_TTL", catalog.DefaultTTL),
		CatalogSeedFile:    os.Getenv("CATALOG_SEED_FILE"),
		CatalogRefreshCron: util.EnvOr("CATALOG_REFRESH_CRON", DefaultCatalogRefreshCron),
		FlowsDir:           os.Getenv("FLOWS_DIR"),
		StorefrontURL:      os.Getenv("STOREFRONT_URL"),
		OperatorPhone:      os.Getenv("OPERATOR_PHONE"),
		FlowRunTimeout:     util.ParseDurationEnv("FLOW_RUN_TIMEOUT", flow.DefaultRunTimeout),
	}
	setDefaultDSNs(&config)

	slog.Debug("environment variables loaded",
		"SALESPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"MESSAGING_CHANNEL", config.Channel,
		"REDIS_URL_SET", config.RedisURL != "",
		"API_ADDR", config.APIAddr)
	return config
}

// setDefaultDSNs places SQLite databases in the state directory when no DSN
// was configured.
func setDefaultDSNs(config *Config) {
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for SalesPipe data (overrides $SALESPIPE_STATE_DIR)"),
		dbDSN:         fs.String("db-dsn", "", "application database DSN (overrides $DATABASE_URL)"),
		waDSN:         fs.String("whatsapp-db-dsn", "", "WhatsApp session database DSN (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:      fs.String("qr-output", "", "path to write login QR code"),
		numeric:       fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		openaiKey:     fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:   fs.String("openai-model", config.OpenAIModel, "OpenAI model (overrides $OPENAI_MODEL)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		channel:       fs.String("channel", config.Channel, "messaging channel: whatsapp, twilio or none (overrides $MESSAGING_CHANNEL)"),
		seedFile:      fs.String("catalog-seed", config.CatalogSeedFile, "catalog seed YAML file (overrides $CATALOG_SEED_FILE)"),
		flowsDir:      fs.String("flows-dir", config.FlowsDir, "directory of lead-capture flow definitions (overrides $FLOWS_DIR)"),
		refreshCron:   fs.String("catalog-refresh", config.CatalogRefreshCron, "cron expression for catalog reload (overrides $CATALOG_REFRESH_CRON)"),
		operatorPhone: fs.String("operator-phone", config.OperatorPhone, "WhatsApp number that receives handoff alerts (overrides $OPERATOR_PHONE)"),
	}
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	slog.Debug("flags parsed", "stateDir", *flags.stateDir, "channel", *flags.channel, "apiAddr", *flags.apiAddr)
	return flags, nil
}

// applyFlags folds flag values into config. A changed state directory moves
// the default SQLite files with it.
func applyFlags(config *Config, flags Flags) {
	if *flags.stateDir != config.StateDir {
		defaultApp := filepath.Join(config.StateDir, DefaultAppDBFileName)
		defaultWA := "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
		config.StateDir = *flags.stateDir
		if config.DatabaseDSN == defaultApp {
			config.DatabaseDSN = ""
		}
		if config.WhatsAppDBDSN == defaultWA {
			config.WhatsAppDBDSN = ""
		}
		setDefaultDSNs(config)
	}
	if *flags.dbDSN != "" {
		config.DatabaseDSN = *flags.dbDSN
	}
	if *flags.waDSN != "" {
		config.WhatsAppDBDSN = *flags.waDSN
	}
	config.OpenAIKey = *flags.openaiKey
	config.OpenAIModel = *flags.openaiModel
	config.APIAddr = *flags.apiAddr
	config.Channel = strings.ToLower(*flags.channel)
	config.CatalogSeedFile = *flags.seedFile
	config.FlowsDir = *flags.flowsDir
	config.CatalogRefreshCron = *flags.refreshCron
	config.OperatorPhone = *flags.operatorPhone
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, config Config, flags Flags) error {
	lock, err := lockfile.AcquireLock(config.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := seedCatalog(st, config.CatalogSeedFile); err != nil {
		return err
	}
	validator, err := installDefinitions(st, config.FlowsDir)
	if err != nil {
		return err
	}
	index := catalog.NewIndex(st, catalog.WithTTL(config.CatalogTTL))

	tracker, closeTracker := buildLinkTracker(ctx, config)
	defer closeTracker()

	engineOpts := []flow.Option{
		flow.WithFallbackClassifier(genai.NewKeywordClassifier()),
		flow.WithNotifier(handoff.NewOutboxNotifier(st, config.OperatorPhone)),
		flow.WithLinkTracker(tracker),
		flow.WithStorefrontURL(config.StorefrontURL),
		flow.WithRunTimeout(config.FlowRunTimeout),
	}
	var classifier flow.Classifier
	if client := buildGenAIClient(config); client != nil {
		classifier = genai.NewClassifier(client)
		engineOpts = append(engineOpts, flow.WithRenderer(genai.NewRenderer(client)))
	}
	engine := flow.NewEngine(st, index, classifier, engineOpts...)

	msgService, apiOpts, err := buildMessagingService(ctx, config, flags)
	if err != nil {
		return err
	}
	apiOpts = append(apiOpts, api.WithAddr(config.APIAddr))
	if resolver, ok := tracker.(api.LinkResolver); ok {
		apiOpts = append(apiOpts, api.WithLinkResolver(resolver))
	}

	var wg sync.WaitGroup
	var handler *messaging.ResponseHandler
	var delivery store.OutboxSendFunc = logDelivery
	if msgService != nil {
		if err := msgService.Start(ctx); err != nil {
			return fmt.Errorf("start messaging service: %w", err)
		}
		handler = messaging.NewResponseHandler(msgService, func(ctx context.Context, msg models.InboundMessage) error {
			_, err := engine.HandleInbound(ctx, msg)
			return err
		})
		handler.Start(ctx)
		delivery = messaging.OutboxDelivery(msgService)
	}

	sender := store.NewOutboxSender(st, delivery, DefaultOutboxPoll)
	runner := store.NewJobRunner(st, DefaultJobPoll)
	flow.RegisterJobHandlers(runner, engine)

	rm := recovery.NewRecoveryManager()
	rm.Register("catalog", recovery.CatalogWarmup(index))
	rm.Register("outbox", recovery.Outbox(sender))
	rm.Register("jobs", recovery.Jobs(runner))
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("SalesPipe: startup recovery incomplete", "error", err)
	}
	wg.Add(2)
	go func() { defer wg.Done(); sender.Run(ctx) }()
	go func() { defer wg.Done(); runner.Run(ctx) }()

	sched := scheduler.NewScheduler()
	var loader scheduler.SeedLoader
	if config.CatalogSeedFile != "" {
		path := config.CatalogSeedFile
		loader = func() ([]models.CatalogEntry, error) { return catalog.LoadSeedFile(path) }
	}
	if err := sched.AddJob(scheduler.CatalogRefreshJob, config.CatalogRefreshCron, scheduler.CatalogRefresh(st, loader, index)); err != nil {
		sched.Stop()
		return err
	}

	server := api.NewServer(engine, st, index, validator, apiOpts...)
	server.Start()
	slog.Info("SalesPipe: running", "channel", config.Channel, "addr", config.APIAddr)

	<-ctx.Done()
	slog.Info("SalesPipe: shutting down")
	if err := server.Shutdown(context.Background()); err != nil {
		slog.Warn("SalesPipe: API shutdown", "error", err)
	}
	sched.Stop()
	if msgService != nil {
		if err := msgService.Stop(); err != nil {
			slog.Warn("SalesPipe: messaging stop", "error", err)
		}
		handler.Wait()
	}
	wg.Wait()
	return nil
}

// seedCatalog installs the seed file when one is configured, or the built-in
// seed when the catalog is empty.
func seedCatalog(st store.Store, seedFile string) error {
	if seedFile != "" {
		entries, err := catalog.LoadSeedFile(seedFile)
		if err != nil {
			return fmt.Errorf("load catalog seed %s: %w", seedFile, err)
		}
		return catalog.Install(st, entries)
	}
	existing, err := st.ListCatalogEntries(models.CatalogFilter{})
	if err != nil {
		return fmt.Errorf("list catalog: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	entries, err := catalog.DefaultSeed()
	if err != nil {
		return err
	}
	slog.Info("SalesPipe: installing built-in catalog", "entries", len(entries))
	return catalog.Install(st, entries)
}

// installDefinitions installs the built-in lead-capture scripts and those in
// dir. Invalid definitions are skipped.
func installDefinitions(st store.Store, dir string) (*flow.DefinitionValidator, error) {
	validator, err := flow.NewDefinitionValidator()
	if err != nil {
		return nil, err
	}
	defs, err := flow.DefaultDefinitions()
	if err != nil {
		return nil, err
	}
	if dir != "" {
		extra, err := flow.LoadDefinitions(dir)
		if err != nil {
			return nil, fmt.Errorf("load flow definitions from %s: %w", dir, err)
		}
		defs = append(defs, extra...)
	}
	if err := flow.InstallDefinitions(st, validator, defs); err != nil {
		if !errors.Is(err, flow.ErrInvalidDefinition) {
			return nil, err
		}
		slog.Warn("SalesPipe: some flow definitions were rejected", "error", err)
	}
	return validator, nil
}

func buildGenAIClient(config Config) *genai.Client {
	if config.OpenAIKey == "" {
		slog.Warn("SalesPipe: no OpenAI key, using keyword classifier and templates only")
		return nil
	}
	opts := []genai.Option{genai.WithAPIKey(config.OpenAIKey), genai.WithModel(config.OpenAIModel)}
	if config.GenAIDebug {
		opts = append(opts, genai.WithDebugMode(config.StateDir))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		slog.Error("SalesPipe: genai client unavailable", "error", err)
		return nil
	}
	return client
}

// buildLinkTracker prefers Redis and falls back to an in-process tracker.
func buildLinkTracker(ctx context.Context, config Config) (flow.LinkTracker, func()) {
	opts := []links.Option{links.WithBaseURL(config.LinkBaseURL)}
	if config.RedisURL != "" {
		tracker, err := links.NewRedisTracker(ctx, config.RedisURL, opts...)
		if err == nil {
			return tracker, func() { tracker.Close() }
		}
		slog.Error("SalesPipe: redis unavailable, tracking links in memory", "error", err)
	}
	return links.NewMemoryTracker(opts...), func() {}
}

// buildMessagingService connects the configured channel. The none channel
// returns a nil service.
func buildMessagingService(ctx context.Context, config Config, flags Flags) (messaging.Service, []api.Option, error) {
	switch config.Channel {
	case ChannelWhatsApp:
		opts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDBDSN)}
		if *flags.qrOutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("connect whatsapp: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	case ChannelTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFrom),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("connect twilio: %w", err)
		}
		var svcOpts []messaging.TwilioOption
		if config.TwilioWebhookURL != "" {
			svcOpts = append(svcOpts, messaging.WithSignatureValidation(twiliowhatsapp.NewWebhookValidator(config.TwilioAuthToken), config.TwilioWebhookURL))
		} else {
			slog.Warn("SalesPipe: TWILIO_WEBHOOK_URL not set, webhook signatures are not checked")
		}
		svc := messaging.NewTwilioService(client, svcOpts...)
		return svc, []api.Option{api.WithTwilioWebhook(svc.TwilioWebhookHandler)}, nil
	case ChannelNone:
		slog.Warn("SalesPipe: no messaging channel, replies are only logged")
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown messaging channel %q", config.Channel)
	}
}

// logDelivery stands in for a channel when none is configured.
func logDelivery(_ context.Context, msg store.OutboxMessage) error {
	p, err := store.DecodeOutboxPayload(msg)
	if err != nil {
		return err
	}
	slog.Info("SalesPipe: outbound message (no channel)", "kind", msg.Kind, "to", p.To, "body", p.Body)
	return nil
}
