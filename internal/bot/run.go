package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nerdycraft/NerpyBot-sub000/internal/api"
	"github.com/nerdycraft/NerpyBot-sub000/internal/genai"
	"github.com/nerdycraft/NerpyBot-sub000/internal/lockfile"
	"github.com/nerdycraft/NerpyBot-sub000/internal/messaging"
	"github.com/nerdycraft/NerpyBot-sub000/internal/store"
	"github.com/nerdycraft/NerpyBot-sub000/internal/twiliowhatsapp"
	"github.com/nerdycraft/NerpyBot-sub000/internal/whatsapp"
	"github.com/nerdycraft/NerpyBot-sub000/internal/wizard"
)

// Transports understood by Run.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// Config collects the module options Run builds the bot from.
type Config struct {
	StateDir        string
	Transport       string
	FormsFile       string
	TwilioPublicURL string // enables webhook signature checks when set
	WhatsApp        []whatsapp.Option
	Twilio          []twiliowhatsapp.Option
	Store           []store.Option
	GenAI           []genai.Option
	Bot             []Option
}

// Run locks the state directory, builds every module from cfg and serves
// until ctx is done.
func Run(ctx context.Context, cfg Config) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.New(cfg.Store...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Bot store close failed", "error", err)
		}
	}()

	opts := append([]Option(nil), cfg.Bot...)

	if cfg.FormsFile != "" {
		catalog, err := wizard.LoadCatalog(cfg.FormsFile)
		if err != nil {
			return err
		}
		slog.Info("Bot forms loaded", "file", cfg.FormsFile, "forms", len(catalog.Forms()))
		opts = append(opts, WithCatalog(catalog))
	}

	if drafter, err := genai.NewClient(cfg.GenAI...); err != nil {
		slog.Info("Bot template drafting disabled", "reason", err)
	} else {
		opts = append(opts, WithDrafter(drafter))
	}

	var svc messaging.Service
	switch cfg.Transport {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(cfg.Twilio...)
		if err != nil {
			return fmt.Errorf("create twilio client: %w", err)
		}
		twilioSvc := messaging.NewTwilioService(client)
		var validator api.SignatureValidator
		if cfg.TwilioPublicURL != "" {
			validator = client
		} else {
			slog.Warn("Bot Twilio webhook signatures are not checked; set a public webhook URL to enable")
		}
		opts = append(opts, WithAPIOptions(api.WithTwilioWebhook(twilioSvc.TwilioWebhookHandler, validator, cfg.TwilioPublicURL)))
		svc = twilioSvc
	case TransportWhatsApp, "":
		client, err := whatsapp.NewClient(ctx, cfg.WhatsApp...)
		if err != nil {
			return fmt.Errorf("create whatsapp client: %w", err)
		}
		svc = messaging.NewWhatsAppService(client)
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	slog.Info("Bot starting", "transport", cfg.Transport, "state_dir", cfg.StateDir)
	return New(svc, st, opts...).Run(ctx)
}
