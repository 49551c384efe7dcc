// Command chatrelay runs the stateless Google Chat ↔ assistant relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/relaybot/chatrelay/internal/assistant"
	"github.com/relaybot/chatrelay/internal/config"
	"github.com/relaybot/chatrelay/internal/gchat"
	"github.com/relaybot/chatrelay/internal/handlers"
	"github.com/relaybot/chatrelay/internal/logger"
	"github.com/relaybot/chatrelay/internal/relay"
	"github.com/relaybot/chatrelay/internal/server"
	"github.com/relaybot/chatrelay/internal/version"
)

// chatBotScope authorizes posting messages as the Chat app.
const chatBotScope = "https://www.googleapis.com/auth/chat.bot"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "chatrelay",
	Short: "Stateless Google Chat to assistant-API relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.toml or $CONFIG_PATH)")
	rootCmd.AddCommand(serveCmd(), versionCmd())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chatrelay %s\n", version.GetInfo())
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe() error {
	app := fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideTokenSource,
			provideVerifier,
			provideReplyClient,
			provideAssistantClient,
			providePipeline,

			provideServerHandler(provideWebhookHandler),
			provideServerHandler(handlers.NewHealthHandler),

			provideServer,
		),
		fx.Invoke(
			startPipeline,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	)
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	return logger.Init(cfg.Log.Level, cfg.Log.Format)
}

// provideTokenSource builds the service-account token source used to post
// replies. Credential acquisition stays outside the relay core: the file is
// platform-issued and only threaded through here.
func provideTokenSource(log *slog.Logger, cfg config.Config) (oauth2.TokenSource, error) {
	if cfg.Chat.CredentialsFile == "" {
		// Useful against local Chat API stands; real deployments need credentials.
		log.Warn("chat.credentials_file not set; replies will be posted unauthenticated")
		return nil, nil
	}
	data, err := os.ReadFile(cfg.Chat.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read chat credentials: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(data, chatBotScope)
	if err != nil {
		return nil, fmt.Errorf("parse chat credentials: %w", err)
	}
	return jwtCfg.TokenSource(context.Background()), nil
}

// provideVerifier returns nil middleware when no project number is
// configured, which disables request-origin verification.
func provideVerifier(log *slog.Logger, cfg config.Config) echo.MiddlewareFunc {
	if cfg.Chat.ProjectNumber == "" {
		log.Warn("chat.project_number not set; webhook verification disabled")
		return nil
	}
	return gchat.NewVerifier(log, cfg.Chat.ProjectNumber).Middleware()
}

func provideReplyClient(log *slog.Logger, cfg config.Config, tokens oauth2.TokenSource) *gchat.ReplyClient {
	return gchat.NewReplyClient(log, cfg.Chat.APIBaseURL, tokens, 0)
}

func provideAssistantClient(log *slog.Logger, cfg config.Config) *assistant.Client {
	return assistant.NewClient(log, cfg.Assistant.BaseURL, cfg.Assistant.APIKey, cfg.Assistant.RunTimeout(), cfg.Relay.RequestsPerSecond)
}

func providePipeline(log *slog.Logger, cfg config.Config, conversations *assistant.Client, replies *gchat.ReplyClient) *relay.Pipeline {
	return relay.New(log, conversations, replies, cfg.Relay.Workers, cfg.Relay.QueueSize)
}

func provideWebhookHandler(log *slog.Logger, pipeline *relay.Pipeline, verify echo.MiddlewareFunc) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, pipeline, verify)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startPipeline(lc fx.Lifecycle, pipeline *relay.Pipeline) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pipeline.Start(context.WithoutCancel(ctx))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pipeline.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting chatrelay %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
