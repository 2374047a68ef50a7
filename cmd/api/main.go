package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ai-spouse/webchat/backend/internal/config"
	"github.com/ai-spouse/webchat/backend/internal/handler"
	"github.com/ai-spouse/webchat/backend/internal/logging"
	"github.com/ai-spouse/webchat/backend/internal/model/persona"
	"github.com/ai-spouse/webchat/backend/internal/service/ai"
	"github.com/ai-spouse/webchat/backend/internal/service/chat"
)

var (
	addrFlag      string
	staticDirFlag string
	personaFlag   string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:           "webchat",
	Short:         "AI spouse chat relay",
	Long:          "Serves the chat page and relays conversations to the configured completion provider.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides HOST/PORT)")
	rootCmd.Flags().StringVar(&staticDirFlag, "static-dir", "", "Static asset directory (overrides STATIC_DIR)")
	rootCmd.Flags().StringVar(&personaFlag, "persona", "", "Persona file (overrides PERSONA_PATH)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg)

	logger, err := logging.New(cfg.Log, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Debug("no .env file loaded, using process environment", zap.Error(envErr))
	}

	p := persona.Load(cfg.Server.PersonaPath)
	logger.Info("persona loaded", zap.String("source", p.Source), zap.Int("chars", len([]rune(p.Text))))

	store := chat.NewStore(p.Text, chat.WithMaxSessions(cfg.Chat.MaxSessions))
	gateway := newGateway(ctx, cfg.AI, logger)

	chatSvc := chat.NewService(store, gateway, chat.Config{
		HistoryLimit: cfg.Chat.HistoryLimit,
		Model:        cfg.AI.ModelName(),
		MaxTokens:    cfg.Chat.MaxTokens,
		Temperature:  cfg.Chat.Temperature,
	}, logger)

	router := handler.NewRouter(chatSvc, logger, cfg.Server.StaticDir)
	return serve(ctx, cfg.Server, router, logger)
}

func applyFlags(cfg *config.Config) {
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}
	if staticDirFlag != "" {
		cfg.Server.StaticDir = staticDirFlag
	}
	if personaFlag != "" {
		cfg.Server.PersonaPath = personaFlag
	}
}

// newGateway 初始化模型网关，凭证缺失或初始化失败时返回不可用网关。
func newGateway(ctx context.Context, aiCfg config.AIConfig, logger *zap.Logger) chat.Completer {
	if !aiCfg.Enabled() {
		logger.Warn("AI provider credentials not configured, chat requests will fail",
			zap.String("provider", aiCfg.Provider))
		return ai.Unavailable{Provider: aiCfg.Provider}
	}

	chatModel, err := aiCfg.NewChatModel(ctx)
	if err != nil {
		logger.Error("failed to initialize chat model", zap.String("provider", aiCfg.Provider), zap.Error(err))
		return ai.Unavailable{Provider: aiCfg.Provider}
	}

	svc, err := ai.NewService(ctx, aiCfg.Provider, chatModel, aiCfg.Timeout, logger)
	if err != nil {
		logger.Error("failed to initialize AI service", zap.Error(err))
		return ai.Unavailable{Provider: aiCfg.Provider}
	}

	logger.Info("AI service initialized",
		zap.String("provider", aiCfg.Provider),
		zap.String("model", aiCfg.ModelName()),
		zap.Duration("timeout", aiCfg.Timeout))
	return svc
}

func serve(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", serverCfg.Addr),
			zap.String("static_dir", serverCfg.StaticDir))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
