package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"omar.ai/academic-chat/internal/config"
	"omar.ai/academic-chat/internal/core"
	"omar.ai/academic-chat/internal/store"
)

var (
	verbose bool
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "omar",
	Short: "Academic study assistant backed by Gemini",
	Long: `omar keeps a local history of study sessions and answers questions
through the Gemini API.

  omar serve              # run the local HTTP bridge for the web UI
  omar chat               # chat in the terminal
  omar sessions list      # list saved sessions
  omar sessions export    # dump saved sessions as JSON or YAML

Configuration is read from the environment and an optional .env file.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadConfig()
		setupLogging(config.AppConfig.LogLevel, verbose)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func setupLogging(level string, verbose bool) {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		log.Warn("Unknown log level, using info", "level", level)
		lvl = log.InfoLevel
	}
	if verbose {
		lvl = log.DebugLevel
	}
	log.SetLevel(lvl)
	log.SetReportCaller(lvl == log.DebugLevel)
}

// openKV builds the configured storage slot. The returned func releases it.
func openKV() (store.KVStore, func() error, error) {
	quota := config.AppConfig.StorageQuotaBytes
	switch config.AppConfig.StorageBackend {
	case "memory":
		return store.NewMemoryKV(quota), func() error { return nil }, nil
	case "sqlite", "":
		kv, err := store.NewSQLiteKV(config.AppConfig.DatabaseURL, quota)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", config.AppConfig.StorageBackend)
	}
}

// openSessions loads the session store on top of the configured slot.
func openSessions() (*core.SessionService, func(), error) {
	kv, closeKV, err := openKV()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	strs := core.StringsFor(config.AppConfig.Locale)
	svc := core.NewSessionService(store.NewCodec(kv, config.AppConfig.StorageKey), strs)
	closeAll := func() {
		svc.Close()
		if err := closeKV(); err != nil {
			log.Warn("Failed to close storage", "err", err)
		}
	}
	return svc, closeAll, nil
}

// loadSessions reads the persisted collection without healing or saving it.
func loadSessions(ctx context.Context) ([]store.ChatSession, error) {
	kv, closeKV, err := openKV()
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := closeKV(); err != nil {
			log.Warn("Failed to close storage", "err", err)
		}
	}()
	return store.NewCodec(kv, config.AppConfig.StorageKey).Load(ctx), nil
}

func newGateway(ctx context.Context) (*core.LLMService, error) {
	if err := config.RequireGeminiKey(); err != nil {
		return nil, err
	}
	return core.NewLLMService(ctx, core.LLMConfig{
		APIKey:          config.AppConfig.GeminiAPIKey,
		ChatModel:       config.AppConfig.ChatModel,
		SpeechModel:     config.AppConfig.SpeechModel,
		TranscribeModel: config.AppConfig.TranscribeModel,
		Voice:           config.AppConfig.SpeechVoice,
		ThinkingBudget:  config.AppConfig.ThinkingBudget,
	})
}
