package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/webchat/backend/internal/config"
	"github.com/zhouzirui/webchat/backend/internal/service/ai"
)

var (
	apiKey  string
	timeout time.Duration
	verbose bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "chattester",
	Short: "Drive an OpenAI-compatible chat endpoint from the terminal",
	Long: `chattester exercises the chat core without a browser: it validates an
endpoint, lists its models and streams a single reply to stdout.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		if !verbose {
			log.SetOutput(io.Discard)
		}

		if err := godotenv.Load(); err != nil {
			log.Printf("[WARN] failed to load .env, using system environment: %v", err)
		}

		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		if timeout > 0 {
			cfg.AI.ProbeTimeout = timeout
		}
		if apiKey == "" {
			apiKey = cfg.Session.APIKey
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key sent as bearer token (default OPENAI_API_KEY)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "probe timeout (default PROBE_TIMEOUT)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print internal logs to stderr")

	rootCmd.AddCommand(probeCmd, modelsCmd, chatCmd)
}

func newClient() *ai.Client {
	return ai.NewClient(cfg.AI)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
