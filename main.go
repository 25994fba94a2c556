package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sealor/storyteller/pkg/catalog"
	"github.com/sealor/storyteller/pkg/completion"
	"github.com/sealor/storyteller/pkg/config"
	"github.com/sealor/storyteller/pkg/story"
)

var (
	// Global flags
	configPath string
	verbose    bool
	activeLog  bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "storyteller",
	Short: "Generate and revise short stories with an LLM",
	Long: `storyteller writes short stories through an OpenAI compatible chat
completion API such as OpenRouter.

Run without a subcommand to generate a story, see "storyteller generate --help".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc = zap.NewDevelopmentConfig()
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runGenerate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file (or set STORYTELLER_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&activeLog, "log", false, "Log HTTP requests and responses of the completion API")

	addGenerateFlags(rootCmd.Flags())
	addGenerateFlags(generateCmd.Flags())
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address of the browse UI (default from config)")

	rootCmd.AddCommand(generateCmd, serveCmd, catalogCmd, infoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalln("ERROR:", err)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

func dialer(cfg config.Config) story.Dialer {
	return completion.Dialer(completion.Options{
		BaseURL:  cfg.APIURL,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.Timeout,
		DebugLog: activeLog,
		Logger:   logger.Named("completion"),
	})
}

// openCatalog fails when one of the catalog files is missing.
func openCatalog(cfg config.Config) (*catalog.Catalog, error) {
	for _, name := range []string{catalog.StoriesFile, catalog.PromptsFile} {
		path := filepath.Join(cfg.DataDir, name)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("data file %s: %w", path, err)
		}
	}
	return catalog.New(os.DirFS(cfg.DataDir), catalog.WithLogger(logger.Named("catalog"))), nil
}
