package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"cinesuggest/config"
	"cinesuggest/services/assistant"
	"cinesuggest/services/catalog"
	"cinesuggest/services/controller"
	"cinesuggest/services/prefs"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "cinesuggest",
		Short:   "Discover movies and TV shows with AI-assisted search",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}
	root.Flags().String("locale", "", "override locale on first run (e.g. pt-BR)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[main] could not load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg.DataDir)

	firstRun := !hasStoredPrefs(cfg.DataDir)
	store, err := prefs.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("init preference store: %w", err)
	}

	// First-run locale resolution: match the host locale (or the flag
	// override) against the supported set.
	if firstRun {
		preferred, _ := cmd.Flags().GetString("locale")
		if preferred == "" {
			preferred = os.Getenv("LANG")
		}
		locale := prefs.ResolveLocale(preferred)
		if err := store.SetLocale(locale.Code, locale.Region); err != nil {
			log.Printf("[main] could not persist locale: %v", err)
		}
	}

	cat := catalog.NewClient(cfg.TMDBAPIKey, nil, filepath.Join(cfg.DataDir, "cache"), cfg.CacheTTLHours)
	bot := assistant.NewClient(cfg.GeminiAPIKey, nil)
	if !bot.IsConfigured() {
		log.Printf("[main] GEMINI_API_KEY not set: search falls back to direct terms, image search and chat are unavailable")
	}

	ctrl := controller.New(cat, bot, store)
	return runShell(cmd.Context(), ctrl, os.Stdin, os.Stdout)
}

func hasStoredPrefs(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, "prefs.json"))
	return err == nil
}

// setupLogging sends the standard logger to a rotated file and stderr.
func setupLogging(dataDir string) {
	logPath := filepath.Join(dataDir, "logs", "cinesuggest.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		log.Printf("[main] could not create log directory: %v", err)
		return
	}
	fileWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, fileWriter))
	log.SetFlags(log.LstdFlags)
}
