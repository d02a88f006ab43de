package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-convo/internal/api"
	"github.com/npezzotti/go-convo/internal/chat"
	"github.com/npezzotti/go-convo/internal/config"
	"github.com/npezzotti/go-convo/internal/database"
	"github.com/npezzotti/go-convo/internal/server"
	"github.com/npezzotti/go-convo/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
	typingWindow   time.Duration
	presenceTTL    time.Duration
	runMigrations  bool
)

func main() {
	logger := log.New(os.Stderr, "[go-convo] ", log.LstdFlags)

	if err := config.LoadEnv(".env"); err != nil {
		logger.Fatal("load env:", err)
	}

	flag.StringVar(&addr, "addr", config.Getenv("GOCONVO_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.Getenv("GOCONVO_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), `database connection string, or "memory" for the in-process store`)
	flag.StringVar(&signingKey, "signing-key", config.Getenv("GOCONVO_SIGNING_KEY", defaultSigningKey), "base64 encoded identity token signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&typingWindow, "typing-window", config.GetenvDuration("GOCONVO_TYPING_WINDOW", config.DefaultTypingWindow), "how long a typing signal stays visible")
	flag.DurationVar(&presenceTTL, "presence-ttl", config.GetenvDuration("GOCONVO_PRESENCE_TTL", config.DefaultPresenceTTL), "how long a user stays online without a heartbeat")
	flag.BoolVar(&runMigrations, "migrate", false, "apply database migrations before serving")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := config.Getenv("GOCONVO_ALLOWED_ORIGINS", ""); v != "" {
			allowedOrigins.Set(v)
		}
	}

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, typingWindow, presenceTTL)
	if err != nil {
		logger.Fatal("config:", err)
	}

	db, err := openRepository(logger, cfg)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	svc := chat.NewService(logger, db, chatServer, chat.Config{
		TypingWindow: cfg.TypingWindow,
		PresenceTTL:  cfg.PresenceTTL,
	})

	srv := api.NewGoConvoApp(mux, logger, chatServer, svc, db, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}

func openRepository(logger *log.Logger, cfg *config.Config) (database.Repository, error) {
	if cfg.UseMemoryStore() {
		logger.Println("using in-memory store for development, data will not survive a restart")
		return database.NewMemRepository(), nil
	}

	db, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	if runMigrations {
		logger.Println("applying migrations...")
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}
