package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"groupchat/internal/api"
	"groupchat/internal/config"
	"groupchat/internal/database"
	"groupchat/internal/server"
	"groupchat/internal/stats"
)

// flags map onto the config environment variables; a flag passed on the
// command line wins over the environment and any .env file.
var flagEnv = map[string]string{
	"addr":            "SERVER_ADDR",
	"dsn":             "DATABASE_DSN",
	"signing-secret":  "SIGNING_SECRET",
	"allowed-origins": "ALLOWED_ORIGINS",
}

func main() {
	flag.String("addr", "", "server address")
	flag.String("dsn", "", "database connection string")
	flag.String("signing-secret", "", "base64 encoded signing secret")
	flag.String("allowed-origins", "", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if name, ok := flagEnv[f.Name]; ok {
			os.Setenv(name, f.Value.String())
		}
	})

	logger := log.New(os.Stderr, "[groupchat] ", log.LstdFlags)

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatal("config: ", err)
	}

	dbConn, err := database.NewPgGroupChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open: ", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close: ", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate: ", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	verifier := api.NewTokenVerifier(cfg.SigningKey)

	chatServer, err := server.NewChatServer(logger, dbConn, statsUpdater, verifier)
	if err != nil {
		logger.Fatal("new chat server: ", err)
	}

	srv := api.NewGroupChatApp(mux, logger, chatServer, dbConn, cfg)

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
