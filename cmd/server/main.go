package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"storechat/internal/api"
	"storechat/internal/integrations/anthropic"
	"storechat/internal/integrations/googleauth"
	"storechat/internal/integrations/paramstore"
	"storechat/internal/repository"
	"storechat/internal/usecase"
)

func main() {
	ctx := context.Background()

	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	// ---- Configuration (read only here) ----
	apiKey := mustEnv("ANTHROPIC_API_KEY")
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	listenAddr := envOr("LISTEN_ADDR", ":8080")
	historyWindow := envInt("HISTORY_WINDOW", 10)
	llmTimeout := time.Duration(envInt("LLM_TIMEOUT_SECONDS", 120)) * time.Second

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg), paramPrefix)
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	storeInfo, err := paramstore.LoadStoreInfo(ctx, ssmClient)
	if err != nil {
		logger.Error("failed to load store context", "err", err)
		os.Exit(1)
	}
	signingKey, err := ssmClient.Get(ctx, "session-signing-key")
	if err != nil {
		logger.Error("failed to load session signing key", "err", err)
		os.Exit(1)
	}

	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		logger.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}

	llmOpts := []anthropic.Option{anthropic.WithTimeout(llmTimeout)}
	if baseURL := os.Getenv("ANTHROPIC_BASE_URL"); baseURL != "" {
		llmOpts = append(llmOpts, anthropic.WithBaseURL(baseURL))
	}
	llm, err := anthropic.NewClient(apiKey, llmOpts...)
	if err != nil {
		logger.Error("failed to create completion client", "err", err)
		os.Exit(1)
	}

	verifier, err := googleauth.NewVerifier([]byte(signingKey))
	if err != nil {
		logger.Error("failed to create auth verifier", "err", err)
		os.Exit(1)
	}

	// ---- Service + HTTP server ----
	chat, err := usecase.NewChatService(store, llm, storeInfo, historyWindow, logger)
	if err != nil {
		logger.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	srv, err := api.NewServer(chat, verifier, logger)
	if err != nil {
		logger.Error("failed to create API server", "err", err)
		os.Exit(1)
	}

	logger.Info("listening", "addr", listenAddr, "store", storeInfo.Name)
	if err := http.ListenAndServe(listenAddr, srv.Router()); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
