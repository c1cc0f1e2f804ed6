package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsbedrock "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gin-gonic/gin"

	"github.com/baonguyen3197/Cloud-Kinetics/handler"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/domain"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/integrations/bedrock"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/integrations/openai"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/integrations/paramstore"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/integrations/s3store"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/knowledge"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/repository"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/session"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	sessionsTable := mustEnv("SESSIONS_TABLE")
	bucketName := mustEnv("S3_BUCKET_NAME")
	objectPrefix := envStr("S3_OBJECT_PREFIX", "")
	provider := envStr("INFERENCE_PROVIDER", "bedrock")
	paramPrefix := envStr("PARAM_PREFIX", "")
	listenAddr := envStr("LISTEN_ADDR", ":8080")
	askTimeout := time.Duration(envInt("ASK_TIMEOUT_SECONDS", 90)) * time.Second
	maxTokens := envInt("MAX_ANSWER_TOKENS", 2000)
	dynamoEndpoint := envStr("DYNAMODB_ENDPOINT", "") // local development only

	// ---- AWS SDK config ----
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	var dynamoClient *awsdynamodb.Client
	if dynamoEndpoint != "" {
		localCfg := cfg
		localCfg.Credentials = credentials.StaticCredentialsProvider{
			Value: aws.Credentials{AccessKeyID: "local", SecretAccessKey: "local"},
		}
		dynamoClient = awsdynamodb.NewFromConfig(localCfg, func(o *awsdynamodb.Options) {
			o.BaseEndpoint = aws.String(dynamoEndpoint)
		})
	} else {
		dynamoClient = awsdynamodb.NewFromConfig(cfg)
	}

	store, err := repository.New(dynamoClient, sessionsTable)
	if err != nil {
		slog.Error("failed to create session store", "err", err)
		os.Exit(1)
	}

	blobClient, err := s3store.New(awss3.NewFromConfig(cfg), bucketName)
	if err != nil {
		slog.Error("failed to create S3 client", "err", err)
		os.Exit(1)
	}

	aggregator, err := knowledge.New(blobClient, objectPrefix, logger)
	if err != nil {
		slog.Error("failed to create knowledge base aggregator", "err", err)
		os.Exit(1)
	}

	llm, err := buildInferenceGateway(ctx, cfg, provider, paramPrefix)
	if err != nil {
		slog.Error("failed to create inference gateway", "provider", provider, "err", err)
		os.Exit(1)
	}

	orchestrator, err := usecase.NewOrchestrator(aggregator, llm,
		usecase.WithInferenceParams(domain.InferenceParams{MaxTokens: maxTokens, Temperature: 0.7}),
		usecase.WithTimeout(askTimeout),
		usecase.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create orchestrator", "err", err)
		os.Exit(1)
	}

	registry, err := session.NewRegistry(store,
		session.WithLogger(logger),
		session.WithObserver(session.LogObserver{Logger: logger}),
	)
	if err != nil {
		slog.Error("failed to create session registry", "err", err)
		os.Exit(1)
	}

	// ---- HTTP server ----
	h, err := handler.NewHandler(registry, orchestrator, blobClient, store, objectPrefix, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	h.Register(router)

	slog.Info("listening", "addr", listenAddr, "provider", provider)
	if err := router.Run(listenAddr); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// buildInferenceGateway selects the completion backend. Bedrock is the
// default; an OpenAI-compatible endpoint is available for deployments in
// regions without Bedrock access and resolves its token through SSM.
func buildInferenceGateway(ctx context.Context, cfg aws.Config, provider, paramPrefix string) (usecase.InferenceGateway, error) {
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		return nil, err
	}

	switch provider {
	case "openai":
		model := envStr("OPENAI_MODEL", "gpt-4o-mini")
		if paramPrefix != "" {
			model, err = ssmClient.GetParameterOrDefault(ctx, paramPrefix+"/config/model_id", model)
			if err != nil {
				return nil, err
			}
		}
		return openai.NewClient(ssmClient, paramPrefix, openai.WithModel(model))
	default:
		modelID := envStr("BEDROCK_MODEL_ID", bedrock.DefaultModelID)
		if paramPrefix != "" {
			modelID, err = ssmClient.GetParameterOrDefault(ctx, paramPrefix+"/config/model_id", modelID)
			if err != nil {
				return nil, err
			}
		}
		return bedrock.NewClient(awsbedrock.NewFromConfig(cfg), bedrock.WithModelID(modelID))
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

func envStr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
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
