package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"log"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/keyward/keyward/adapters/events"
	"github.com/keyward/keyward/adapters/registry"
	"github.com/keyward/keyward/adapters/store"
	"github.com/keyward/keyward/adapters/tokenizer"
	"github.com/keyward/keyward/adapters/verifier"
	"github.com/keyward/keyward/config"
	"github.com/keyward/keyward/ports"
	"github.com/keyward/keyward/service"
	"github.com/keyward/keyward/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Generate a new ECDSA key pair (you would normally load this from somewhere secure)
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.Fatalf("Failed to generate session signing key: %v", err)
	}

	reg, err := registry.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open registry database: %v", err)
	}
	defer reg.Close()

	webAuthn, err := verifier.New(verifier.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		log.Fatalf("Failed to configure credential verifier: %v", err)
	}

	challengeStore, publisher := buildBackends(cfg)

	ceremonies := service.NewCeremonyService(
		challengeStore,
		reg,
		webAuthn,
		tokenizer.NewJWTTokenizer(privateKey, cfg.SessionTTL),
		events.NewWatermillPublisher(publisher),
		logger,
	)

	router := http.SetupRouter(ceremonies)

	logger.Info("listening", "addr", cfg.ListenAddr)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// buildBackends picks the challenge store and event transport. With Redis
// configured both are shared across instances; without it the single-process
// equivalents are used.
func buildBackends(cfg config.Config) (ports.ChallengeStore, message.Publisher) {
	wmLogger := watermill.NewStdLogger(false, false)

	if cfg.RedisURL == "" {
		return store.NewMemoryStore(), gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		wmLogger,
	)
	if err != nil {
		log.Fatalf("Failed to create Redis publisher: %v", err)
	}

	return store.NewRedisStore(redisClient), publisher
}
