package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/keystonerealty/keystone-backend/pkg/auth"
	"github.com/keystonerealty/keystone-backend/pkg/auth/session"
	"github.com/keystonerealty/keystone-backend/pkg/config"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
	"github.com/keystonerealty/keystone-backend/pkg/redis"
)

// devtoken stands in for the hosted auth provider during local work: it mints
// an access token and registers its session so the api accepts it.
func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "devtoken"})

	_ = godotenv.Load()

	user := flag.String("user", "", "user id (default: random)")
	verified := flag.Bool("verified", false, "mark the user as verified")
	flag.Parse()

	userID := uuid.New()
	if *user != "" {
		parsed, err := uuid.Parse(*user)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -user: %v\n", err)
			os.Exit(1)
		}
		userID = parsed
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	if cfg.App.IsProd() {
		fmt.Fprintln(os.Stderr, "devtoken is disabled in production")
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer redisClient.Close()

	sessions, err := session.NewManager(redisClient, cfg.JWT)
	requireResource(ctx, logg, "session manager", err)

	sessionID := session.NewSessionID()
	if err := sessions.Register(ctx, sessionID, userID); err != nil {
		requireResource(ctx, logg, "session register", err)
	}

	token, err := auth.MintAccessToken(cfg.JWT, time.Now().UTC(), auth.AccessTokenPayload{
		UserID:    userID,
		SessionID: sessionID,
		Verified:  *verified,
	})
	requireResource(ctx, logg, "token", err)

	fmt.Fprintf(os.Stderr, "user=%s session=%s verified=%t\n", userID, sessionID, *verified)
	fmt.Println(token)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
