package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/mquinn/callboard/internal/config"
	"github.com/mquinn/callboard/internal/orchestrator"
	"github.com/mquinn/callboard/pkg/blackboard"
)

func main() {
	// 1. Load environment variables
	instanceName := os.Getenv("CALLBOARD_INSTANCE_NAME")
	redisURL := os.Getenv("REDIS_URL")

	if instanceName == "" || redisURL == "" {
		fmt.Fprintf(os.Stderr, "Error: CALLBOARD_INSTANCE_NAME and REDIS_URL must be set\n")
		os.Exit(1)
	}

	configPath := os.Getenv("CALLBOARD_CONFIG")
	if configPath == "" {
		configPath = "/etc/callboard/callboard.yml"
	}

	// 2. Parse Redis URL
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	// 3. Create blackboard client
	bbClient, err := blackboard.NewClient(redisOpts, instanceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create blackboard client: %v\n", err)
		os.Exit(1)
	}
	defer bbClient.Close()

	// 4. Verify Redis connectivity
	ctx := context.Background()
	if err := bbClient.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// 5. Load callboard.yml configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", configPath, err)
		os.Exit(1)
	}

	fmt.Printf("Orchestrator starting for instance '%s' with %d workers\n", instanceName, len(cfg.Workers))

	// 6. Create orchestrator engine with config
	engine := orchestrator.NewEngine(bbClient, instanceName, cfg)

	// 7. Setup graceful shutdown
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	// 8. Start orchestrator in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(runCtx)
	}()

	// 9. Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		// Wait for engine to finish
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Orchestrator error: %v\n", runErr)
			os.Exit(1)
		}
	}

	fmt.Println("Orchestrator stopped")
}
