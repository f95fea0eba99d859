package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"flag"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"redis/internal/server"
)

func main() {
	port := flag.Int("port", 6379, "port to listen on")
	host := flag.String("host", "0.0.0.0", "host to bind to")
	replicaof := flag.String("replicaof", "", "master host and port to replicate from, e.g. \"127.0.0.1 6379\"")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg := server.DefaultConfig()
	cfg.Host = *host
	cfg.Port = *port

	if *replicaof != "" {
		masterHost, masterPort, err := parseReplicaof(*replicaof)
		if err != nil {
			logger.Fatal("invalid --replicaof", zap.Error(err))
		}
		cfg.Role = "replica"
		cfg.MasterHost = masterHost
		cfg.MasterPort = masterPort
	}

	srv := server.NewServer(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func parseReplicaof(spec string) (string, int, error) {
	fields := strings.Fields(spec)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("expected \"host port\", got %q", spec)
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", fields[1], err)
	}
	return fields[0], port, nil
}
