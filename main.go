package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"torrentforge/api"
	"torrentforge/config"
	"torrentforge/creator"
	"torrentforge/task"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize the metafile builder
	builder, err := creator.NewService(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize creator service: %v", err)
	}

	// 3. Initialize the task manager with the builder injected
	taskManager, err := task.NewManager(cfg, builder)
	if err != nil {
		log.Fatalf("Failed to initialize task manager: %v", err)
	}

	// 4. Set up router and server
	router := api.SetupRouter(taskManager, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 5. Start background services and HTTP server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskManager.Start(ctx)

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	stop()
	log.Println("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	// Drop remaining tasks, cancelling any builds still running.
	taskManager.Close()

	log.Println("Server exiting")
}
