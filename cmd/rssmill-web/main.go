package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	rssmill "github.com/rbarrimond/rssmill"
	"github.com/rbarrimond/rssmill/internal/config"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "config file path")
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rssmill-web: %v\n", err)
		os.Exit(1)
	}

	engine, err := rssmill.NewEngine(rssmill.EngineConfig{Settings: settings})
	if err != nil {
		fmt.Fprintf(os.Stderr, "rssmill-web: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	mux := newRouter(engine)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      logging(recovery(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("rssmill-web: listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("rssmill-web: %v", err)
		}
	}()

	<-done
	log.Println("rssmill-web: shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("rssmill-web: shutdown error: %v", err)
	}
	log.Println("rssmill-web: stopped")
}
