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

	"github.com/coffersTech/scopelog"
)

func main() {
	configPath := flag.String("config", "logrelay.yaml", "YAML config file")
	addr := flag.String("addr", ":8088", "HTTP listen address")
	flag.Parse()

	cfg, err := scopelog.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("logrelay: %v", err)
	}
	if err := cfg.Apply(); err != nil {
		log.Fatalf("logrelay: %v", err)
	}

	regs, closers, err := buildSinks(cfg)
	if err != nil {
		log.Fatalf("logrelay: %v", err)
	}
	log.Printf("logrelay: %d sink(s) attached, threshold %s", len(regs), scopelog.Threshold())

	srv := &http.Server{Addr: *addr, Handler: newRelay()}
	go func() {
		log.Printf("logrelay: listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("logrelay: server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("logrelay: received %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("logrelay: shutdown: %v", err)
	}

	// Detach before closing so nothing dispatches into a closed sink.
	for _, reg := range regs {
		reg.Close()
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("logrelay: close sink: %v", err)
		}
	}
	log.Println("logrelay: exited")
}
