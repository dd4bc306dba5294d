package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gwi.com/neura-chat/internal/api"
	"gwi.com/neura-chat/internal/auth"
	"gwi.com/neura-chat/internal/config"
	"gwi.com/neura-chat/internal/core"
	"gwi.com/neura-chat/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Local storage backs the signed-in user record
	localStorage, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize local storage: %v", err)
	}
	defer localStorage.Close()

	// Initialize LLM service
	llmService, err := core.NewLLMService(context.Background(), config.AppConfig.GeminiAPIKey, config.AppConfig.GeminiBaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize LLM service: %v", err)
	}
	defer llmService.Close()

	aiConfig := core.DefaultConfig
	aiConfig.ModelID = config.AppConfig.DefaultModel
	aiConfig.UseSearch = config.AppConfig.UseSearch

	// Sessions live in memory only
	sessions := store.NewSessionStore(aiConfig.ModelID)
	historySearch := core.NewHistorySearch(llmService.GetEmbedding)
	chatService := core.NewChatService(sessions, llmService, historySearch, aiConfig)

	authProvider := auth.NewLocalProvider(localStorage, config.AppConfig.LoginDelay, config.AppConfig.SignupDelay)
	if user, err := authProvider.CurrentUser(); err != nil {
		log.Printf("Ignoring unreadable stored user: %v", err)
	} else if user != nil {
		log.Printf("Restored session for %s", user.Email)
	}

	// No speech recognizer is wired on the server; dictation reports unsupported
	dictation := core.NewDictation(nil)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, authProvider, dictation)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: message and event streams stay open for as long as the client listens.
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give in-flight streams time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// llmService.Close() and localStorage.Close() will be called by their defers.
	log.Println("Server exiting gracefully")
}
