// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package consultant wires the audio consultation service together:
// stores, vector index, conversation engines, and the HTTP surface.
package consultant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/ConsultAudio/services/consultant/audio"
	"github.com/AleutianAI/ConsultAudio/services/consultant/catalog"
	"github.com/AleutianAI/ConsultAudio/services/consultant/conversation"
	"github.com/AleutianAI/ConsultAudio/services/consultant/history"
	"github.com/AleutianAI/ConsultAudio/services/consultant/resolver"
	"github.com/AleutianAI/ConsultAudio/services/consultant/routes"
	"github.com/AleutianAI/ConsultAudio/services/consultant/session"
	"github.com/AleutianAI/ConsultAudio/services/consultant/vectorindex"
	"github.com/AleutianAI/ConsultAudio/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	_ "modernc.org/sqlite"
)

// Backends groups the model clients the service depends on. In the
// default deployment one OpenAI client serves all three roles.
type Backends struct {
	Chat        llm.LLMClient
	Embedder    llm.Embedder
	Transcriber llm.Transcriber
}

// Service is the assembled consultant application.
type Service struct {
	cfg    *Config
	router *gin.Engine
	db     *sql.DB

	catalog catalog.Store
	index   vectorindex.Index
	hist    history.Store
	buffer  *history.TurnBuffer

	consultant    *session.Manager
	assistant     *session.Manager
	audioProvider *session.Manager
}

// New builds the service. weaviateClient may be nil only in tests; the
// index then stays unreachable and chat runs degraded.
func New(cfg *Config, backends Backends, weaviateClient *weaviate.Client) (*Service, error) {
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	db, err := openDatabase(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	catalogStore, err := catalog.NewSQLStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	historyStore, err := history.NewSQLStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	index := vectorindex.NewWeaviateIndex(weaviateClient, backends.Embedder, cfg.ExternalCallTimeout)
	if weaviateClient != nil {
		if err := index.EnsureSchema(context.Background()); err != nil {
			slog.Error("Failed to ensure the vector schema, retrieval will be degraded", "error", err)
		}
	}

	res := resolver.New(index, catalogStore, cfg.UploadDir, cfg.ResolveTopK)
	searchTool := conversation.NewSearchAudioTool(res, cfg.AcceptThreshold)
	buffer := history.NewTurnBuffer(historyStore, cfg.TurnBufferSize)

	factory := func(policy conversation.Policy) session.Factory {
		return func(key string) *conversation.Engine {
			return conversation.NewEngine(key, backends.Chat, searchTool, buffer,
				conversation.Config{Policy: policy, CallTimeout: cfg.ExternalCallTimeout})
		}
	}
	consultantMgr := session.NewManager(factory(conversation.PolicyTool),
		historyStore, cfg.SessionCacheSize, cfg.SessionIdleTTL)
	assistantMgr := session.NewManager(factory(conversation.PolicyDirect),
		historyStore, cfg.SessionCacheSize, cfg.SessionIdleTTL)
	audioProviderMgr := session.NewManager(factory(conversation.PolicyUnconditional),
		historyStore, cfg.SessionCacheSize, cfg.SessionIdleTTL)

	// Middleware must be in place before the routes are registered.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("consultant-service"))
	routes.SetupRoutes(router, routes.Dependencies{
		Processor:     audio.NewProcessor(backends.Transcriber, backends.Chat, cfg.ExternalCallTimeout),
		Catalog:       catalogStore,
		Index:         index,
		Deleter:       catalog.NewTwoPhaseDeleter(catalogStore, index, cfg.UploadDir),
		History:       historyStore,
		UploadDir:     cfg.UploadDir,
		Consultant:    consultantMgr,
		Assistant:     assistantMgr,
		AudioProvider: audioProviderMgr,
	})

	return &Service{
		cfg:           cfg,
		router:        router,
		db:            db,
		catalog:       catalogStore,
		index:         index,
		hist:          historyStore,
		buffer:        buffer,
		consultant:    consultantMgr,
		assistant:     assistantMgr,
		audioProvider: audioProviderMgr,
	}, nil
}

// Router exposes the HTTP handler, mainly for tests and middleware.
func (s *Service) Router() *gin.Engine { return s.router }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully:
// drain connections, flush session buffers, close the database.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting the consultant server", "port", s.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down the consultant server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.close()
	return err
}

func (s *Service) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.consultant.Close(ctx)
	s.assistant.Close(ctx)
	s.audioProvider.Close(ctx)
	if err := s.buffer.Flush(ctx); err != nil {
		slog.Error("Failed to flush the turn buffer on shutdown", "error", err)
	}
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close the database", "error", err)
	}
}

// openDatabase opens the SQLite file with conservative pool settings.
// SQLite tolerates one writer, so the pool stays small.
func openDatabase(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
