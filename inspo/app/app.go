// Package app wires the chat layer together. Both the server and the CLI build on it.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"inspo/inspo/config"
	"inspo/inspo/controllers"
	"inspo/inspo/routes"
	"inspo/inspo/services/assistant"
	"inspo/inspo/services/broker"
	"inspo/inspo/services/llm"
	"inspo/inspo/sources/psql"
	"inspo/inspo/sources/psql/dao"
	"inspo/inspo/sources/storage"
	"inspo/inspo/utils/logging"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type App struct {
	Config   config.Config
	DB       *psql.Database
	Messages *dao.ChatMessageDAO
	Sessions *dao.ChatSessionDAO
	Projects *dao.ProjectDAO
	Broker   *broker.Broker
	Chat     *controllers.ChatController

	// nil unless MinIO is configured
	Transcripts *storage.TranscriptStore

	sqlDB *sql.DB
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := psql.NewDatabase(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("database connection error: %w", err)
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		db.Close()
		return nil, err
	}

	completer, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		db.Close()
		return nil, err
	}
	if completer == nil {
		logging.AppLogger.Warn("no llm provider configured, replies will fail")
	}
	gateway, err := assistant.NewGateway(completer, cfg.LLM)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &App{
		Config:   cfg,
		DB:       db,
		Messages: dao.NewChatMessageDAO(db.DB),
		Sessions: dao.NewChatSessionDAO(db.DB),
		Projects: dao.NewProjectDAO(db.DB),
		Broker:   broker.New(),
		sqlDB:    sqlDB,
	}
	a.Chat = controllers.NewChatController(a.Messages, a.Sessions, a.Projects, gateway, a.Broker, cfg.Chat)

	if cfg.MinIO.Enabled() {
		store, err := storage.NewTranscriptStore(ctx, cfg.MinIO)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("minio connection error: %w", err)
		}
		a.Transcripts = store
		a.Chat.SetArchiver(store)
	}

	logging.AppLogger.Info("app ready",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("transcripts", a.Transcripts != nil))
	return a, nil
}

func (a *App) Router() chi.Router {
	return routes.NewRouter(a.Config,
		a.Chat,
		controllers.NewProjectController(a.Projects),
		controllers.NewHealthController(a.sqlDB))
}

// Close drains pending replies, then closes the database.
func (a *App) Close(ctx context.Context) error {
	err := a.Chat.Close(ctx)
	a.DB.Close()
	return err
}
