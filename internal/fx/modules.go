package fx

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"roachy-battlesync/internal/api"
	"roachy-battlesync/internal/config"
	"roachy-battlesync/internal/database"
	"roachy-battlesync/internal/logger"
	"roachy-battlesync/internal/repository"
	"roachy-battlesync/internal/server"
	"roachy-battlesync/internal/service"
)

func ProvideBattleAPI(client *api.BattleClient) service.BattleAPI {
	return client
}

func ProvideJournal(repo *repository.JournalRepository) service.Journal {
	return repo
}

func ProvideJournalReader(repo *repository.JournalRepository) server.JournalReader {
	return repo
}

func ProvideController(session *service.MatchSession) server.MatchController {
	return session
}

var Module = fx.Options(
	logger.Module,
	config.Module,
	fx.Provide(clock.New),
	fx.Provide(database.New),
	// journal
	fx.Provide(repository.NewJournalRepository),
	fx.Provide(ProvideJournal),
	fx.Provide(ProvideJournalReader),
	// battle api
	fx.Provide(api.NewBattleClient),
	fx.Provide(ProvideBattleAPI),
	// session
	fx.Provide(service.NewMatchSession),
	fx.Provide(ProvideController),
	// bridge
	fx.Provide(server.NewBridge),
)
