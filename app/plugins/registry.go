package plugins

import (
	"github.com/kilianp07/repairdispatch/config"
	dispatchlog "github.com/kilianp07/repairdispatch/core/dispatch/logging"
	"github.com/kilianp07/repairdispatch/core/factory"
	"github.com/kilianp07/repairdispatch/infra/store"
)

var (
	LogStores = factory.NewRegistry[dispatchlog.LogStore]()
	Stores    = factory.NewRegistry[store.Store]()
)

func RegisterLogStore(name string, f factory.Factory[dispatchlog.LogStore]) error {
	return LogStores.Register(name, f)
}

func RegisterStore(name string, f factory.Factory[store.Store]) error {
	return Stores.Register(name, f)
}

// NewLogStore opens the event log backend selected by cfg.
func NewLogStore(cfg config.LoggingConfig) (dispatchlog.LogStore, error) {
	return LogStores.Create(factory.ModuleConfig{Type: cfg.Backend, Conf: map[string]any{
		"path":         cfg.Path,
		"max_size_mb":  cfg.MaxSizeMB,
		"max_backups":  cfg.MaxBackups,
		"max_age_days": cfg.MaxAgeDays,
	}})
}

// NewStore opens the repository backend selected by cfg.
func NewStore(cfg config.StoreConfig) (store.Store, error) {
	return Stores.Create(factory.ModuleConfig{Type: cfg.Backend, Conf: map[string]any{"path": cfg.Path}})
}
