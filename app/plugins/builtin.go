package plugins

import (
	"github.com/kilianp07/repairdispatch/config"
	dispatchlog "github.com/kilianp07/repairdispatch/core/dispatch/logging"
	"github.com/kilianp07/repairdispatch/core/factory"
	"github.com/kilianp07/repairdispatch/infra/store"
	"github.com/kilianp07/repairdispatch/infra/store/memory"
	"github.com/kilianp07/repairdispatch/infra/store/sqlite"
)

func init() {
	_ = RegisterLogStore("jsonl", func(conf map[string]any) (dispatchlog.LogStore, error) {
		var lc config.LoggingConfig
		if err := factory.Decode(conf, &lc); err != nil {
			return nil, err
		}
		if lc.MaxSizeMB > 0 {
			return dispatchlog.NewRotatingJSONLStore(lc.Path, lc.MaxSizeMB, lc.MaxBackups, lc.MaxAgeDays)
		}
		return dispatchlog.NewJSONLStore(lc.Path)
	})
	_ = RegisterLogStore("sqlite", func(conf map[string]any) (dispatchlog.LogStore, error) {
		var lc config.LoggingConfig
		if err := factory.Decode(conf, &lc); err != nil {
			return nil, err
		}
		return dispatchlog.NewSQLiteStore(lc.Path)
	})

	_ = RegisterStore("memory", func(map[string]any) (store.Store, error) {
		return memory.NewStore(), nil
	})
	_ = RegisterStore("sqlite", func(conf map[string]any) (store.Store, error) {
		var sc config.StoreConfig
		if err := factory.Decode(conf, &sc); err != nil {
			return nil, err
		}
		return sqlite.NewStore(sc.Path)
	})
}
