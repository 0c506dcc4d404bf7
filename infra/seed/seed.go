// Package seed loads order and master fixtures into a store.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/repairdispatch/core/model"
)

// Fixture is the on-disk layout of a seed file.
type Fixture struct {
	Orders  []model.Order  `json:"orders" yaml:"orders"`
	Workers []model.Worker `json:"workers" yaml:"workers"`
}

// Target receives the fixture records.
type Target interface {
	PutOrder(ctx context.Context, o model.Order) error
	PutWorker(ctx context.Context, w model.Worker) error
}

// Result counts what was imported.
type Result struct {
	Orders  int
	Workers int
}

// LoadFile reads a YAML or JSON fixture.
func LoadFile(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, err
	}
	var fx Fixture
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fx)
	case ".json":
		err = json.Unmarshal(data, &fx)
	default:
		return Fixture{}, fmt.Errorf("unsupported fixture format: %s", filepath.Ext(path))
	}
	if err != nil {
		return Fixture{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return fx, nil
}

// Normalize fills defaults and rejects unusable records.
func (fx *Fixture) Normalize(now time.Time) error {
	seen := make(map[string]bool)
	for i := range fx.Orders {
		o := &fx.Orders[i]
		if o.ID == "" {
			return fmt.Errorf("order %d: missing id", i)
		}
		if seen["o:"+o.ID] {
			return fmt.Errorf("order %s: duplicate id", o.ID)
		}
		seen["o:"+o.ID] = true
		if o.Status == "" {
			o.Status = model.OrderNew
		}
		if !o.Status.Valid() {
			return fmt.Errorf("order %s: unknown status %q", o.ID, o.Status)
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		if o.UpdatedAt.IsZero() {
			o.UpdatedAt = o.CreatedAt
		}
	}
	for i := range fx.Workers {
		w := &fx.Workers[i]
		if w.ID == "" {
			return fmt.Errorf("worker %d: missing id", i)
		}
		if seen["w:"+w.ID] {
			return fmt.Errorf("worker %s: duplicate id", w.ID)
		}
		seen["w:"+w.ID] = true
		if w.Status == "" {
			w.Status = model.WorkerAvailable
		}
		if !w.Status.Valid() {
			return fmt.Errorf("worker %s: unknown status %q", w.ID, w.Status)
		}
	}
	return nil
}

// Apply writes the fixture into t.
func Apply(ctx context.Context, t Target, fx Fixture) (Result, error) {
	var res Result
	for _, w := range fx.Workers {
		if err := t.PutWorker(ctx, w); err != nil {
			return res, fmt.Errorf("worker %s: %w", w.ID, err)
		}
		res.Workers++
	}
	for _, o := range fx.Orders {
		if err := t.PutOrder(ctx, o); err != nil {
			return res, fmt.Errorf("order %s: %w", o.ID, err)
		}
		res.Orders++
	}
	return res, nil
}

// Import loads, normalizes and applies the fixture at path.
func Import(ctx context.Context, t Target, path string) (Result, error) {
	fx, err := LoadFile(path)
	if err != nil {
		return Result{}, err
	}
	if err := fx.Normalize(time.Now().UTC()); err != nil {
		return Result{}, err
	}
	return Apply(ctx, t, fx)
}
