package instrument

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"deriflow/logger"
	"deriflow/models"
)

// placeholderName seeds a fresh map file so persisted ids always start
// above zero for real instruments.
const placeholderName = "EMPTY-INSTRUMENT"

// Registry resolves instrument names to immutable Instrument values and
// assigns each name a durable auto-increment id. The name-to-id map is
// persisted as JSON and re-read in full at startup, so ids survive
// restarts and are never reused.
type Registry struct {
	mu   sync.Mutex
	path string
	log  *logger.Log

	ids         map[string]int64
	instruments map[string]models.Instrument
	next        int64
}

// NewRegistry loads the durable name-to-id map from path, creating and
// seeding the file when it does not exist.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:        path,
		log:         logger.GetLogger(),
		ids:         make(map[string]int64),
		instruments: make(map[string]models.Instrument),
	}
	log := r.log.WithComponent("instrument_registry")

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.WithField("path", path).Info("no cached instrument map exists, seeding a new one")
		r.ids[placeholderName] = 0
		r.next = 1
		if err := r.persistLocked(); err != nil {
			return nil, fmt.Errorf("seed instrument map: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read instrument map: %w", err)
	default:
		if err := json.Unmarshal(data, &r.ids); err != nil {
			return nil, fmt.Errorf("parse instrument map %s: %w", path, err)
		}
		for _, id := range r.ids {
			if id >= r.next {
				r.next = id + 1
			}
		}
		log.WithFields(logger.Fields{
			"path":    path,
			"entries": len(r.ids),
			"next_id": r.next,
		}).Info("loaded cached instrument map")
	}
	return r, nil
}

// Resolve returns the Instrument for name, parsing its attributes and
// allocating a durable id on first sight. The updated map is persisted
// before the new id becomes visible, so a crash between allocation and
// persistence never leaks an unrecorded id. A persistence failure fails
// the resolve and leaves the registry unchanged.
func (r *Registry) Resolve(name string) (models.Instrument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instruments[name]; ok {
		return inst, nil
	}

	inst, err := ParseName(name)
	if err != nil {
		return models.Instrument{}, err
	}

	id, ok := r.ids[name]
	if !ok {
		id = r.next
		r.ids[name] = id
		if err := r.persistLocked(); err != nil {
			delete(r.ids, name)
			return models.Instrument{}, fmt.Errorf("persist instrument map: %w", err)
		}
		r.next = id + 1
		r.log.WithComponent("instrument_registry").WithFields(logger.Fields{
			"instrument": name,
			"id":         id,
		}).Debug("allocated instrument id")
	}

	inst.ID = id
	r.instruments[name] = inst
	return inst, nil
}

// Size reports the number of persisted name-to-id entries.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// persistLocked writes the full map to a temp file and renames it over the
// target, so readers never observe a torn file. Callers hold r.mu.
func (r *Registry) persistLocked() error {
	data, err := json.MarshalIndent(r.ids, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".instrument-map-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}
