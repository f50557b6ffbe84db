package emulator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/core-tools/hsu-emulators/pkg/errors"
	"github.com/core-tools/hsu-emulators/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// Observer is told about registrations and deregistrations, outside the registry lock
type Observer interface {
	EmulatorRegistered(info Info)
	EmulatorDeregistered(info Info, stopErr error)
}

type registryEntry struct {
	instance  Instance
	stopping  bool
	startedAt time.Time
}

// Registry tracks the running emulator instances by name. It does not own their
// lifecycle; instances are started and stopped by their own code.
type Registry struct {
	entries   map[Name]*registryEntry
	observers []Observer
	logger    logging.Logger
	mutex     sync.Mutex
}

func NewRegistry(logger logging.Logger, observers ...Observer) *Registry {
	return &Registry{
		entries:   make(map[Name]*registryEntry),
		observers: observers,
		logger:    logger,
	}
}

// AddObserver must be called before the registry is shared between goroutines
func (r *Registry) AddObserver(observer Observer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.observers = append(r.observers, observer)
}

// Start records inst as running. A second instance with the same name is rejected.
func (r *Registry) Start(ctx context.Context, inst Instance) error {
	if inst == nil {
		return errors.NewValidationError("instance cannot be nil", nil)
	}

	name := inst.Name()
	if !name.Valid() {
		return errors.NewValidationError("unknown emulator name", nil).WithContext("emulator", string(name))
	}

	r.mutex.Lock()
	if existing, exists := r.entries[name]; exists {
		r.mutex.Unlock()
		state := "running"
		if existing.stopping {
			state = "stopping"
		}
		return errors.NewConflictError("emulator is already "+state, nil).WithContext("emulator", string(name))
	}
	r.entries[name] = &registryEntry{instance: inst, startedAt: time.Now()}
	observers := r.observers
	r.mutex.Unlock()

	info := inst.Info()
	r.logger.Infof("Emulator registered, name: %s, host: %s, port: %d", name, info.Host, info.Port)
	for _, observer := range observers {
		observer.EmulatorRegistered(info)
	}
	return nil
}

// Stop stops the named instance and removes it. The entry is removed even when
// the instance fails to stop; that failure is returned afterwards.
func (r *Registry) Stop(ctx context.Context, name Name) error {
	r.mutex.Lock()
	entry, exists := r.entries[name]
	if !exists {
		r.mutex.Unlock()
		return errors.NewConflictError("emulator is not running", nil).WithContext("emulator", string(name))
	}
	if entry.stopping {
		r.mutex.Unlock()
		return errors.NewConflictError("emulator is already stopping", nil).WithContext("emulator", string(name))
	}
	entry.stopping = true
	r.mutex.Unlock()

	info := entry.instance.Info()
	r.logger.Infof("Stopping emulator, name: %s", name)

	stopErr := entry.instance.Stop(ctx)

	r.mutex.Lock()
	delete(r.entries, name)
	observers := r.observers
	r.mutex.Unlock()

	for _, observer := range observers {
		observer.EmulatorDeregistered(info, stopErr)
	}

	if stopErr != nil {
		r.logger.Errorf("Emulator failed to stop cleanly, name: %s, error: %v", name, stopErr)
		if ctx.Err() != nil {
			return errors.NewCancelledError("emulator stop was cancelled", stopErr).WithContext("emulator", string(name))
		}
		return errors.NewProcessError("failed to stop emulator", stopErr).WithContext("emulator", string(name))
	}

	r.logger.Infof("Emulator stopped, name: %s, uptime: %s", name, time.Since(entry.startedAt).Round(time.Millisecond))
	return nil
}

// IsRunning reports whether name is registered and not being stopped
func (r *Registry) IsRunning(name Name) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry, exists := r.entries[name]
	return exists && !entry.stopping
}

func (r *Registry) Get(name Name) (Instance, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry, exists := r.entries[name]
	if !exists {
		return nil, false
	}
	return entry.instance, true
}

// List returns the registered instances sorted by name
func (r *Registry) List() []Info {
	r.mutex.Lock()
	instances := make([]Instance, 0, len(r.entries))
	for _, entry := range r.entries {
		instances = append(instances, entry.instance)
	}
	r.mutex.Unlock()

	infos := make([]Info, 0, len(instances))
	for _, inst := range instances {
		infos = append(infos, inst.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// StopAll stops every registered instance except those in skip, concurrently.
// All failures are collected.
func (r *Registry) StopAll(ctx context.Context, skip ...Name) error {
	skipped := make(map[Name]bool, len(skip))
	for _, name := range skip {
		skipped[name] = true
	}

	r.mutex.Lock()
	var targets []Name
	for name, entry := range r.entries {
		if !entry.stopping && !skipped[name] {
			targets = append(targets, name)
		}
	}
	r.mutex.Unlock()

	if len(targets) == 0 {
		return nil
	}
	r.logger.Infof("Stopping all emulators, count: %d", len(targets))

	var (
		group      errgroup.Group
		collection = errors.NewErrorCollection()
		mutex      sync.Mutex
	)
	for _, name := range targets {
		group.Go(func() error {
			err := r.Stop(ctx, name)
			// someone else is already stopping it
			if err != nil && !errors.IsConflictError(err) {
				mutex.Lock()
				collection.Add(err)
				mutex.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	return collection.ToError()
}
