// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package plugin

import (
	"fmt"
	"io"
	"log"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
)

type instance struct {
	p    Plugin
	host *scopedHost
	cfg  Config
}

// Registry holds the plugin factories available to a client and the plugins
// that are currently active.
type Registry struct {
	conn   Conn
	logger *log.Logger
	debug  *log.Logger

	mu        sync.Mutex
	factories map[string]Factory
	active    map[string]*instance
	order     []string
}

// NewRegistry returns an empty registry for plugins of conn.
// Nil loggers discard their output.
func NewRegistry(conn Conn, logger, debug *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if debug == nil {
		debug = log.New(io.Discard, "", 0)
	}
	return &Registry{
		conn:      conn,
		logger:    logger,
		debug:     debug,
		factories: make(map[string]Factory),
		active:    make(map[string]*instance),
	}
}

// Add makes a factory available.
func (r *Registry) Add(f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[f.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, f.Name)
	}
	r.factories[f.Name] = f
	return nil
}

// Replace adds a factory, replacing any existing factory with the same name.
// Active instances are not affected until they are reloaded.
func (r *Registry) Replace(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Name] = f
}

// Remove removes a factory, deregistering its plugin first if it is active.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	_, ok := r.factories[name]
	_, active := r.active[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if active {
		if err := r.Deregister(name); err != nil {
			return err
		}
	}
	r.mu.Lock()
	delete(r.factories, name)
	r.mu.Unlock()
	return nil
}

// Factories returns the names of all known factories in sorted order.
func (r *Registry) Factories() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Active returns the names of active plugins in the order they were
// registered.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Get returns an active plugin.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.active[name]
	if !ok {
		return nil, false
	}
	return inst.p, true
}

// Register creates and activates the plugin with the given name.
// Every plugin it requires must already be active.
func (r *Registry) Register(name string, cfg Config) error {
	r.mu.Lock()
	f, ok := r.factories[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if _, ok := r.active[name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrActive, name)
	}
	for _, req := range f.Requires {
		if _, ok := r.active[req]; !ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s requires %s", ErrMissingPeer, name, req)
		}
	}
	r.mu.Unlock()

	host := &scopedHost{
		name:   name,
		conn:   r.conn,
		reg:    r,
		logger: r.logger,
		debug:  r.debug,
	}
	p, err := r.create(f, host, cfg)
	if err != nil {
		host.unwire()
		return fmt.Errorf("plugin: loading %s: %w", name, err)
	}

	r.mu.Lock()
	if _, ok := r.active[name]; ok {
		r.mu.Unlock()
		r.shutdown(name, &instance{p: p, host: host})
		return fmt.Errorf("%w: %s", ErrActive, name)
	}
	r.active[name] = &instance{p: p, host: host, cfg: cfg}
	r.order = append(r.order, name)
	r.mu.Unlock()

	r.logger.Printf("loaded plugin %s", name)
	return nil
}

// create calls the factory, turning a panic into an error.
func (r *Registry) create(f Factory, host *scopedHost, cfg Config) (p Plugin, err error) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Printf("plugin %s panicked while loading: %v\n%s", f.Name, v, debug.Stack())
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return f.New(host, cfg)
}

// Deregister shuts down an active plugin and removes everything it
// registered.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	inst, ok := r.active[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.active, name)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == name })
	var dependents []string
	for other := range r.active {
		if slices.Contains(r.factories[other].Requires, name) {
			dependents = append(dependents, other)
		}
	}
	r.mu.Unlock()

	if len(dependents) > 0 {
		sort.Strings(dependents)
		r.logger.Printf("unloading plugin %s required by %v", name, dependents)
	}
	err := r.shutdown(name, inst)
	r.logger.Printf("unloaded plugin %s", name)
	return err
}

func (r *Registry) shutdown(name string, inst *instance) (err error) {
	defer inst.host.unwire()
	s, ok := inst.p.(Shutdowner)
	if !ok {
		return nil
	}
	defer func() {
		if v := recover(); v != nil {
			r.logger.Printf("plugin %s panicked while shutting down: %v\n%s", name, v, debug.Stack())
			err = fmt.Errorf("plugin: shutting down %s: panic: %v", name, v)
		}
	}()
	r.debug.Printf("shutting down plugin %s", name)
	if err = s.Shutdown(); err != nil {
		err = fmt.Errorf("plugin: shutting down %s: %w", name, err)
	}
	return err
}

// Reload deregisters a plugin and registers it again with cfg.
// The connection is not affected.
func (r *Registry) Reload(name string, cfg Config) error {
	if err := r.Deregister(name); err != nil {
		r.debug.Printf("reloading %s: %v", name, err)
	}
	return r.Register(name, cfg)
}

// Config returns the configuration an active plugin was registered with.
func (r *Registry) Config(name string) (Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.active[name]
	if !ok {
		return Config{}, false
	}
	return inst.cfg, true
}

// DeregisterAll deregisters every active plugin in the reverse order of
// registration.
func (r *Registry) DeregisterAll() {
	for _, name := range slices.Backward(r.Active()) {
		if err := r.Deregister(name); err != nil {
			r.logger.Print(err)
		}
	}
}
