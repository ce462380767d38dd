package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/i2y/quill/provider"
)

// Watcher keeps the configuration in a file current. Readers always see a
// complete snapshot; a file that fails to load leaves the previous snapshot
// in place.
type Watcher struct {
	path string
	log  logrus.FieldLogger

	current atomic.Pointer[Config]

	mu      sync.Mutex
	subs    []func(*Config)
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger used to report reloads.
func WithLogger(l logrus.FieldLogger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// Watch loads path and reloads it whenever the file changes. Close stops
// watching.
func Watch(path string, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		path: filepath.Clean(path),
		log:  logrus.StandardLogger(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, err := Load(w.path)
	if err != nil {
		return nil, err
	}
	w.current.Store(cfg)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	// Editors replace files on save, so the directory is watched.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", w.path, err)
	}
	w.watcher = fw

	go w.loop(fw)
	return w, nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.Reload(); err != nil {
				w.log.WithError(err).WithField("path", w.path).Warn("config reload failed; keeping previous config")
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).WithField("path", w.path).Warn("config watcher error")
		}
	}
}

// Reload reads the file now. On failure the current snapshot is kept.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.current.Store(cfg)
	w.log.WithField("path", w.path).Info("config reloaded")

	w.mu.Lock()
	subs := append([]func(*Config){}, w.subs...)
	w.mu.Unlock()
	for _, fn := range subs {
		fn(cfg)
	}
	return nil
}

// Current returns the current snapshot. It must not be modified.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// ProviderConfigs implements provider.ConfigSource.
func (w *Watcher) ProviderConfigs() map[provider.Kind]provider.Config {
	return w.Current().Providers
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

// Close stops watching the file.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fw := w.watcher
	w.watcher = nil
	w.mu.Unlock()
	if fw == nil {
		return errors.New("config watcher already closed")
	}
	err := fw.Close()
	<-w.done
	return err
}
