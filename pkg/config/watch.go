package config

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads configuration from disk whenever the backing file
// changes, for tunables that are safe to pick up without a restart (log
// level/format today; see Watch's doc comment).
type Watcher struct {
	fsw *fsnotify.Watcher
	done chan struct{}
}

// Watch starts watching path for writes and calls onChange with the
// freshly reloaded, defaulted, and validated configuration after each one.
// onChange is also called with a non-nil error if a reload fails; the
// watcher keeps running so a subsequent fix is picked up.
//
// Only a subset of NodeConfig is actually safe to apply live — buffer
// ceilings and queue capacities are baked into registry entries at
// registration time. Callers should treat onChange's Config as informative
// for fields like Logging that this package's own callers (cmd/tcprosd)
// apply live, not as a full hot-swap of a running node.
func Watch(path string, onChange func(*Config, error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{})}
	go w.loop(path, onChange)
	return w, nil
}

func (w *Watcher) loop(path string, onChange func(*Config, error)) {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			onChange(cfg, err)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
