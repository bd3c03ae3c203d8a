package renderer

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/vetro/core"
)

// shaderExtensions are the file suffixes that trigger a pipeline reload.
var shaderExtensions = []string{".spv", ".vert", ".frag", ".comp"}

// ShaderWatcher watches a directory tree for shader changes and asks the
// backend to rebuild its pipelines. Events are debounced because editors
// and compilers tend to write the same file several times in a row.
type ShaderWatcher struct {
	fsnotify *fsnotify.Watcher
	backend  Backend
	done     chan struct{}
}

// NewShaderWatcher starts watching dir and all its subdirectories.
func NewShaderWatcher(dir string, backend Backend) (*ShaderWatcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &ShaderWatcher{
		fsnotify: fsWatch,
		backend:  backend,
		done:     make(chan struct{}),
	}
	if err := w.watchRecursive(dir); err != nil {
		fsWatch.Close()
		return nil, err
	}
	go w.start()
	core.LogInfo("watching %s for shader changes", dir)
	return w, nil
}

// Close stops the watcher. Safe to call once.
func (w *ShaderWatcher) Close() {
	close(w.done)
}

func (w *ShaderWatcher) start() {
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					w.watchRecursive(e.Name)
				}
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isShaderFile(e.Name) {
				continue
			}
			core.LogDebug("shader changed: %s", e.Name)
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if err := w.backend.ReloadShaders(); err != nil {
				core.LogError("shader reload failed: %s", err)
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-w.done:
			w.fsnotify.Close()
			return
		}
	}
}

func (w *ShaderWatcher) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return w.fsnotify.Add(walkPath)
		}
		return nil
	})
}

func isShaderFile(name string) bool {
	for _, ext := range shaderExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
