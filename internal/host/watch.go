package host

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ManifestWatcher reloads a symbols manifest whenever the firmware build
// rewrites it, so an attached debugger picks up fresh addresses without a
// restart. The parent directory is watched rather than the file itself
// because builds typically replace the file (write to temp, rename over).
type ManifestWatcher struct {
	w    *fsnotify.Watcher
	path string
	mC   chan *Manifest
	erC  chan error
}

// WatchManifest starts watching path. The initial load is the caller's job
// (LoadManifest); the watcher only delivers subsequent versions.
func WatchManifest(path string) (*ManifestWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	mw := &ManifestWatcher{
		w:    w,
		path: abs,
		mC:   make(chan *Manifest, 1),
		erC:  make(chan error, 1),
	}
	go mw.loop()
	return mw, nil
}

func (mw *ManifestWatcher) loop() {
	for {
		select {
		case ev, ok := <-mw.w.Events:
			if !ok {
				return
			}
			if ev.Name != mw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			m, err := LoadManifest(mw.path)
			if err != nil {
				// Builds write non-atomically; a torn read is not fatal,
				// the next event retries.
				select {
				case mw.erC <- err:
				default:
				}
				continue
			}
			// Keep only the newest manifest if the consumer is slow.
			select {
			case <-mw.mC:
			default:
			}
			mw.mC <- m
		case err, ok := <-mw.w.Errors:
			if !ok {
				return
			}
			select {
			case mw.erC <- err:
			default:
			}
		}
	}
}

// Manifests delivers reloaded manifests.
func (mw *ManifestWatcher) Manifests() <-chan *Manifest { return mw.mC }

// Errors delivers watch and reload errors.
func (mw *ManifestWatcher) Errors() <-chan error { return mw.erC }

// Close stops the watcher.
func (mw *ManifestWatcher) Close() error { return mw.w.Close() }
