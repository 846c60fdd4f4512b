package main

import (
	"fmt"
	"net"
	"time"

	"github.com/kpc-debug/kdb/internal/host"
)

const quicDialTimeout = 10 * time.Second

func netDial(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, 10*time.Second)
}

// monitor streams announcements until the connection drops or the
// process is interrupted. With --watch the symbols manifest is reloaded
// whenever the build system rewrites it, so capture names stay current
// across reflashes.
func monitor(c *host.Client, opts *options, manifest *host.Manifest) error {
	var watcher *host.ManifestWatcher
	if opts.watch {
		if opts.symbols == "" {
			return fmt.Errorf("--watch needs --symbols")
		}
		w, err := host.WatchManifest(opts.symbols)
		if err != nil {
			return err
		}
		watcher = w
		defer watcher.Close()
	}

	events := make(chan host.Event, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			ev, err := c.Next(0)
			if err != nil {
				readErr <- err
				return
			}
			events <- ev
		}
	}()

	current := manifest
	for {
		select {
		case ev := <-events:
			printEvent(ev, current)
		case err := <-readErr:
			return err
		case m := <-watcherManifests(watcher):
			current = m
			opts.log.Info("reloaded symbols for %s %s", m.Firmware, m.Version)
			if opts.require != "" {
				if err := m.CheckVersion(opts.require); err != nil {
					opts.log.Warn("%v", err)
				}
			}
		case err := <-watcherErrors(watcher):
			opts.log.Warn("manifest reload: %v", err)
		}
	}
}

// watcherManifests and watcherErrors tolerate a nil watcher so the
// select above works whether or not --watch is in effect.
func watcherManifests(w *host.ManifestWatcher) <-chan *host.Manifest {
	if w == nil {
		return nil
	}
	return w.Manifests()
}

func watcherErrors(w *host.ManifestWatcher) <-chan error {
	if w == nil {
		return nil
	}
	return w.Errors()
}
