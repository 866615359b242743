// SPDX-License-Identifier: EPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ik5/sampleprep"
	"github.com/ik5/sampleprep/internal/conf"
	"github.com/ik5/sampleprep/internal/library"
	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/metrics"
	"github.com/ik5/sampleprep/internal/pipeline"
	"github.com/ik5/sampleprep/internal/plugins"
	"github.com/ik5/sampleprep/internal/sample"
	"github.com/ik5/sampleprep/internal/samplecache"
	"github.com/ik5/sampleprep/internal/sandbox"
	"github.com/ik5/sampleprep/internal/sourcestore"
	"github.com/ik5/sampleprep/internal/storage"
	"github.com/ik5/sampleprep/internal/tabsync"
	"github.com/ik5/sampleprep/internal/transfer"
)

// app is one running instance: a "tab" in terms of cross-instance sync.
type app struct {
	settings *conf.Settings
	log      logger.Logger

	store    *storage.SQLiteStore
	bus      *tabsync.FileBus
	sandbox  *sandbox.Sandbox
	sources  *sourcestore.Store
	pipeline *pipeline.Pipeline
	plugins  *plugins.Registry
	library  *library.Library
	builder  *transfer.Builder

	closers []func() error
}

func openApp(ctx context.Context, s *conf.Settings) (a *app, err error) {
	log, logCloser, err := logger.New(logger.Config{
		Level:      s.Log.Level,
		File:       s.Log.File,
		MaxSizeMB:  s.Log.MaxSizeMB,
		MaxBackups: s.Log.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	a = &app{settings: s, log: log}
	a.closers = append(a.closers, logCloser.Close)
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var m *metrics.Metrics
	if s.Metrics.Enabled {
		if m, err = a.serveMetrics(); err != nil {
			return nil, err
		}
	}

	a.store, err = storage.OpenSQLite(s.Storage.Path, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	a.bus, err = tabsync.NewFileBus(s.TabSync.Dir, log, m)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.bus.Close)

	a.sandbox = sandbox.New(
		&sandbox.ProcessLauncher{Command: s.Sandbox.Command, Args: s.Sandbox.Args, Log: log},
		sandbox.Config{
			AckTimeout:          s.Sandbox.AckTimeout,
			InstallTimeout:      s.Sandbox.InstallTimeout,
			RunTimeoutPerSecond: s.Sandbox.RunTimeoutPerSecond,
			MinRunTimeout:       s.Sandbox.MinRunTimeout,
		}, log, m)
	a.closers = append(a.closers, a.sandbox.Close)

	a.sources = sourcestore.New(a.store.Collection(storage.AudioFileData), sourcestore.Config{
		MaxCached:    s.Sources.MaxCached,
		FetchTimeout: s.Sources.FetchTimeout,
		BaseURL:      s.Sources.BaseURL,
	}, log, m)

	dec := sampleprep.NewDecoder(s.Audio.SampleRate)
	a.pipeline = pipeline.New(a.sources, dec, a.sandbox, log, m)

	a.plugins = plugins.New(a.store.Collection(storage.PluginStore), a.sandbox, a.bus, log, s.Sandbox.MaxPluginSize)
	a.closers = append(a.closers, func() error { a.plugins.Close(); return nil })
	if err := a.plugins.Init(ctx); err != nil {
		log.Warn("some plugins failed to install", logger.Error(err))
	}

	samples := sample.NewStore(a.store.Collection(storage.SampleMetadata), a.sources, log,
		sample.WithPeaksFunc(a.pipeline.Peaks))
	cache := samplecache.New(a.store.Collection(storage.SampleCachedInfo), a.pipeline, dec, a.bus,
		s.Cache.MaxPreviews, log, m)

	a.library = library.New(samples, a.sources, cache, a.bus, a.sandbox, log)
	a.closers = append(a.closers, func() error { a.library.Close(); return nil })
	if err := a.library.Load(ctx); err != nil {
		return nil, err
	}

	a.builder = transfer.NewBuilder(a.pipeline,
		&transfer.ExecEncoder{Command: s.Transfer.Command, Args: s.Transfer.Args, Log: log},
		s.Transfer.ProgressInterval, s.Transfer.Workers, log, m)

	return a, nil
}

func (a *app) serveMetrics() (*metrics.Metrics, error) {
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", a.settings.Metrics.Listen)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server stopped", logger.Error(err))
		}
	}()
	a.log.Info("serving metrics", logger.String("addr", ln.Addr().String()))

	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	return m, nil
}

// Close releases everything in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

var _ io.Closer = (*app)(nil)
