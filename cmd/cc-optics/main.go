// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// cc-optics is a self-instrumenting demo daemon for the optics library: it
// samples the Go runtime into a set of lenses, polls them on a fixed
// frequency and fans the cycles out to the configured backends (stdout,
// Carbon, NATS, SQLite archive, Prometheus, REST).
package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-optics/internal/api"
	"github.com/ClusterCockpit/cc-optics/internal/archive"
	"github.com/ClusterCockpit/cc-optics/internal/config"
	"github.com/ClusterCockpit/cc-optics/pkg/backend"
	"github.com/ClusterCockpit/cc-optics/pkg/optics"
	"github.com/google/gops/agent"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var flagGops bool
	var flagConfigFile, flagLogLevel string
	var flagLogDateTime bool
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Set this flag to add date and time to log messages")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Specify alternative path to `config.json`")
	flag.StringVar(&flagLogLevel, "loglevel", "warn", "Sets the logging level: `[debug, info, warn (default), err, crit]`")
	flag.Parse()

	cclog.Init(flagLogLevel, flagLogDateTime)

	// See https://github.com/google/gops (Runtime overhead is almost zero)
	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cclog.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	config.Init(flagConfigFile)

	pollFreq, err := time.ParseDuration(config.Keys.PollFrequency)
	if err != nil || pollFreq <= 0 {
		cclog.Fatalf("invalid poll-frequency '%s'", config.Keys.PollFrequency)
	}

	o, err := optics.Create(config.Keys.Prefix)
	if err != nil {
		cclog.Fatal(err)
	}
	for key, val := range config.Keys.Labels {
		o.SetLabel(key, val)
	}

	poller := optics.NewPoller(o)
	if config.Keys.Hostname != "" {
		if err := poller.SetHost(config.Keys.Hostname); err != nil {
			cclog.Fatal(err)
		}
	}

	// Backends in registration order: stdout, carbon, nats, archive,
	// prometheus, rest.

	if config.Keys.Stdout {
		poller.AddBackend(backend.NewDumper(os.Stdout))
	}

	if cfg := config.Keys.Carbon; cfg != nil {
		poller.AddBackend(backend.NewCarbon(cfg.Host, cfg.Port))
	}

	if cfg := config.Keys.Nats; cfg != nil {
		nb, err := backend.NewNats(cfg)
		if err != nil {
			cclog.Fatalf("NATS connection failed: %s", err.Error())
		}
		poller.AddBackend(nb)
	}

	if config.Keys.ArchivePath != "" {
		if err := archive.Connect(config.Keys.ArchivePath); err != nil {
			cclog.Fatalf("archive setup failed: %s", err.Error())
		}
		poller.AddBackend(archive.GetRepository())
	}

	r := mux.NewRouter()

	if config.Keys.Prometheus {
		prom := backend.NewPrometheus()
		poller.AddBackend(prom)

		reg := prometheus.NewRegistry()
		if err := reg.Register(prom); err != nil {
			cclog.Fatal(err)
		}
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	restApi := api.New(poller)
	poller.AddBackend(restApi)
	restApi.MountRoutes(r)

	stopSampler := make(chan struct{})
	go sampleRuntime(o, stopSampler)

	thread, err := optics.StartThread(poller, pollFreq)
	if err != nil {
		cclog.Fatal(err)
	}

	if config.Keys.ArchivePath != "" && config.Keys.ArchiveRetention != "" {
		retention, err := time.ParseDuration(config.Keys.ArchiveRetention)
		if err != nil {
			cclog.Fatalf("invalid archive-retention '%s'", config.Keys.ArchiveRetention)
		}
		go func() {
			for range time.Tick(retention / 2) {
				before := time.Now().Add(-retention).UnixNano()
				if n, err := archive.GetRepository().Retention(before); err != nil {
					cclog.Errorf("archive retention failed: %s", err.Error())
				} else if n > 0 {
					cclog.Debugf("archive retention removed %d samples", n)
				}
			}
		}()
	}

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	handler := handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		if strings.HasPrefix(params.Request.RequestURI, "/api/") {
			cclog.Infof("%s %s (%d, %.02fkb, %dms)",
				params.Request.Method, params.URL.RequestURI(),
				params.StatusCode, float32(params.Size)/1024,
				time.Since(params.TimeStamp).Milliseconds())
		} else {
			cclog.Debugf("%s %s (%d, %.02fkb, %dms)",
				params.Request.Method, params.URL.RequestURI(),
				params.StatusCode, float32(params.Size)/1024,
				time.Since(params.TimeStamp).Milliseconds())
		}
	})

	server := http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      handler,
		Addr:         config.Keys.Addr,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cclog.Infof("HTTP server listening at %s...", config.Keys.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cclog.Fatal(err)
		}
	}()

	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer wg.Done()
		<-sigs

		// First shut down the server gracefully (waiting for all ongoing
		// requests), then stop the poll thread and run one final cycle so
		// nothing recorded since the last flip is lost.
		server.Shutdown(context.Background())
		close(stopSampler)
		if err := thread.Stop(); err != nil {
			cclog.Errorf("poll thread shutdown failed: %s", err.Error())
		}
		poller.Poll()
		poller.Close()
		o.Close()
	}()

	wg.Wait()
	cclog.Printf("Graceful shutdown completed!")
}

// sampleRuntime feeds the Go runtime into a small lens population once per
// second: heap gauge, goroutine gauge, GC pause distribution and allocation
// counters.
func sampleRuntime(o *optics.Optics, stop <-chan struct{}) {
	heap, err := o.GaugeCreate("go_heap_alloc")
	if err != nil {
		cclog.Fatal(err)
	}
	goroutines, _ := o.GaugeCreate("go_goroutines")
	gcPause, _ := o.DistCreate("go_gc_pause")
	gcCycles, _ := o.CounterCreate("go_gc_cycles")
	allocated, _ := o.CounterCreate("go_alloc_bytes")
	pauseHisto, _ := o.HistoCreate("go_gc_pause_buckets",
		[]uint64{1000, 10000, 100000, 1000000, 10000000, 100000000})
	pauseP99, _ := o.QuantileCreate("go_gc_pause_p99", 0.99, 100000, 1000)

	var last runtime.MemStats
	runtime.ReadMemStats(&last)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		heap.Set(float64(ms.HeapAlloc))
		goroutines.Set(float64(runtime.NumGoroutine()))
		gcCycles.Inc(int64(ms.NumGC - last.NumGC))
		allocated.Inc(int64(ms.TotalAlloc - last.TotalAlloc))

		for gc := last.NumGC; gc < ms.NumGC; gc++ {
			pause := float64(ms.PauseNs[gc%uint32(len(ms.PauseNs))])
			gcPause.Record(pause)
			pauseHisto.Observe(pause)
			pauseP99.Update(pause)
		}

		last = ms
	}
}
