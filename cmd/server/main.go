package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go-kobweb/server"

	"github.com/sirupsen/logrus"
)

const defaultConfPath = ".kobweb/conf.yaml"

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if level, err := logrus.ParseLevel(os.Getenv("KOBWEB_LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}
	return log
}

// environmentFromEnv resolves KOBWEB_ENV, defaulting to DEV.
func environmentFromEnv() server.ServerEnvironment {
	switch strings.ToUpper(os.Getenv("KOBWEB_ENV")) {
	case "PROD":
		return server.EnvProd
	default:
		return server.EnvDev
	}
}

// layoutFromEnv resolves KOBWEB_SITE_LAYOUT, defaulting to FULLSTACK.
func layoutFromEnv() server.SiteLayout {
	switch strings.ToUpper(os.Getenv("KOBWEB_SITE_LAYOUT")) {
	case "STATIC":
		return server.LayoutStatic
	default:
		return server.LayoutFullstack
	}
}

func main() {
	log := newLogger()

	confPath := os.Getenv("KOBWEB_CONF")
	if confPath == "" {
		confPath = defaultConfPath
	}

	cfg, err := server.LoadSiteConfig(confPath, log)
	if err != nil {
		log.Fatalf("failed to load site config: %v", err)
	}

	env := environmentFromEnv()
	layout := layoutFromEnv()
	paths := cfg.Paths(env)

	var bundle server.Bundle
	var filter server.FramePredicate
	if layout == server.LayoutFullstack {
		loaded, err := server.LoadBundle(paths.Api, cfg.NativeLibraries, log)
		if err != nil {
			log.Fatalf("failed to load api bundle: %v", err)
		}
		if loaded != nil {
			bundle = loaded.Bundle
			filter = loaded.FrameFilter
		}
	}

	globals := server.NewServerGlobals()

	router := &server.Router{
		Env:      env,
		Layout:   layout,
		Config:   cfg,
		Bundle:   bundle,
		Filter:   filter,
		Globals:  globals,
		Registry: server.NewStreamRegistry(),
		Log:      log,
	}

	handler, err := router.Assemble()
	if err != nil {
		log.Fatalf("failed to assemble routes: %v", err)
	}

	if env == server.EnvDev {
		watcher, err := server.StartBuildWatcher(paths.ContentRoot, globals, log)
		if err != nil {
			log.Warnf("live reload disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	addr := ":" + strconv.Itoa(cfg.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-shutdownCh
		log.Info("[shutdown] signal received, shutting down HTTP server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Errorf("[shutdown] http server shutdown error: %v", err)
		} else {
			log.Info("[shutdown] http server shut down cleanly")
		}
	}()

	log.Info("=============================================")
	log.Infof(" %s listening on %s", cfg.Title, addr)
	log.Info("=============================================")
	log.Infof(" Environment: %s", env)
	log.Infof(" Layout: %s", layout)
	if cfg.BasePath != "" {
		log.Infof(" Base path: %s", cfg.BasePath)
	}
	if bundle != nil {
		log.Infof(" Api streams: %d", bundle.NumStreams())
	}
	log.Info("=============================================")

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[server] listen error: %v", err)
	}
	// ListenAndServe returns as soon as Shutdown starts; wait for the
	// drain to finish before exiting.
	<-shutdownDone
}
