// Command vrtd serves capture validation over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"example.com/vrtgate/internal/common"
	"example.com/vrtgate/internal/rules"
	"example.com/vrtgate/internal/server"
)

type config struct {
	Port        int              `yaml:"port"`
	StorageDir  string           `yaml:"storageDir"`
	Concurrency int              `yaml:"concurrency"`
	Repository  string           `yaml:"repository"`
	Profile     string           `yaml:"profile"`
	Logs        common.LogConfig `yaml:"logs"`
}

// loadConfig reads the daemon config. Without a file every setting takes its
// default and storage lives in ./data.
func loadConfig(path string) (config, error) {
	var cfg config
	if path != "" {
		if err := common.DecodeYAMLFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	resolve := common.PathResolver(path)
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.StorageDir = resolve(cfg.StorageDir); cfg.StorageDir == "" {
		cfg.StorageDir = "data"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	cfg.Repository = resolve(cfg.Repository)
	if cfg.Profile == "" {
		cfg.Profile = "vita49.2"
	}
	if cfg.Logs.Directory = resolve(cfg.Logs.Directory); cfg.Logs.Directory == "" {
		cfg.Logs.Directory = filepath.Join(cfg.StorageDir, "logs")
	}
	cfg.Logs.ApplyDefaults()
	return cfg, nil
}

func openRepository(dir string) (*rules.Repository, error) {
	if dir == "" {
		return rules.DefaultRepository()
	}
	return rules.OpenRepository(dir)
}

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	addr := flag.String("addr", "", "listen address (overrides config port)")
	readTimeout := flag.Duration("read-timeout", time.Minute, "HTTP read timeout")
	writeTimeout := flag.Duration("write-timeout", 5*time.Minute, "HTTP write timeout")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if _, err := common.OpenRotatingLog(cfg.Logs, "vrtd.log", os.Stdout); err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	repo, err := openRepository(cfg.Repository)
	if err != nil {
		log.Fatalf("rule repository: %v", err)
	}
	srv, err := server.NewServer(server.Options{
		StorageDir:  cfg.StorageDir,
		Repository:  repo,
		Profile:     cfg.Profile,
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		log.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	listen := *addr
	if listen == "" {
		listen = fmt.Sprintf(":%d", cfg.Port)
	}
	httpServer := &http.Server{
		Addr:         listen,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		common.Logf("vrtd listening on %s (rules %s, profile %s, %d workers)", listen, repo.Root(), cfg.Profile, cfg.Concurrency)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			common.Logf("listen: %v", err)
		}
		return
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		common.Logf("shutdown: %v", err)
	}
	common.Logf("vrtd stopped")
}
