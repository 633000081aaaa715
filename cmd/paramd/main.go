package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/server"
)

type config struct {
	Port            int              `yaml:"port"`
	StorageDir      string           `yaml:"storageDir"`
	Concurrency     int              `yaml:"concurrency"`
	CacheDir        string           `yaml:"cacheDir"`
	ProfileManifest string           `yaml:"profileManifest"`
	Profiles        []server.Profile `yaml:"profiles"`
	Signing         signingConfig    `yaml:"signing"`
	Logs            common.LogConfig `yaml:"logs"`
}

type signingConfig struct {
	PrivateKey string `yaml:"privateKey"`
	KeyID      string `yaml:"keyId"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	baseDir := filepath.Dir(path)
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		candidate := filepath.Clean(filepath.Join(baseDir, p))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		return filepath.Clean(p)
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = filepath.Join(".", "data")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	cfg.CacheDir = resolvePath(cfg.CacheDir)
	cfg.ProfileManifest = resolvePath(cfg.ProfileManifest)
	cfg.Signing.PrivateKey = resolvePath(cfg.Signing.PrivateKey)
	for i := range cfg.Profiles {
		cfg.Profiles[i].Schema = resolvePath(cfg.Profiles[i].Schema)
		cfg.Profiles[i].Rules = resolvePath(cfg.Profiles[i].Rules)
	}
	if len(cfg.Profiles) == 0 && cfg.ProfileManifest == "" {
		return cfg, errors.New("no profiles configured")
	}
	if cfg.Logs.Directory == "" {
		cfg.Logs.Directory = filepath.Join(cfg.StorageDir, "logs")
	}
	if cfg.Logs.FileName == "" {
		cfg.Logs.FileName = "paramd.log"
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "config/paramd.yaml", "path to configuration file")
	addr := flag.String("addr", "", "listen address (overrides config port)")
	readTimeout := flag.Duration("read-timeout", 60*time.Second, "HTTP read timeout")
	writeTimeout := flag.Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		common.Fatalf("load config: %v", err)
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		common.Fatalf("storage dir: %v", err)
	}
	closer, err := common.SetupLogging(cfg.Logs)
	if err != nil {
		common.Fatalf("setup logging: %v", err)
	}
	defer closer.Close()

	listenAddr := fmt.Sprintf(":%d", cfg.Port)
	if *addr != "" {
		listenAddr = *addr
	}
	srv, err := server.NewServer(server.Options{
		StorageDir:      cfg.StorageDir,
		ProfileManifest: cfg.ProfileManifest,
		Profiles:        cfg.Profiles,
		CacheDir:        cfg.CacheDir,
		SigningKeyPath:  cfg.Signing.PrivateKey,
		SigningKeyID:    cfg.Signing.KeyID,
		Concurrency:     cfg.Concurrency,
	})
	if err != nil {
		common.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		common.Logf("paramd listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.Logf("listen: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		common.Logf("shutdown: %v", err)
	}
	common.Logf("paramd stopped")
}
