package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"collabknit/internal/audit"
	"collabknit/internal/config"
	"collabknit/internal/discovery"
	"collabknit/internal/feed"
	"collabknit/internal/hub"
	"collabknit/internal/palette"
	"collabknit/internal/server"
	"collabknit/internal/textile"
	"collabknit/web"
)

func main() {
	if err := mainInner(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configFile := flag.String("config", "", "path to a YAML config file")
	host := flag.String("host", "", "interface to listen on (overrides config)")
	port := flag.Int("port", 0, "port to listen on (overrides config and PORT)")
	paletteFlag := flag.String("palette", "", `color rotation as "r,g,b;r,g,b;..."`)
	capacity := flag.Int("capacity", -1, "maximum number of stitches, 0 for unbounded")
	mdns := flag.Bool("mdns", false, "advertise the server over mDNS")
	staticDir := flag.String("static", "", "serve the front-end from this directory instead of the embedded copy")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *paletteFlag != "" {
		if cfg.Palette, err = palette.ParsePalette(*paletteFlag); err != nil {
			return err
		}
	}
	if *capacity >= 0 {
		cfg.Capacity = *capacity
	}
	if *mdns {
		cfg.MDNS.Enabled = true
	}
	if *staticDir != "" {
		cfg.StaticDir = *staticDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	log.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	colors, err := palette.NewAllocator(cfg.Palette)
	if err != nil {
		return err
	}
	opts := []hub.Option{hub.WithLogger(logger), hub.WithQueueSize(cfg.QueueSize)}

	if cfg.Redis.Addr != "" {
		sink, rdb, err := feed.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Channel)
		if err != nil {
			return err
		}
		defer rdb.Close()
		logger.Info("Connected to Redis successfully.", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
		opts = append(opts, hub.WithSink(sink))
	}
	if cfg.DatabaseURL != "" {
		sink, pool, err := audit.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info("Connected to PostgreSQL successfully.")
		opts = append(opts, hub.WithSink(sink))
	}

	h := hub.New(textile.New(textile.WithCapacity(cfg.Capacity)), colors, opts...)

	var assets fs.FS = web.Assets()
	if cfg.StaticDir != "" {
		assets = os.DirFS(cfg.StaticDir)
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.New(ctx, h, assets, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.Run(ctx)
	}()

	if cfg.MDNS.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := discovery.Advertise(ctx, logger, cfg.MDNS.Instance, cfg.MDNS.Service, cfg.Port); err != nil {
				logger.Error("mDNS advertise failed", "err", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("collabknit server starting", "addr", cfg.Addr(), "palette", len(cfg.Palette))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		logger.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = httpServer.Shutdown(shutdownCtx)

	wg.Wait()
	logger.Info("stopped", "stitches", h.Textile().Len())
	return nil
}
