package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"polaris-ng/internal/config"
	"polaris-ng/internal/logging"
	"polaris-ng/internal/metrics"
	"polaris-ng/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "/etc/polaris-ng/polaris.yaml", "Path to YAML config")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "polaris-ng: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	logs := web.NewLogBuffer(1000)
	logger, err := logging.New(io.MultiWriter(os.Stderr, logs), cfg.Log.Level)
	if err != nil {
		return err
	}
	log := logrus.NewEntry(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hw, err := openHardware(cfg, log)
	if err != nil {
		return err
	}

	m := metrics.New()
	status := web.NewStatus()
	rt, err := newLiveRuntime(ctx, cfg, hw, log, m, status)
	if err != nil {
		return err
	}
	defer rt.Close()

	log.WithFields(logrus.Fields{
		"device": rt.deviceID,
		"broker": cfg.MQTT.Broker,
		"topic":  cfg.MQTT.Topic,
	}).Info("polaris-ng starting")

	if cfg.Web.Listen != "" {
		h := web.Handler(web.Options{Status: status, Logs: logs, Metrics: m, DeviceID: rt.deviceID})
		go func() {
			err := web.Serve(ctx, cfg.Web.Listen, h)
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Error("web server stopped")
				cancel()
			}
		}()
	}

	_ = rt.Run(ctx)
	log.Info("polaris-ng stopping")
	return nil
}
