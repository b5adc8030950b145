package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"blocksec2go/client"
	"blocksec2go/config"
	"blocksec2go/logs"
	"blocksec2go/server"
	"blocksec2go/t1prime"
	"blocksec2go/transport"
)

// Version info - increment based on change magnitude:
// Major (x.0.0): Breaking changes, major rewrites
// Minor (0.y.0): New features, significant enhancements
// Patch (0.0.z): Bug fixes, minor improvements
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	sim := flag.Bool("sim", false, "Drive an in-memory simulated card instead of a real I2C bus")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	os.MkdirAll(cfg.Trace.Path, 0755)
	logFile, err := os.OpenFile(cfg.Trace.Path+"/blocksec2go.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		log.SetOutput(logFile)
	}

	log.Infof("Starting Blockchain Security 2Go bridge v%s", Version)
	log.Infof("  Bus: %s (addr 0x%02x, %d Hz)", cfg.Bus.Name, cfg.Bus.SlaveAddress, cfg.Bus.ClockHz)
	log.Infof("  Trace path: %s", cfg.Trace.Path)
	log.Infof("  Web port: %d", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	logWriter := logs.NewWriter(cfg.Trace.Path, cfg.Trace.RetentionDays)
	defer logWriter.Close()

	hub := server.NewHub()

	var bus transport.Transport
	if *sim {
		log.Warn("running against an in-memory simulated card (-sim): no real bus will be opened")
		bus = transport.NewSimTransport()
	} else {
		i2cTr, err := transport.OpenI2CTransport(cfg.Bus.Name, cfg.Bus.SlaveAddress)
		if err != nil {
			log.Fatalf("Failed to open I2C transport: %v", err)
		}
		defer i2cTr.Close()
		if err := i2cTr.SetClockFrequency(cfg.Bus.ClockHz); err != nil {
			log.Fatalf("Failed to set I2C clock: %v", err)
		}
		bus = i2cTr
	}
	var tr transport.Transport = &tracingTransport{Transport: bus, w: logWriter, hub: hub}

	engine := t1prime.NewEngine(tr, log.StandardLogger())
	if err := engine.Activate(ctx); err != nil {
		log.Fatalf("Card activation failed: %v", err)
	}
	log.Infof("Card activated, BWT=%s", engine.GetBWT())

	cardClient := client.New(engine)

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logWriter.Cleanup()
			}
		}
	}()

	srv := server.New(cfg.Server.Port, engine, hub, cardClient)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// tracingTransport decorates a Transport with the block-trace log and the
// debug server's live SSE stream, so every byte the engine sends or
// receives lands in both without the engine itself knowing either exists.
type tracingTransport struct {
	transport.Transport
	w   *logs.Writer
	hub *server.Hub
}

func (t *tracingTransport) Transmit(ctx context.Context, data []byte) error {
	t.trace("host->card", data)
	return t.Transport.Transmit(ctx, data)
}

func (t *tracingTransport) Receive(ctx context.Context, n int) ([]byte, error) {
	data, err := t.Transport.Receive(ctx, n)
	if err == nil {
		t.trace("card->host", data)
	}
	return data, err
}

func (t *tracingTransport) trace(direction string, data []byte) {
	if err := t.w.WriteBlock(direction, data); err != nil {
		log.Debugf("trace: %v", err)
	}
	t.hub.Publish(fmt.Sprintf("%s % x", direction, data))
}
