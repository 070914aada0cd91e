// Command dialtone places an outbound test call through the relay and
// keeps it up until interrupted, logging lifecycle events along the way.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/dialtone/internal/backoff"
	"github.com/sebas/dialtone/internal/call"
	"github.com/sebas/dialtone/internal/config"
	"github.com/sebas/dialtone/internal/insights"
	"github.com/sebas/dialtone/internal/logger"
	"github.com/sebas/dialtone/internal/media"
	"github.com/sebas/dialtone/internal/signaling"
	"github.com/sebas/dialtone/internal/stats"
)

func main() {
	to := flag.String("to", "", "destination to dial (custom parameter To)")
	preflight := flag.Bool("preflight", false, "mark the call as a connectivity test")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.InitLogger(os.Stdout)
		logger.Error("load configuration", "error", err)
		os.Exit(1)
	}

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	if err := run(cfg, *to, *preflight); err != nil {
		logger.Error("call failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, to string, preflight bool) error {
	client := signaling.NewClient(cfg.RelayURL, cfg.Token)
	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Close()

	var servers []media.ICEServer
	for _, url := range cfg.STUNServers {
		servers = append(servers, media.ICEServer{URL: url})
	}
	peer, err := media.NewPeer(servers)
	if err != nil {
		return err
	}

	var params []call.Parameter
	if to != "" {
		params = append(params, call.Parameter{Key: "To", Value: to})
	}

	c, err := call.New(call.Config{
		Transport:         client,
		Media:             peer,
		Parameters:        params,
		PreferredCodecs:   cfg.PreferredCodecs,
		MaxAverageBitrate: cfg.MaxAverageBitrate,
		Preflight:         preflight,
		EnhancedPrecision: cfg.EnhancedPrecision,
		Policy:            call.DetectorPolicy{TreatFailureAsTerminal: cfg.TreatFailureAsTerminal},
		Backoff:           backoff.DefaultConfig(),
		Monitor:           stats.DefaultConfig(),
		Insights:          insights.NewLoggingPublisher(nil),
	})
	if err != nil {
		return err
	}

	done := make(chan struct{})
	c.Subscribe(func(ev call.Event) {
		switch ev.Kind {
		case call.EventAccept:
			logger.Info("call open", "callSid", ev.CallSid)
		case call.EventRinging:
			logger.Info("ringing", "earlyMedia", ev.HasEarlyMedia)
		case call.EventReconnecting:
			logger.Warn("reconnecting", "error", ev.Err)
		case call.EventReconnected:
			logger.Info("reconnected")
		case call.EventWarning:
			logger.Warn("quality warning", "name", ev.Warning.Name, "value", ev.Warning.Value)
		case call.EventWarningCleared:
			logger.Info("quality warning cleared", "name", ev.Warning.Name)
		case call.EventError:
			logger.Error("call error", "error", ev.Err)
		case call.EventDisconnect:
			logger.Info("call ended")
			close(done)
		case call.EventCancel:
			logger.Info("call cancelled")
			close(done)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Accept(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received signal, hanging up", "signal", sig.String())
		c.Disconnect()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	case <-done:
	}
	return nil
}
