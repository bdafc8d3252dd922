package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crmdesk/softphone/internal/api"
	"github.com/crmdesk/softphone/internal/banner"
	"github.com/crmdesk/softphone/internal/calllog"
	"github.com/crmdesk/softphone/internal/config"
	"github.com/crmdesk/softphone/internal/logger"
	"github.com/crmdesk/softphone/internal/session"
	"github.com/crmdesk/softphone/internal/sipclient"
)

func main() {
	cfg := config.Load()

	outputs := []io.Writer{os.Stdout}
	if cfg.LogFile != "" {
		outputs = append(outputs, logger.FileOutput(cfg.LogFile))
	}
	logger.InitLogger(outputs...)
	logger.SetLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	banner.Print("CRMDesk Softphone", []banner.ConfigLine{
		{Label: "Signaling", Value: cfg.WSEndpoint()},
		{Label: "Account", Value: fmt.Sprintf("sip:%s@%s", cfg.Username, cfg.Domain)},
		{Label: "RTP ports", Value: fmt.Sprintf("%d-%d", cfg.RTPPortMin, cfg.RTPPortMax)},
		{Label: "Control API", Value: cfg.APIAddr},
		{Label: "Log level", Value: cfg.LogLevel},
	})

	if err := run(cfg); err != nil {
		slog.Error("Softphone failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	manager := session.NewManager(sipclient.Factory(sipclient.Options{
		RTPPortMin: cfg.RTPPortMin,
		RTPPortMax: cfg.RTPPortMax,
	}))

	// Call journal: in-memory history always, file and Redis when configured.
	history := calllog.NewHistory(24 * time.Hour)
	sinks := []calllog.Sink{history}
	if cfg.CallLogPath != "" {
		sinks = append(sinks, calllog.NewFileSink(cfg.CallLogPath))
	}
	if cfg.RedisAddr != "" {
		redisSink, err := calllog.NewRedisSink(cfg.RedisAddr, cfg.RedisKey)
		if err != nil {
			return fmt.Errorf("redis call log sink: %w", err)
		}
		sinks = append(sinks, redisSink)
	}
	sink := calllog.NewMultiSink(sinks...)
	defer sink.Close()

	account := fmt.Sprintf("sip:%s@%s", cfg.Username, cfg.Domain)
	recorder := calllog.NewRecorder(account, manager.Status, sink)
	unsubscribe := manager.Subscribe(recorder.Listener())
	defer unsubscribe()

	apiServer := api.NewServer(cfg.APIAddr, manager, history, recorder)
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("start control api: %w", err)
	}
	defer apiServer.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Connect(ctx, session.Config{
		Server:            cfg.SIPServer,
		Username:          cfg.Username,
		Password:          cfg.Password,
		Domain:            cfg.Domain,
		WSPort:            cfg.WSPort,
		WSPath:            cfg.WSPath,
		ConnectTimeout:    cfg.ConnectTimeout,
		WSKeepAlive:       cfg.WSKeepAlive,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		NoAnswerTimeout:   cfg.NoAnswerTimeout,
		KeepAliveInterval: cfg.KeepAliveInterval,
		RegisterExpiry:    cfg.RegisterExpiry,
	}); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	slog.Info("Softphone ready", "account", account, "api", cfg.APIAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	manager.Disconnect(shutdownCtx)
	return nil
}
