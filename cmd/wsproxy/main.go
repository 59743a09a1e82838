// Command wsproxy runs one node of the WebSocket-to-Kafka proxy: the
// Session Handler, Commit Stack manager, and the two WebSocket endpoints
// from §6, plus a Prometheus metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kadm"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/auth"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/commitstack"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/config"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/kafkatopic"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/logging"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/metrics"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/session"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/socket"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wsproxy: config error:", err)
		os.Exit(1)
	}
	logging.Init(logging.StdoutLogger(cfg.Logging.ParsedLevel()), cfg.Logging.ParsedKgoLogLevel())

	reg := metrics.New()
	cluster := session.SeedCluster(cfg.KafkaBootstrapUrls)

	handlerCfg := session.HandlerConfig{
		Topic:                   string(cfg.SessionHandler.SessionStateTopicName),
		Partitions:              cfg.SessionHandler.SessionStatePartitions,
		ReplicationFactor:       cfg.SessionHandler.SessionStateReplicationFactor,
		RetentionDeleteFallback: cfg.SessionHandler.SessionStateRetention,
		RPCTimeout:              cfg.SessionHandler.RPCTimeout,
		MailboxSize:             session.DefaultHandlerConfig().MailboxSize,
	}
	handler, err := session.NewHandler(cfg.Server.ServerId, cluster, handlerCfg, nil, reg)
	if err != nil {
		logging.L().Errorf("wsproxy: construct session handler: %v", err)
		os.Exit(1)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	err = handler.Start(startCtx)
	cancelStart()
	if err != nil {
		logging.L().Errorf("wsproxy: session handler failed to start: %v", err)
		os.Exit(1)
	}

	adminClient, err := kafkatopic.NewClient(cluster)
	if err != nil {
		logging.L().Errorf("wsproxy: construct admin client: %v", err)
		os.Exit(1)
	}
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	err = kafkatopic.Ping(pingCtx, adminClient)
	cancelPing()
	if err != nil {
		logging.L().Errorf("wsproxy: cluster unreachable: %v", err)
		os.Exit(1)
	}
	commitCfg := commitstack.Config{
		MaxStackSize:       cfg.CommitHandler.MaxStackSize,
		AutoCommitEnabled:  cfg.CommitHandler.AutoCommitEnabled,
		AutoCommitInterval: cfg.CommitHandler.AutoCommitInterval,
		AutoCommitMaxAge:   cfg.CommitHandler.AutoCommitMaxAge,
	}
	commitMgr := commitstack.NewManager(kadm.NewClient(adminClient), commitCfg, reg)

	consumerDirective := authDirective(cfg)
	producerDirective := authDirective(cfg)

	socketServer, err := socket.NewServer(cfg.Server.ServerId, handler, commitMgr, consumerDirective, producerDirective, cluster, cfg.Consumer)
	if err != nil {
		logging.L().Errorf("wsproxy: construct socket server: %v", err)
		os.Exit(1)
	}

	mux := socketServer.Routes()
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.HandlerFor(reg.PrometheusRegistry(), promhttp.HandlerOpts{}))
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived; no blanket write deadline.
	}

	go func() {
		logging.L().Infof("wsproxy: server %s listening on %s", cfg.Server.ServerId, httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Errorf("wsproxy: http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.L().Infof("wsproxy: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.L().Errorf("wsproxy: http server shutdown: %v", err)
	}
	if err := commitMgr.CloseAll(shutdownCtx); err != nil {
		logging.L().Errorf("wsproxy: flushing commit stacks: %v", err)
	}
	socketServer.Close()
	adminClient.Close()
	handler.Stop()

	logging.L().Infof("wsproxy: shutdown complete")
}

// authDirective builds the Directive for one socket endpoint from whichever
// of basic-auth/openid-connect is enabled; both disabled (the default)
// yields Disabled{}. §4.H's basic-auth/openid-connect mutual-exclusion
// invariant is enforced once in config.Load, so at most one branch below can
// ever apply.
func authDirective(cfg config.AppCfg) auth.Directive {
	switch {
	case cfg.BasicAuth.Enabled:
		return auth.BasicAuthDirective{
			Realm:    cfg.BasicAuth.Realm,
			Username: cfg.BasicAuth.Username,
			Password: cfg.BasicAuth.Password,
		}
	case cfg.OpenIdConnect.Enabled:
		return &auth.OIDCAuthDirective{
			Realm:    cfg.OpenIdConnect.Realm,
			JwksUrl:  cfg.OpenIdConnect.JwksUrl,
			Issuer:   cfg.OpenIdConnect.Issuer,
			Audience: cfg.OpenIdConnect.Audience,
		}
	default:
		return auth.Disabled{}
	}
}
