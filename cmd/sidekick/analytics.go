package main

import (
	"context"
	"fmt"

	"github.com/namikmesic/claude-sidekick/internal/jetstream"
	"github.com/namikmesic/claude-sidekick/internal/processor"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// analyticsBus is the embedded JetStream server plus the consumer feeding
// response chunks to the processor.
type analyticsBus struct {
	server   *jetstream.Server
	nc       *nats.Conn
	js       nats.JetStreamContext
	cancel   context.CancelFunc
	consumer chan error
}

func startAnalyticsBus(ctx context.Context, storeDir string, proc *processor.Processor) (*analyticsBus, error) {
	srv, err := jetstream.NewServer(storeDir)
	if err != nil {
		return nil, fmt.Errorf("start embedded NATS: %w", err)
	}

	nc, err := srv.Connect()
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connect to embedded NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		srv.Shutdown()
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}
	if err := jetstream.EnsureStream(js); err != nil {
		nc.Close()
		srv.Shutdown()
		return nil, fmt.Errorf("create JetStream stream: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	bus := &analyticsBus{server: srv, nc: nc, js: js, cancel: cancel, consumer: make(chan error, 1)}
	go func() { bus.consumer <- proc.StartConsumer(consumerCtx, js) }()
	return bus, nil
}

func (b *analyticsBus) close() {
	b.cancel()
	if err := <-b.consumer; err != nil {
		log.Warn().Err(err).Msg("analytics consumer stopped with error")
	}
	if err := b.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("nats drain failed")
	}
	b.server.Shutdown()
}
