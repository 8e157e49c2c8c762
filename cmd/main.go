package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"depthsync/internal/config"
	"depthsync/internal/engine"
	"depthsync/internal/exchange/binance"
	"depthsync/internal/kafka"
	"depthsync/internal/symbolinfo"
	"depthsync/internal/types"
	"depthsync/internal/websocket"
)

func main() {
	// Parse command line flags
	var configPath = flag.String("config", "", "Path to a YAML configuration file")
	var symbol = flag.String("symbol", "", "Trading symbol to monitor (overrides config)")
	var logInterval = flag.Duration("log-interval", 0, "Interval for logging orderbook stats (overrides config)")
	var addr = flag.String("addr", "", "Address for the HTTP/WebSocket server (overrides config)")
	var noServer = flag.Bool("no-server", false, "Disable the HTTP/WebSocket server")
	var kafkaBrokers = flag.String("kafka-brokers", "", "Comma-separated Kafka brokers; enables Kafka publishing")
	var kafkaTopic = flag.String("kafka-topic", "", "Kafka topic for book views (overrides config)")
	var maxLevels = flag.Int("max-levels", 0, "Visible depth per side (overrides config)")
	var batchInterval = flag.Duration("batch-interval", 0, "Batch flush interval (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *symbol != "" {
		cfg.SetSymbol(*symbol)
	}
	if *logInterval > 0 {
		cfg.App.LogInterval = *logInterval
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *noServer {
		cfg.Server.Enabled = false
	}
	if *kafkaBrokers != "" {
		cfg.Kafka.Brokers = strings.Split(*kafkaBrokers, ",")
	}
	if *kafkaTopic != "" {
		cfg.Kafka.Topic = *kafkaTopic
	}
	if *maxLevels > 0 {
		cfg.SetMaxLevels(*maxLevels)
	}
	if *batchInterval > 0 {
		cfg.SetBatchInterval(*batchInterval)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting orderbook sync for %s on %s", cfg.Symbol, cfg.Exchange.Name)
	log.Printf("Max levels: %d, batch interval: %v, log interval: %v",
		cfg.Orderbook.MaxLevels, cfg.Orderbook.BatchInterval, cfg.App.LogInterval)

	run(ctx, cfg)
}

func run(ctx context.Context, cfg config.Config) {
	client := binance.NewClient(binance.Config{
		RestURL:       cfg.Exchange.RestURL,
		StreamURL:     cfg.Exchange.StreamURL,
		SnapshotLimit: cfg.Exchange.SnapshotLimit,
		UpdateSpeed:   cfg.Exchange.UpdateSpeed,
	})
	symbols := symbolinfo.NewCache(client)

	var wg sync.WaitGroup
	var publishers []types.Publisher

	var server *websocket.Server
	if cfg.Server.Enabled {
		server = websocket.NewServer(cfg.Server.Addr, nil, symbols, client.Health)
		publishers = append(publishers, server)
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled() {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publishers = append(publishers, producer)
	}

	eng := engine.New(cfg, client, publishers...)

	if server != nil {
		server.SetBook(eng)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	if producer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			producer.Run(ctx)
			if err := producer.Close(); err != nil {
				log.Printf("Kafka producer close error: %v", err)
			}
		}()
	}

	// Warm the symbol info cache so the summary uses the symbol's precision
	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := symbols.Get(warmCtx, cfg.Symbol); err != nil {
			log.Printf("Symbol info unavailable: %v", err)
		}
	}()

	// Centralized logging ticker
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.App.LogInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				view := eng.View()
				info, _ := symbols.Peek(view.Symbol)
				printSummary(os.Stdout, view, info, client.Health())
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := eng.Run(ctx); err != nil {
		log.Printf("Engine error: %v", err)
	}

	wg.Wait()
	log.Println("Orderbook sync stopped. Goodbye!")
}
