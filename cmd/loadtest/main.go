// Command loadtest нагружает gRPC API сценариями корзины и оформления заказа.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcsvc "github.com/vladislavdragonenkov/foodoms/internal/service/grpc"
)

type loadMode string

const (
	modeCart       loadMode = "cart"
	modePlace      loadMode = "place"
	modePlaceTrack loadMode = "place-track"
)

type config struct {
	addr          string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	connections   int
	timeout       time.Duration
	mode          loadMode
	advanceRate   int
	foodItemID    string
	qty           int
	paymentMethod string
	customerTag   string
	outputPath    string
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	cfg := config{}
	var mode string

	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to run; with -duration acts as an upper bound")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&mode, "mode", string(modePlace), "scenario: cart | place | place-track")
	fs.IntVar(&cfg.advanceRate, "advance-rate", 0, "percent of placed orders moved to PREPARING in place mode (0..100)")
	fs.StringVar(&cfg.foodItemID, "food", "food-masala-dosa", "catalog food item to order")
	fs.IntVar(&cfg.qty, "qty", 1, "quantity per cart line")
	fs.StringVar(&cfg.paymentMethod, "payment-method", "", "payment method for placed orders, server default when empty")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report file")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	switch loadMode(strings.TrimSpace(mode)) {
	case modeCart, modePlace, modePlaceTrack:
		cfg.mode = loadMode(strings.TrimSpace(mode))
	default:
		return config{}, fmt.Errorf("unsupported mode: %s", mode)
	}

	switch {
	case cfg.duration < 0:
		return config{}, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return config{}, errors.New("total must be > 0 when duration is not set")
	case cfg.totalSet && cfg.total <= 0:
		return config{}, errors.New("total must be > 0 when set explicitly")
	case cfg.concurrency <= 0 || cfg.connections <= 0:
		return config{}, errors.New("concurrency and connections must be > 0")
	case cfg.timeout <= 0:
		return config{}, errors.New("timeout must be > 0")
	case cfg.advanceRate < 0 || cfg.advanceRate > 100:
		return config{}, errors.New("advance-rate must be between 0 and 100")
	case cfg.qty <= 0:
		return config{}, errors.New("qty must be > 0")
	case strings.TrimSpace(cfg.foodItemID) == "":
		return config{}, errors.New("food is required")
	case strings.TrimSpace(cfg.customerTag) == "":
		return config{}, errors.New("customer-tag is required")
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]scenarioClient, 0, cfg.connections)
	for range cfg.connections {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", err)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewClient(conn))
	}

	result := execute(cfg, clients)
	for _, conn := range conns {
		_ = conn.Close()
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// execute гоняет сценарии на пуле воркеров; клиенты распределяются по воркерам по кругу.
func execute(cfg config, clients []scenarioClient) report {
	startedAt := time.Now()
	runner := &scenarioRunner{
		cfg:   cfg,
		runID: fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
		stats: newCollector(),
	}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for worker := range cfg.concurrency {
		client := clients[worker%len(clients)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				_ = runner.run(client, index)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return runner.stats.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := range cfg.total {
			jobs <- i
		}
		return
	}

	deadline := time.NewTimer(cfg.duration)
	defer deadline.Stop()
	for i := 0; !cfg.totalSet || i < cfg.total; i++ {
		select {
		case <-deadline.C:
			return
		case jobs <- i:
		}
	}
}
