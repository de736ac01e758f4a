// Нагрузочный прогон HTTP API заказов: создание, отмена и повтор по Idempotency-Key.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateCancel loadMode = "create-cancel"
	modeCreateReplay loadMode = "create-replay"
)

var loadModes = []loadMode{modeCreate, modeCreateCancel, modeCreateReplay}

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	productID   string
	quantity    int
	userTag     string
	outputPath  string
}

// wants сообщает, нужно ли запускать сценарий с номером i. В режиме по времени
// -total ограничивает прогон только если задан явно.
func (c config) wants(i int) bool {
	if c.duration <= 0 || c.totalSet {
		return i < c.total
	}
	return true
}

func (c config) target() string {
	switch {
	case c.duration <= 0:
		return "count:" + strconv.Itoa(c.total)
	case c.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", c.duration, c.total)
	default:
		return "duration:" + c.duration.String()
	}
}

// cancels решает по номеру сценария, отменять ли заказ в режиме create.
func (c config) cancels(i int) bool {
	return c.mode == modeCreateCancel || i%100 < c.cancelRate
}

func parseConfig(args []string, output io.Writer) (config, error) {
	var cfg config
	var mode string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "order service HTTP base URL")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to run; with -duration only a cap when set explicitly")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "scenarios in flight")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(modeCreate), "create | create-cancel | create-replay")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of create scenarios followed by cancel")
	fs.StringVar(&cfg.productID, "product", "SKU-1", "product id to order")
	fs.IntVar(&cfg.quantity, "qty", 1, "quantity per order")
	fs.StringVar(&cfg.userTag, "user-tag", "load", "user id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "write JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.totalSet = cfg.totalSet || f.Name == "total" })

	cfg.mode = loadMode(strings.TrimSpace(mode))
	if !slices.Contains(loadModes, cfg.mode) {
		return cfg, fmt.Errorf("unsupported mode: %s", mode)
	}
	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")
	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case c.addr == "":
		return errors.New("addr is required")
	case c.duration < 0:
		return errors.New("duration must be >= 0")
	case c.duration == 0 && c.total <= 0:
		return errors.New("total must be > 0 without duration")
	case c.totalSet && c.total <= 0:
		return errors.New("total must be > 0 when explicitly set")
	case c.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case c.timeout <= 0:
		return errors.New("timeout must be > 0")
	case c.quantity <= 0 || c.quantity > math.MaxInt32:
		return errors.New("qty must be > 0")
	case c.cancelRate < 0 || c.cancelRate > 100:
		return errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(c.productID) == "":
		return errors.New("product is required")
	case strings.TrimSpace(c.userTag) == "":
		return errors.New("user-tag is required")
	}
	return nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	result := run(context.Background(), cfg, newHTTPClient(cfg))
	printReport(os.Stdout, cfg, result)

	if cfg.outputPath != "" {
		if err := writeReport(cfg.outputPath, result); err != nil {
			log.WithError(err).Fatal("write report")
		}
	}
	if result.Scenarios.Failed > 0 {
		os.Exit(1)
	}
}

// run держит в полёте не больше cfg.concurrency сценариев, пока cfg.wants разрешает
// новые, и отдаёт отчёт после завершения всех запущенных.
func run(ctx context.Context, cfg config, client *http.Client) report {
	startedAt := time.Now()
	runID := strconv.FormatInt(startedAt.UnixNano(), 36) + "-" + strconv.Itoa(os.Getpid())
	stats := newRecorder()
	api := &orderAPI{base: cfg.addr, client: client, timeout: cfg.timeout, stats: stats}

	if cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(cfg.concurrency)
	for i := 0; cfg.wants(i) && ctx.Err() == nil; i++ {
		g.Go(func() error {
			started := time.Now()
			err := scenario(api, cfg, runID, i)
			outcome := "ok"
			if err != nil {
				outcome = "failed"
			}
			stats.observe(scenarioCall, time.Since(started), outcome, err == nil)
			return nil
		})
	}
	_ = g.Wait()

	return stats.snapshot(startedAt, time.Since(startedAt))
}

// scenario создаёт заказ и, в зависимости от режима, отменяет его или повторяет
// создание с тем же ключом, ожидая тот же id.
func scenario(api *orderAPI, cfg config, runID string, i int) error {
	body := createOrderBody{
		UserID:            fmt.Sprintf("%s-%s-%d", cfg.userTag, runID, i),
		ShippingAddressID: "addr-load",
		Items:             []orderLine{{ProductID: cfg.productID, Quantity: int32(cfg.quantity)}},
	}
	key := fmt.Sprintf("lt-%s-%d", runID, i)

	orderID, replayed, err := api.create("CreateOrder", key, body)
	if err != nil {
		return err
	}
	if replayed {
		return fmt.Errorf("order %s: first create reported as replay", orderID)
	}

	if cfg.mode == modeCreateReplay {
		again, replayed, err := api.create("ReplayCreateOrder", key, body)
		if err != nil {
			return err
		}
		if !replayed || again != orderID {
			return fmt.Errorf("order %s: replay returned %s (replayed=%t)", orderID, again, replayed)
		}
		return nil
	}
	if cfg.cancels(i) {
		return api.cancel(orderID)
	}
	return nil
}

func writeReport(path string, result report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must stay inside the working directory: %s", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	// #nosec G306 -- локальный отчёт нагрузочного прогона
	return os.WriteFile(clean, append(data, '\n'), 0o644)
}

func printReport(out io.Writer, cfg config, r report) {
	s := r.Scenarios
	fmt.Fprintf(out, "loadtest %s %s: scenarios=%d ok=%d failed=%d error_rate=%.4f\n",
		cfg.mode, cfg.target(), s.Calls, s.OK, s.Failed, s.ErrorRate)
	fmt.Fprintf(out, "elapsed=%.2fs rps=%.2f\n", r.Seconds, r.RPS)
	printLatency(out, "scenario", s)

	names := make([]string, 0, len(r.Calls))
	for name := range r.Calls {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		printLatency(out, name, r.Calls[name])
	}
}

func printLatency(out io.Writer, name string, s callSummary) {
	l := s.LatencyMs
	fmt.Fprintf(out, "  %-18s calls=%-6d failed=%-5d p50=%.2fms p95=%.2fms p99=%.2fms max=%.2fms\n",
		name, s.Calls, s.Failed, l.P50, l.P95, l.P99, l.Max)
}
