package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/SirClappington/orderbots/internal/domain"
	"github.com/SirClappington/orderbots/internal/engine"
	"github.com/SirClappington/orderbots/internal/logging"
)

type options struct {
	bots       int
	orders     []string
	removeBots int
	duration   time.Duration
	timeout    time.Duration
	output     string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Run orders through a pool of cooking bots",
		Long: "console starts a pool of bots, queues the given orders, logs every\n" +
			"state change and prints the final state once all work has settled.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLoggerWithWriter(logging.ParseLevel(o.logLevel), o.logFormat, cmd.ErrOrStderr())
			defer logger.Sync() //nolint:errcheck
			return run(cmd.Context(), cmd.OutOrStdout(), logger, o)
		},
	}

	f := cmd.Flags()
	f.IntVar(&o.bots, "bots", 3, "Number of bots to start with")
	f.StringSliceVar(&o.orders, "orders", []string{"NORMAL", "VIP", "NORMAL"}, "Order classes to queue, in order (VIP or NORMAL)")
	f.IntVar(&o.removeBots, "remove-bots", 0, "Number of bots to remove after queueing the orders")
	f.DurationVar(&o.duration, "duration", engine.DefaultProcessDuration, "Time each bot spends on one order")
	f.DurationVar(&o.timeout, "timeout", 45*time.Second, "How long to wait for all orders to complete")
	f.StringVarP(&o.output, "output", "o", "json", "Final state format (json, yaml)")
	f.StringVar(&o.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	f.StringVar(&o.logFormat, "log-format", "text", "Log format (text, json)")

	return cmd
}

// console serializes lines written by listeners and by the command itself.
type console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time

	completed int
	progress  chan struct{}
}

func newConsole(out io.Writer) *console {
	return &console{out: out, now: time.Now, progress: make(chan struct{}, 1)}
}

func (c *console) logf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] %s\n", c.now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

func (c *console) handle(evt engine.Event) {
	switch evt.Kind {
	case engine.WorkerAdded:
		c.logf("Bot %d added (IDLE)", evt.Worker.ID)
	case engine.WorkerRemoved:
		c.logf("Bot %d removed", evt.Worker.ID)
	case engine.JobAdded:
		c.logf("Order #%d (%s) added to PENDING", evt.Job.ID, evt.Job.Class)
	case engine.JobStarted:
		c.logf("Order #%d (%s) picked up by bot %d", evt.Job.ID, evt.Job.Class, evt.Worker.ID)
	case engine.JobCompleted:
		c.logf("Order #%d (%s) completed", evt.Job.ID, evt.Job.Class)
		c.mu.Lock()
		c.completed++
		c.mu.Unlock()
		select {
		case c.progress <- struct{}{}:
		default:
		}
	case engine.JobRequeued:
		c.logf("Order #%d re-queued to PENDING after bot removal", evt.Job.ID)
	}
}

// waitLogged blocks until n completions have been logged. Notifications
// arrive in order, so every earlier line has been written by then.
func (c *console) waitLogged(ctx context.Context, n int) {
	for {
		c.mu.Lock()
		done := c.completed >= n
		c.mu.Unlock()
		if done {
			return
		}
		select {
		case <-c.progress:
		case <-ctx.Done():
			return
		}
	}
}

func run(ctx context.Context, out io.Writer, logger *zap.Logger, o options) error {
	format := strings.ToLower(o.output)
	if format != "json" && format != "yaml" {
		return errors.Errorf("unknown output format %q (want json or yaml)", o.output)
	}
	if o.bots < 0 || o.removeBots < 0 {
		return errors.New("bot counts must not be negative")
	}

	c := newConsole(out)
	c.logf("Starting order controller CLI...")

	eng := engine.New(engine.WithProcessDuration(o.duration), engine.WithLogger(logger))
	defer eng.Close()
	unsub := eng.SubscribeAll(c.handle)
	defer unsub()

	for i := 0; i < o.bots; i++ {
		eng.AddWorker()
	}
	for _, class := range o.orders {
		eng.AddJob(domain.ParseClass(class))
	}
	for i := 0; i < o.removeBots; i++ {
		if _, ok := eng.RemoveWorker(); !ok {
			break
		}
	}

	settleErr := eng.WaitUntilSettled(ctx, o.timeout)
	if settleErr != nil && !errors.Is(settleErr, engine.ErrSettleTimeout) {
		return settleErr
	}

	snap := eng.Snapshot()
	logCtx, cancel := context.WithTimeout(ctx, time.Second)
	c.waitLogged(logCtx, len(snap.Completed))
	cancel()

	state, err := render(snap, format)
	if err != nil {
		return err
	}
	c.logf("Final state => %s", state)
	return settleErr
}

func render(s engine.Snapshot, format string) (string, error) {
	if format == "yaml" {
		b, err := yaml.Marshal(s)
		if err != nil {
			return "", errors.Wrap(err, "render yaml")
		}
		return "\n" + strings.TrimRight(string(b), "\n"), nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "render json")
	}
	return string(b), nil
}
