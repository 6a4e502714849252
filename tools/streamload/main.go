// Command streamload holds many account stream connections open while
// posting snapshot deliveries to a webhook token, and reports how many
// account events reached the readers.
package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type options struct {
	baseURL     string
	apiKey      string
	token       string
	connections int
	duration    time.Duration
	rampUp      time.Duration
	postRate    float64
}

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	events      atomic.Int64
	posted      atomic.Int64
	postErrs    atomic.Int64
}

func main() {
	var o options
	cmd := &cobra.Command{
		Use:          "streamload",
		Short:        "Load the account stream and the webhook together",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVar(&o.baseURL, "url", "http://localhost:5000", "server base URL")
	cmd.Flags().StringVar(&o.apiKey, "key", "", "X-API-Key for the stream")
	cmd.Flags().StringVar(&o.token, "token", "", "webhook token; empty only reads")
	cmd.Flags().IntVar(&o.connections, "conns", 1000, "concurrent stream connections")
	cmd.Flags().DurationVar(&o.duration, "dur", time.Minute, "test duration (0 until interrupted)")
	cmd.Flags().DurationVar(&o.rampUp, "ramp", 0, "spread connection starts across this window")
	cmd.Flags().Float64Var(&o.postRate, "rate", 2, "webhook deliveries per second")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	if o.connections <= 0 {
		return fmt.Errorf("invalid conns: %d", o.connections)
	}
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if o.rampUp == 0 && o.connections > 100 {
		o.rampUp = max(time.Duration(o.connections/500)*time.Second, time.Second)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if o.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.duration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     o.connections + 100,
			MaxIdleConns:        o.connections + 100,
			MaxIdleConnsPerHost: o.connections + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	logger.Info("starting",
		zap.String("url", o.baseURL),
		zap.Int("conns", o.connections),
		zap.Duration("ramp", o.rampUp),
		zap.Float64("rate", o.postRate))

	var c counters
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	var interval time.Duration
	if o.rampUp > 0 {
		interval = o.rampUp / time.Duration(o.connections)
	}
	g.Go(func() error {
		for i := 0; i < o.connections; i++ {
			if i > 0 && interval > 0 {
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(interval):
				}
			}
			g.Go(func() error {
				read(gctx, client, o, &c)
				return nil
			})
		}
		return nil
	})

	if o.token != "" {
		g.Go(func() error {
			post(gctx, client, o, &c)
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logger.Info("status", fields(&c, time.Since(start))...)
			}
		}
	})

	_ = g.Wait()

	elapsed := max(time.Since(start), time.Millisecond)
	fmt.Printf("done: %s events/s=%.2f\n", summary(&c, elapsed), float64(c.events.Load())/elapsed.Seconds())
	return nil
}

func read(ctx context.Context, client *http.Client, o options, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/stream/accounts", nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if o.apiKey != "" {
		req.Header.Set("X-API-Key", o.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.connectErrs.Add(1)
		return
	}
	c.connected.Add(1)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				c.streamErrs.Add(1)
			}
			return
		}
		if strings.HasPrefix(line, "event: account") {
			c.events.Add(1)
		}
	}
}

func post(ctx context.Context, client *http.Client, o options, c *counters) {
	limiter := rate.NewLimiter(rate.Limit(o.postRate), 1)
	url := o.baseURL + "/api/webhook/mt5/" + o.token
	balance := 10000.0

	for limiter.Wait(ctx) == nil {
		balance += rand.Float64()*20 - 10
		body := fmt.Sprintf(`{"balance":%.2f,"equity":%.2f}`, balance, balance-rand.Float64()*5)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
		if err != nil {
			c.postErrs.Add(1)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			c.postErrs.Add(1)
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			c.postErrs.Add(1)
			continue
		}
		c.posted.Add(1)
	}
}

func fields(c *counters, elapsed time.Duration) []zap.Field {
	return []zap.Field{
		zap.Int64("connected", c.connected.Load()),
		zap.Int64("connect_errs", c.connectErrs.Load()),
		zap.Int64("stream_errs", c.streamErrs.Load()),
		zap.Int64("events", c.events.Load()),
		zap.Int64("posted", c.posted.Load()),
		zap.Int64("post_errs", c.postErrs.Load()),
		zap.Duration("elapsed", elapsed.Truncate(time.Second)),
	}
}

func summary(c *counters, elapsed time.Duration) string {
	return fmt.Sprintf("connected=%d connect_errs=%d stream_errs=%d events=%d posted=%d post_errs=%d elapsed=%s",
		c.connected.Load(), c.connectErrs.Load(), c.streamErrs.Load(), c.events.Load(),
		c.posted.Load(), c.postErrs.Load(), elapsed.Truncate(time.Millisecond))
}
