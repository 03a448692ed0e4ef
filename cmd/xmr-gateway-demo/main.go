// xmr-gateway-demo is a standalone CLI that drives a Gateway against a
// real monerod, for manual testing and as a usage example.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/xmrgateway/gateway/gateway"
	"github.com/xmrgateway/gateway/internal/xlog"
	"github.com/xmrgateway/gateway/invoice"
)

const clientIdentifier = "xmr-gateway-demo"

var app = &cli.App{
	Name:    clientIdentifier,
	Usage:   "run a non-custodial Monero payment gateway against a monerod instance",
	Version: "1.0.0",
}

var (
	viewKeyFlag = &cli.StringFlag{
		Name:     "view-key",
		Usage:    "private view key, hex-encoded",
		Required: true,
		EnvVars:  []string{"XMR_GATEWAY_VIEW_KEY"},
	}
	addressFlag = &cli.StringFlag{
		Name:     "address",
		Usage:    "wallet's primary address",
		Required: true,
		EnvVars:  []string{"XMR_GATEWAY_ADDRESS"},
	}
	daemonURLFlag = &cli.StringFlag{
		Name:    "daemon-url",
		Usage:   "monerod RPC endpoint",
		EnvVars: []string{"XMR_GATEWAY_DAEMON_URL"},
	}
	dbPathFlag = &cli.StringFlag{
		Name:  "db-path",
		Usage: "embedded storage directory",
		Value: "xmr-gateway-db",
	}
	scanIntervalFlag = &cli.DurationFlag{
		Name:  "scan-interval",
		Usage: "minimum delay between scan ticks",
		Value: time.Second,
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "address to serve Prometheus metrics on (empty disables metrics)",
	}
)

func init() {
	app.Flags = []cli.Flag{viewKeyFlag, addressFlag, daemonURLFlag, dbPathFlag, scanIntervalFlag, metricsAddrFlag}
	app.Commands = []*cli.Command{runCommand, newInvoiceCommand, watchCommand}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildGateway(c *cli.Context) (*gateway.Gateway, error) {
	b := gateway.NewBuilder(c.String(viewKeyFlag.Name), c.String(addressFlag.Name)).
		DBPath(c.String(dbPathFlag.Name)).
		ScanInterval(c.Duration(scanIntervalFlag.Name))

	if url := c.String(daemonURLFlag.Name); url != "" {
		b = b.DaemonURL(url)
	}

	if addr := c.String(metricsAddrFlag.Name); addr != "" {
		reg := prometheus.NewRegistry()
		b = b.Metrics(reg)
		go serveMetrics(addr, reg)
	}

	return b.Build()
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	xlog.Named("demo").Infow("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		xlog.Named("demo").Errorw("metrics server exited", "error", err)
	}
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "start scanning and block until interrupted",
	Action: func(c *cli.Context) error {
		g, err := buildGateway(c)
		if err != nil {
			return err
		}
		defer g.Close()

		ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := g.Run(ctx); err != nil {
			return fmt.Errorf("start scanning: %w", err)
		}
		xlog.Named("demo").Infow("gateway running", "daemon", g.DaemonURL())

		<-ctx.Done()
		xlog.Named("demo").Info("shutting down")
		return g.Stop()
	},
}

var (
	amountFlag  = &cli.Uint64Flag{Name: "amount", Usage: "requested amount, in piconeros", Required: true}
	confsFlag   = &cli.Uint64Flag{Name: "confirmations", Usage: "confirmations required", Value: 10}
	expiresFlag = &cli.Uint64Flag{Name: "expires-in", Usage: "blocks until expiration", Value: 720}
	descFlag    = &cli.StringFlag{Name: "description", Usage: "opaque order description"}
)

var newInvoiceCommand = &cli.Command{
	Name:  "new-invoice",
	Usage: "issue a new invoice and print its subaddress",
	Flags: []cli.Flag{amountFlag, confsFlag, expiresFlag, descFlag},
	Action: func(c *cli.Context) error {
		g, err := buildGateway(c)
		if err != nil {
			return err
		}
		defer g.Close()

		id, err := g.NewInvoice(c.Context, c.Uint64(amountFlag.Name), c.Uint64(confsFlag.Name), c.Uint64(expiresFlag.Name), []byte(c.String(descFlag.Name)))
		if err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}

		inv, _, err := g.GetInvoice(c.Context, id)
		if err != nil {
			return fmt.Errorf("fetch created invoice: %w", err)
		}

		fmt.Printf("invoice: %s\naddress: %s\n", id.MarshalBase64(), inv.Address)
		return nil
	},
}

var watchCommand = &cli.Command{
	Name:      "watch",
	Usage:     "subscribe to an invoice's updates and print them as they arrive",
	ArgsUsage: "<invoice-id>  (as printed by new-invoice)",
	Action: func(c *cli.Context) error {
		if c.Args().Len() != 1 {
			return fmt.Errorf("watch requires exactly one invoice identifier argument")
		}
		id, err := invoice.ParseIDBase64(c.Args().First())
		if err != nil {
			return fmt.Errorf("parse invoice id: %w", err)
		}

		g, err := buildGateway(c)
		if err != nil {
			return err
		}
		defer g.Close()

		sub, ok := g.Subscribe(id)
		if !ok {
			return fmt.Errorf("invoice %s is not tracked", id.String())
		}
		defer sub.Close()

		ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := g.Run(ctx); err != nil {
			return fmt.Errorf("start scanning: %w", err)
		}
		defer g.Stop() //nolint:errcheck

		for {
			inv, ok, err := sub.Recv(ctx)
			if err != nil {
				return nil
			}
			if !ok {
				fmt.Println("invoice removed")
				return nil
			}
			fmt.Println(inv.String())
		}
	},
}

