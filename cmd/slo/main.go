// Command slo runs the Sovereign Lightning Oracle: the attestation server,
// the two payment proxies, and the DLC sub-oracle.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/myceliasignal/slo/dlc"
	"github.com/myceliasignal/slo/l402"
	"github.com/myceliasignal/slo/oracle"
	"github.com/myceliasignal/slo/sho"
	"github.com/myceliasignal/slo/signer"
)

func main() {
	app := cli.NewApp()
	app.Name = "slo"
	app.Usage = "payment-gated price attestation oracle"
	app.Version = oracle.Version
	app.Commands = []cli.Command{
		oracleCommand,
		l402Command,
		x402Command,
		dlcCommand,
		crossCertifyCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var keysDirFlag = cli.StringFlag{
	Name:   "keys-dir",
	Value:  "keys",
	Usage:  "directory holding the oracle signing keys",
	EnvVar: "SLO_KEYS_DIR",
}

var oracleCommand = cli.Command{
	Name:  "oracle",
	Usage: "run the attestation HTTP server",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "listen", Value: ":9100", Usage: "listen address"},
		keysDirFlag,
	},
	Action: func(c *cli.Context) error {
		keys, err := signer.Load(c.String("keys-dir"))
		if err != nil {
			return err
		}
		srv := oracle.NewServer(keys)
		slog.Info("oracle server listening", "addr", c.String("listen"))
		return http.ListenAndServe(c.String("listen"), srv.Handler())
	},
}

var l402Command = cli.Command{
	Name:  "l402-proxy",
	Usage: "run the Lightning 402 payment proxy",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "listen", Value: ":8080", Usage: "listen address"},
		cli.StringFlag{Name: "backend", Value: "http://127.0.0.1:9100", Usage: "oracle backend URL"},
		cli.StringFlag{Name: "lnd-host", Usage: "Lightning node REST host (https://host:port)", EnvVar: "LND_REST_HOST"},
		cli.StringFlag{Name: "lnd-macaroon", Usage: "path to the node invoice macaroon", EnvVar: "LND_MACAROON_PATH"},
		cli.StringFlag{Name: "lnd-tls-cert", Usage: "path to the node TLS certificate", EnvVar: "LND_TLS_CERT_PATH"},
		cli.StringFlag{Name: "root-key", Value: "creds/l402_root_key.bin", Usage: "macaroon root key file", EnvVar: "L402_ROOT_KEY_PATH"},
	},
	Action: func(c *cli.Context) error {
		if c.String("lnd-host") == "" || c.String("lnd-macaroon") == "" {
			return fmt.Errorf("l402-proxy requires --lnd-host and --lnd-macaroon")
		}
		invoices, err := l402.NewInvoiceClient(c.String("lnd-host"), c.String("lnd-macaroon"), c.String("lnd-tls-cert"))
		if err != nil {
			return err
		}
		minter, err := l402.NewMinter(c.String("root-key"), "slo")
		if err != nil {
			return err
		}
		proxy := l402.NewProxy(invoices, minter, c.String("backend"))
		slog.Info("l402 proxy listening", "addr", c.String("listen"))
		return http.ListenAndServe(c.String("listen"), proxy.Handler())
	},
}

var x402Command = cli.Command{
	Name:  "x402-proxy",
	Usage: "run the USDC x402 payment proxy",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "listen", Value: ":8402", Usage: "listen address"},
		cli.StringFlag{Name: "backend", Value: "http://127.0.0.1:9100", Usage: "oracle backend URL"},
		keysDirFlag,
		cli.StringFlag{Name: "payment-address", Usage: "USDC receiving address", EnvVar: "SHO_PAYMENT_ADDRESS"},
		cli.StringFlag{Name: "rpc-url", Value: "https://mainnet.base.org", Usage: "chain JSON-RPC endpoint", EnvVar: "BASE_RPC_URL"},
		cli.StringFlag{Name: "usdc-contract", Value: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Usage: "USDC contract address", EnvVar: "USDC_CONTRACT"},
		cli.StringFlag{Name: "network", Value: "base", Usage: "chain identifier in payment requirements"},
		cli.StringFlag{Name: "public-url", Value: "https://api.myceliasignal.com", Usage: "external URL prefix for resource fields"},
		cli.Float64Flag{Name: "depeg-threshold", Value: sho.DefaultDepegThreshold, Usage: "allowed USDC/USD deviation", EnvVar: "DEPEG_THRESHOLD"},
		cli.StringFlag{Name: "facilitator-url", Value: "https://api.cdp.coinbase.com/platform/v2/x402", Usage: "x402 facilitator base URL", EnvVar: "X402_FACILITATOR_URL"},
		cli.StringFlag{Name: "facilitator-key-id", Usage: "facilitator API key id", EnvVar: "CDP_API_KEY_ID"},
		cli.StringFlag{Name: "facilitator-secret", Usage: "facilitator API key secret", EnvVar: "CDP_API_KEY_SECRET"},
	},
	Action: func(c *cli.Context) error {
		if c.String("payment-address") == "" {
			return fmt.Errorf("x402-proxy requires --payment-address (SHO_PAYMENT_ADDRESS)")
		}
		if c.String("facilitator-key-id") == "" || c.String("facilitator-secret") == "" {
			return fmt.Errorf("x402-proxy requires facilitator credentials (CDP_API_KEY_ID, CDP_API_KEY_SECRET)")
		}
		keys, err := signer.Load(c.String("keys-dir"))
		if err != nil {
			return err
		}
		auth, err := sho.NewCDPAuth(c.String("facilitator-key-id"), c.String("facilitator-secret"))
		if err != nil {
			return err
		}
		facilitator := sho.NewFacilitatorClient(c.String("facilitator-url"), auth)
		chain, err := sho.NewChainClient(c.String("rpc-url"), c.String("usdc-contract"), c.String("payment-address"))
		if err != nil {
			return err
		}

		proxy := sho.NewProxy(sho.Config{
			Network:        c.String("network"),
			USDCContract:   c.String("usdc-contract"),
			PaymentAddress: c.String("payment-address"),
			PublicBaseURL:  c.String("public-url"),
			BackendURL:     c.String("backend"),
		}, keys, facilitator, chain, c.Float64("depeg-threshold"))

		go proxy.Pending().Run(context.Background())

		slog.Info("x402 proxy listening",
			"addr", c.String("listen"),
			"payment_address", c.String("payment-address"),
			"rpc", c.String("rpc-url"))
		return http.ListenAndServe(c.String("listen"), proxy.Handler())
	},
}

var dlcDataDirFlag = cli.StringFlag{
	Name:   "data-dir",
	Value:  "dlc/data",
	Usage:  "directory holding announcements, attestations and nonces",
	EnvVar: "SLO_DLC_DATA_DIR",
}

var dlcCommand = cli.Command{
	Name:  "dlc",
	Usage: "DLC sub-oracle",
	Subcommands: []cli.Command{
		{
			Name:  "schedule",
			Usage: "run the hourly announcement and attestation loop",
			Flags: []cli.Flag{
				keysDirFlag,
				dlcDataDirFlag,
				cli.BoolFlag{Name: "once", Usage: "run one iteration and exit"},
			},
			Action: func(c *cli.Context) error {
				attestor, err := loadAttestor(c)
				if err != nil {
					return err
				}
				scheduler := dlc.NewScheduler(attestor)
				if c.Bool("once") {
					return scheduler.RunOnce(context.Background())
				}
				return scheduler.Run(context.Background())
			},
		},
		{
			Name:  "serve",
			Usage: "run the DLC HTTP API",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "listen", Value: ":9104", Usage: "listen address"},
				keysDirFlag,
				dlcDataDirFlag,
			},
			Action: func(c *cli.Context) error {
				attestor, err := loadAttestor(c)
				if err != nil {
					return err
				}
				srv := dlc.NewServer(attestor)
				slog.Info("dlc server listening", "addr", c.String("listen"))
				return http.ListenAndServe(c.String("listen"), srv.Handler())
			},
		},
	},
}

func loadAttestor(c *cli.Context) (*dlc.Attestor, error) {
	keys, err := signer.Load(c.String("keys-dir"))
	if err != nil {
		return nil, err
	}
	store, err := dlc.NewStore(c.String("data-dir"))
	if err != nil {
		return nil, err
	}
	return dlc.NewAttestor(keys.SecpPrivateKey(), store), nil
}

var crossCertifyCommand = cli.Command{
	Name:  "cross-certify",
	Usage: "emit the dual-key cross-certification artifact",
	Flags: []cli.Flag{
		keysDirFlag,
		cli.StringFlag{Name: "oracle-id", Value: "slo.myceliasignal.com", Usage: "oracle identifier bound into the statement"},
		cli.StringFlag{Name: "out", Usage: "output file (default stdout)"},
	},
	Action: func(c *cli.Context) error {
		keys, err := signer.Load(c.String("keys-dir"))
		if err != nil {
			return err
		}
		cert := keys.CrossCertify(c.String("oracle-id"), time.Now())
		raw, err := json.MarshalIndent(cert, "", "  ")
		if err != nil {
			return err
		}
		if out := c.String("out"); out != "" {
			return os.WriteFile(out, raw, 0o644)
		}
		fmt.Println(string(raw))
		return nil
	},
}
