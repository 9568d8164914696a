package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"

	"github.com/vehiclesignal/server/vss"
)

const VssServerVersion = "0.1.0"

func main() {
	usage := `Vehicle signal server.

Usage:
    vssserver [--vss=<path>] [--address=<host>] [--port=<num>]
        [--admin-address=<host:port>]
        [--cert=<pem>] [--key=<pem>]
        [--jwt-pubkey=<pem>]
        [--daemon=<address>]
        [--insecure]
        [--log-level=<level>]

Options:
    -h --help                     Show this screen.
    --version                     Show version.
    --vss=<path>                  Path to the VSS JSON document. [default: vss_rel_4.0.json]
    --address=<host>              Listen address. [default: 0.0.0.0]
    --port=<num>                  Listen port. [default: 8090]
    --admin-address=<host:port>  Admin/health listen address. [default: 127.0.0.1:8091]
    --cert=<pem>                  TLS certificate PEM file.
    --key=<pem>                   TLS private key PEM file.
    --jwt-pubkey=<pem>             JWT verification public key PEM file.
    --daemon=<address>            Permission-daemon base URL for kuksa-authorize.
    --insecure                    Serve the websocket port over plain TCP.
    --log-level=<level>           One of error, info, verbose. [default: info]`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], VssServerVersion)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	config, err := configFromOpts(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	server := vss.NewServer(config)
	if err := server.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	if err := server.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configFromOpts(opts docopt.Opts) (vss.Config, error) {
	vssPath, _ := opts.String("--vss")
	if envPath := os.Getenv("VSS_DOCUMENT"); vssPath == "vss_rel_4.0.json" && envPath != "" {
		vssPath = envPath
	}
	address, _ := opts.String("--address")
	port, _ := opts.Int("--port")
	adminAddress, _ := opts.String("--admin-address")
	cert, _ := opts.String("--cert")
	key, _ := opts.String("--key")
	jwtPubkey, _ := opts.String("--jwt-pubkey")
	daemon, _ := opts.String("--daemon")
	insecure, _ := opts.Bool("--insecure")
	logLevelStr, _ := opts.String("--log-level")

	logLevel, err := vss.ParseLogLevel(logLevelStr)
	if err != nil {
		return vss.Config{}, err
	}

	return vss.Config{
		VSSPath:       vssPath,
		Address:       address,
		Port:          port,
		AdminAddress:  adminAddress,
		CertFile:      cert,
		KeyFile:       key,
		JWTPubKeyFile: jwtPubkey,
		Insecure:      insecure,
		LogLevel:      logLevel,
		DaemonAddress: daemon,
	}, nil
}
