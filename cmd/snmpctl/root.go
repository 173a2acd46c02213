// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nxpoll/snmp"
	"github.com/nxpoll/snmp/capture"
	"github.com/nxpoll/snmp/promsnmp"
)

var (
	version = "dev" // Will be set by build flags

	opts struct {
		profile     string
		target      string
		flags       Target
		retries     int
		debug       bool
		metricsAddr string
		pcapOut     string
		mibFile     string
		certFile    string
		keyFile     string
		caFile      string
	}
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "snmpctl",
	Version: version,
	Short:   "SNMP v1/v2c/v3 manager tool",
	Long: `snmpctl sends SNMP requests to agents, receives traps and informs,
and decodes SNMP messages from pcap captures.`,
	Example: `  # Read sysDescr.0 with SNMPv2c
  snmpctl get 192.0.2.1 sysDescr.0 -c public

  # Walk the interfaces table with SNMPv3 authPriv
  snmpctl walk 192.0.2.1 ifTable -v 3 -u poller -a SHA256 -A authpass -x AES -X privpass

  # Use a named target from a profile file
  snmpctl --profile targets.yaml --target core walk system

  # Receive notifications on port 1162
  snmpctl traps udp://0.0.0.0:1162 -c public`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if opts.metricsAddr != "" {
			startMetricsServer(opts.metricsAddr)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.profile, "profile", "", "YAML profile file with named targets and trap users")
	pf.StringVar(&opts.target, "target", "", "named target from the profile")
	pf.StringVarP(&opts.flags.Version, "snmp-version", "v", "", "SNMP version: 1, 2c or 3 (default 2c)")
	pf.StringVarP(&opts.flags.Community, "community", "c", "", "community string for v1/v2c")
	pf.StringVarP(&opts.flags.User, "user", "u", "", "v3 user name, or TSM security name with --transport dtls")
	pf.StringVarP(&opts.flags.Auth, "auth", "a", "", "v3 authentication: MD5, SHA1, SHA224, SHA256, SHA384, SHA512")
	pf.StringVarP(&opts.flags.AuthPassword, "auth-password", "A", "", "v3 authentication password")
	pf.StringVarP(&opts.flags.Priv, "priv", "x", "", "v3 privacy: DES or AES")
	pf.StringVarP(&opts.flags.PrivPassword, "priv-password", "X", "", "v3 privacy password")
	pf.StringVarP(&opts.flags.Context, "context", "n", "", "v3 context name")
	pf.Uint16VarP(&opts.flags.Port, "port", "p", 0, "agent port (default 161, 10161 for dtls)")
	pf.StringVar(&opts.flags.Transport, "transport", "", "udp or dtls")
	pf.DurationVarP(&opts.flags.Timeout, "timeout", "t", 0, "per-attempt timeout (default 1.5s)")
	pf.IntVarP(&opts.retries, "retries", "r", -1, "resends after the first attempt (default 1)")
	pf.BoolVar(&opts.debug, "debug", false, "log protocol details to stderr")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&opts.pcapOut, "pcap", "", "record the session's datagrams to this pcap file")
	pf.StringVar(&opts.mibFile, "mib", "", "MIB tree file (snmpctl mib save) used for names")
	pf.StringVar(&opts.certFile, "cert", "", "DTLS client certificate (PEM)")
	pf.StringVar(&opts.keyFile, "key", "", "DTLS client key (PEM)")
	pf.StringVar(&opts.caFile, "ca", "", "DTLS CA bundle (PEM)")

	rootCmd.AddCommand(newGetCmd(), newGetNextCmd(), newGetBulkCmd(), newSetCmd(),
		newWalkCmd(), newTrapsCmd(), newDecodeCmd(), newMIBCmd())
}

var (
	registry = prometheus.NewRegistry()
	metrics  = promsnmp.New("snmpctl")
)

func startMetricsServer(addr string) {
	if err := metrics.Register(registry); err != nil {
		log.Printf("metrics: %s", err)
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promsnmp.Handler(registry))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %s", err)
		}
	}()
}

func logger() snmp.Logger {
	if opts.debug {
		return snmp.NewLogger(log.New(os.Stderr, "snmp: ", log.Lmicroseconds))
	}
	return snmp.Logger{}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// resolveTarget combines the profile target and the command line. host may
// be empty when --target names one.
func resolveTarget(host string) (Target, *Profile, error) {
	profile, err := loadProfile(opts.profile)
	if err != nil {
		return Target{}, nil, err
	}
	var t Target
	if opts.target != "" {
		var ok bool
		if t, ok = profile.Targets[opts.target]; !ok {
			return Target{}, nil, fmt.Errorf("target %q not in profile", opts.target)
		}
	}
	flags := opts.flags
	flags.Host = host
	if opts.retries >= 0 {
		flags.Retries = &opts.retries
	}
	t = t.merge(flags)
	if t.Host == "" {
		return Target{}, nil, errors.New("no agent address: give HOST or --target")
	}
	if t.Community == "" {
		t.Community = "public"
	}
	return t, profile, nil
}

// openSession builds the transport, security context and session for t.
func openSession(ctx context.Context, t Target) (*snmp.Session, error) {
	sec, err := t.security()
	if err != nil {
		return nil, err
	}

	var transport snmp.Transport
	switch t.Transport {
	case "", "udp":
		transport, err = snmp.NewUDPTransport(t.Host, t.Port)
	case "dtls":
		var cfg *dtls.Config
		if cfg, err = dtlsConfig(false); err == nil {
			transport, err = snmp.NewDTLSTransport(t.Host, t.Port, cfg, 10*time.Second)
		}
	default:
		err = fmt.Errorf("unknown transport %q", t.Transport)
	}
	if err != nil {
		return nil, err
	}

	if opts.pcapOut != "" {
		f, err := os.Create(opts.pcapOut)
		if err != nil {
			transport.Close()
			return nil, err
		}
		w, err := capture.NewWriter(f)
		if err != nil {
			f.Close()
			transport.Close()
			return nil, err
		}
		rec := capture.NewRecorder(transport, w)
		rec.Logger = logger()
		transport = &closingRecorder{Recorder: rec, file: f}
	}

	s := snmp.NewSession(transport, sec)
	s.Context = ctx
	s.Logger = logger()
	if t.Timeout > 0 {
		s.Timeout = t.Timeout
	}
	if t.Retries != nil {
		s.Retries = *t.Retries
	}
	metrics.Instrument(s, t.Host)
	return s, nil
}

// closingRecorder closes the pcap file together with the transport.
type closingRecorder struct {
	*capture.Recorder
	file *os.File
}

func (c *closingRecorder) Close() error {
	err := c.Recorder.Close()
	if ferr := c.file.Close(); err == nil {
		err = ferr
	}
	return err
}

// dtlsConfig loads --cert, --key and --ca. Servers require client
// certificates, clients verify the server against the CA bundle.
func dtlsConfig(server bool) (*dtls.Config, error) {
	if opts.certFile == "" || opts.keyFile == "" {
		return nil, errors.New("dtls needs --cert and --key")
	}
	cert, err := tls.LoadX509KeyPair(opts.certFile, opts.keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}
	cfg := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
	}
	if opts.caFile != "" {
		pem, err := os.ReadFile(opts.caFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", opts.caFile)
		}
		if server {
			cfg.ClientCAs = pool
		} else {
			cfg.RootCAs = pool
		}
	}
	if opts.debug {
		lf := logging.NewDefaultLoggerFactory()
		lf.DefaultLogLevel = logging.LogLevelDebug
		cfg.LoggerFactory = lf
	}
	return cfg, nil
}
