package vss

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Config is the flat set of startup inputs spec.md §6 names, populated
// directly from docopt.Opts by cmd/vssserver — no separate config-file
// format, matching the teacher's own CLI-flags-only configuration story.
type Config struct {
	VSSPath       string
	Address       string
	Port          int
	AdminAddress  string
	CertFile      string
	KeyFile       string
	JWTPubKeyFile string
	Insecure      bool
	LogLevel      LogLevel
	DaemonAddress string
}

// Server owns the tree, authenticator, and subscription engine, and binds
// the WebSocket and admin listeners, per SPEC_FULL.md §2. It is the single
// owned service object the transport receives as a borrowed handle, per
// the "no true globals" design note in spec.md §9.
type Server struct {
	config Config

	tree      *SignalTree
	auth      *Authenticator
	subs      *SubscriptionEngine
	processor *CommandProcessor
	transport *Transport
	admin     *AdminServer

	ready atomic.Bool
}

func NewServer(config Config) *Server {
	return &Server{config: config}
}

// Init loads the VSS document and JWT public key, and wires the four core
// subsystems together. It must succeed before Run is called; a failure
// here is a programmer/operator error per spec.md §7 and should be fatal.
func (self *Server) Init() error {
	document, err := os.ReadFile(self.config.VSSPath)
	if err != nil {
		return fmt.Errorf("failed to read vss document: %w", err)
	}

	self.tree = NewSignalTree()
	if err := self.tree.Init(document); err != nil {
		return fmt.Errorf("failed to load vss document: %w", err)
	}

	self.auth = NewAuthenticator()
	if self.config.JWTPubKeyFile != "" {
		keyPEM, err := os.ReadFile(self.config.JWTPubKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read jwt public key: %w", err)
		}
		key, err := gojwt.ParseRSAPublicKeyFromPEM(keyPEM)
		if err != nil {
			return fmt.Errorf("failed to parse jwt public key: %w", err)
		}
		self.auth.UpdatePubKey(key)
	}

	var daemon *DaemonClient
	if self.config.DaemonAddress != "" {
		daemon = NewDaemonClient(self.config.DaemonAddress, DefaultDaemonTimeout)
	}

	self.subs = NewSubscriptionEngine(nil)
	self.processor = NewCommandProcessor(self.tree, self.auth, self.subs, daemon)
	self.transport = NewTransport(self.processor, self.subs)
	self.subs.sender = self.transport

	self.admin = NewAdminServer(self.config.AdminAddress, self.tree, self.subs, self.transport, func() bool { return self.ready.Load() })

	GlobalLogLevel = self.config.LogLevel
	return nil
}

// Run starts the subscription worker and both listeners, blocking until
// ctx is cancelled. Shutdown drains the listeners and stops the
// subscription worker, discarding any buffered undelivered events, per
// spec.md §5.
func (self *Server) Run(ctx context.Context) error {
	self.subs.Start()
	defer self.subs.Stop()

	adminErrs := make(chan error, 1)
	go func() {
		adminErrs <- self.admin.ListenAndServe()
	}()

	self.ready.Store(true)
	defer self.ready.Store(false)

	addr := fmt.Sprintf("%s:%d", self.config.Address, self.config.Port)
	var certFile, keyFile string
	if !self.config.Insecure {
		certFile, keyFile = self.config.CertFile, self.config.KeyFile
	}

	transportErr := self.transport.ListenAndServe(ctx, addr, certFile, keyFile)

	self.admin.Shutdown(context.Background())

	select {
	case err := <-adminErrs:
		if err != nil {
			Infof("admin server stopped: %s", err)
		}
	default:
	}

	if transportErr != nil && ctx.Err() == nil {
		return transportErr
	}
	return nil
}
