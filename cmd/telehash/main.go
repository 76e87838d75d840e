// Command telehash runs a standalone Telehash switch: it loads (or
// generates) an identity, starts the UDP reactor, and optionally seeds a
// line to a peer given on the command line.
//
// Usage:
//
//	telehash [flags]
//
// Flags:
//
//	-config   Path to a YAML switch configuration file (default: "telehash.yaml")
//	-seed     name@host:port of a peer to open a line to at startup, where
//	          name.pub in the identity directory holds the peer's public key
//	-version  Print version and exit
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/telehash/telehash/pkg/telehash/config"
	tcrypto "github.com/telehash/telehash/pkg/telehash/crypto"
	"github.com/telehash/telehash/pkg/telehash/identity"
	"github.com/telehash/telehash/pkg/telehash/log"
	"github.com/telehash/telehash/pkg/telehash/metrics"
	"github.com/telehash/telehash/pkg/telehash/openguard"
	tline "github.com/telehash/telehash/pkg/telehash/line"
	"github.com/telehash/telehash/pkg/telehash/switchd"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

// run is the actual entry point, returning an exit code, so the binary can
// be exercised without calling os.Exit directly.
func run() int {
	configPath := flag.String("config", "telehash.yaml", "path to a YAML switch configuration file")
	seed := flag.String("seed", "", "name@host:port of a peer to open a line to at startup (name.pub in the identity directory holds its public key)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("telehash %s (commit %s)\n", version, commit)
		return 0
	}

	logger := log.Default()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "path", *configPath, "err", err)
		return 1
	}

	provider := tcrypto.Std{}
	store := &identity.FileStore{Dir: cfg.IdentityDir, Passphrase: cfg.Passphrase, Provider: provider}
	self, err := store.Read(cfg.IdentityName)
	if err != nil {
		if err != identity.ErrNotFound {
			logger.Error("read identity", "err", err)
			return 1
		}
		self, err = identity.Generate(provider)
		if err != nil {
			logger.Error("generate identity", "err", err)
			return 1
		}
		if err := store.Write(self, cfg.IdentityName); err != nil {
			logger.Error("persist identity", "err", err)
			return 1
		}
	}
	logger.Info("identity loaded", "hashname", self.Hashname.String())

	var guard openguard.Ledger = openguard.NewMemory()
	if cfg.ReplayLedgerPath != "" {
		ldb, err := openguard.OpenLevelDB(cfg.ReplayLedgerPath)
		if err != nil {
			logger.Error("open replay ledger", "err", err)
			return 1
		}
		defer ldb.Close()
		guard = ldb
	}

	var metricsSet *metrics.Set
	if cfg.MetricsEnabled {
		metricsSet = metrics.New()
	}

	sw, err := switchd.New(switchd.Options{
		Config:   cfg,
		Identity: self,
		Provider: provider,
		Guard:    guard,
		Metrics:  metricsSet,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("construct switch", "err", err)
		return 1
	}
	registerSeekHandler(sw)

	if err := sw.Start(); err != nil {
		logger.Error("start switch", "err", err)
		return 1
	}
	logger.Info("switch started", "addr", sw.LocalAddr())

	if *seed != "" {
		node, err := parsePeer(provider, cfg.IdentityDir, *seed)
		if err != nil {
			logger.Error("parse -seed", "value", *seed, "err", err)
		} else if err := sw.OpenLine(node, switchd.CompletionFuncs{
			OnCompleted: func(l *tline.Line) {
				logger.Info("line established", "remote", l.Remote.Hashname(provider).String())
			},
			OnFailed: func(err error) {
				logger.Warn("open to seed failed", "peer", *seed, "err", err)
			},
		}); err != nil {
			logger.Error("open line to seed", "err", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	sw.Stop()
	sw.Wait()
	return 0
}

// parsePeer parses "name@host:port", where name is the basename under which
// the peer's public key was saved out of band (identityDir/name.pub). Telehash has no certificate authority, so a
// peer's public key must already be known locally before a line can be
// addressed to it.
func parsePeer(p tcrypto.Provider, identityDir, s string) (*identity.Node, error) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return nil, fmt.Errorf("expected name@host:port, got %q", s)
	}
	name, addrPart := s[:at], s[at+1:]

	udpAddr, err := net.ResolveUDPAddr("udp", addrPart)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addrPart, err)
	}

	store := &identity.FileStore{Dir: identityDir, Provider: p}
	pub, err := store.ReadPublicKey(name)
	if err != nil {
		return nil, fmt.Errorf("load known public key for %q: %w", name, err)
	}
	return identity.NewNode(p, pub, udpAddr), nil
}
