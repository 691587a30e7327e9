package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/config"
	"github.com/cuemby/formation/pkg/dns"
	"github.com/cuemby/formation/pkg/events"
	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/metrics"
	"github.com/cuemby/formation/pkg/overlay"
	"github.com/cuemby/formation/pkg/overlayapi"
	"github.com/cuemby/formation/pkg/queue"
	"github.com/cuemby/formation/pkg/queueapi"
	"github.com/cuemby/formation/pkg/state"
	"github.com/cuemby/formation/pkg/stateapi"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "formationd",
	Short: "formationd - the Formation node daemon",
	Long: `formationd hosts the replicated state store, message queue, WireGuard
mesh, and authoritative DNS resolver as goroutine-managed subsystems under
one process, all sharing one root context and shutting down together on
SIGINT/SIGTERM.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"formationd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	config.RegisterFlags(rootCmd.Flags())
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("formationd")

	nodeKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SecretKeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("parsing secret_key: %w", err)
	}
	nodeAddr := auth.AddressFromPrivate(nodeKey)
	logger.Info().Str("address", string(nodeAddr)).Msg("node identity loaded")

	wgKey, err := loadOrCreateWGKey(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading wireguard key: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	store, err := state.New(cfg.DataDir, nodeKey, broker)
	if err != nil {
		logger.Error().Err(err).Msg("opening state store failed")
		os.Exit(2)
	}
	defer store.Close()

	queueDB, err := bolt.Open(filepath.Join(cfg.DataDir, "queue.db"), 0600, nil)
	if err != nil {
		logger.Error().Err(err).Msg("opening queue database failed")
		os.Exit(2)
	}
	defer queueDB.Close()
	queueStore := queue.NewStore(queueDB, nodeKey, auth.CRDTVerifier{})

	broadcaster := queue.NewBroadcaster(store, 4)
	store.SetBroadcaster(broadcaster)

	device, err := overlay.NewDevice()
	if err != nil {
		return fmt.Errorf("opening wireguard device: %w", err)
	}
	defer device.Close()
	if err := device.Configure(wgKey, cfg.ListenPort); err != nil {
		return fmt.Errorf("configuring formnet interface: %w", err)
	}

	externalEndpoint := fmt.Sprintf("%s:%d", detectOutboundIP(), cfg.ListenPort)
	internalEndpoint := fmt.Sprintf("%s:%d", detectOutboundIP(), cfg.ListenPort)
	relayCaps := relayCapabilityFor(cfg.RelayMode)

	manager := overlay.NewManager(store, device, httpRelayDialer{client: &http.Client{Timeout: 10 * time.Second}},
		externalEndpoint, internalEndpoint, cfg.Region, relayCaps)

	if err := bootstrapOrJoin(store, cfg, wgKey, externalEndpoint, internalEndpoint, nodeKey); err != nil {
		logger.Error().Err(err).Msg("bootstrap failed")
		os.Exit(3)
	}

	keys := auth.NewKeyStore()
	mw := auth.NewMiddleware(keys)

	stateServer := stateapi.NewServer(store, mw)
	overlayServer := overlayapi.NewServer(manager, mw)
	mountMux(stateServer.Mux(), overlayServer.Mux())

	queueServer := queueapi.NewServer(queueStore)

	healthRepo := dns.NewHealthRepository()
	healthTracker := dns.NewHealthTracker(localStateURL(cfg.StateAddr, "/api/nodes"), healthRepo)

	geoCfg := dns.DefaultGeoResolverConfig()
	geoCfg.DBPath = cfg.GeoIPDBPath
	geoCfg.Enabled = cfg.GeoIPDBPath != ""
	geoResolver := dns.NewGeoDnsResolver(geoCfg)

	dnsServer := dns.NewServer(store, &dns.Config{Health: healthRepo, Geo: geoResolver})

	metrics.SetVersion(Version)
	metrics.RegisterComponent("state", true, "ready")
	metrics.RegisterComponent("api", true, "ready")

	healthMux := http.NewServeMux()
	healthMux.Handle("/metrics", metrics.Handler())
	healthMux.Handle("/health", metrics.HealthHandler())
	healthMux.Handle("/ready", metrics.ReadyHandler())
	healthMux.Handle("/live", metrics.LivenessHandler())
	healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: healthMux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stateServer.Start(gctx, cfg.StateAddr) })
	g.Go(func() error { return queueServer.Start(gctx, cfg.QueueAddr) })
	g.Go(func() error { return dnsServer.Start(gctx) })
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return broadcaster.Run(gctx) })
	g.Go(func() error { return healthTracker.Run(gctx) })
	g.Go(func() error { return runAuditLog(gctx, broker, logger) })
	g.Go(func() error {
		go func() {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = healthServer.Shutdown(shutdownCtx)
		}()
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	logger.Info().
		Str("state_addr", cfg.StateAddr).
		Str("queue_addr", cfg.QueueAddr).
		Str("health_addr", cfg.HealthAddr).
		Msg("formationd is running, press Ctrl+C to stop")

	err = g.Wait()
	if err := dnsServer.Stop(); err != nil {
		logger.Warn().Err(err).Msg("dns server shutdown error")
	}
	logger.Info().Msg("shutdown complete")
	return err
}

// runAuditLog subscribes to the node/peer lifecycle events the fabric has
// no other durable record of (unlike instance/account state, which lives
// in the replicated store itself) and logs each as a structured line,
// until ctx is cancelled.
func runAuditLog(ctx context.Context, broker *events.Broker, logger zerolog.Logger) error {
	sub := broker.SubscribeTo(
		events.EventNodeJoined, events.EventNodeLeft, events.EventNodeDown,
		events.EventPeerJoined, events.EventPeerLeft,
	)
	defer broker.Unsubscribe(sub)

	for {
		select {
		case ev := <-sub:
			logger.Info().Str("event", string(ev.Type)).Time("at", ev.Timestamp).Msg("fabric membership change")
		case <-ctx.Done():
			return nil
		}
	}
}

// mountMux routes the three paths pkg/overlayapi registers (/peer/join,
// /peer/leave, /relay/connect) from dst to src so two independently built
// servers (pkg/stateapi and pkg/overlayapi) can share a single listener.
// Any other pattern added to src is not forwarded. The two servers use
// disjoint paths (/account, /instance, ... vs the three above), so there is
// no collision to resolve.
func mountMux(dst, src *http.ServeMux) {
	dst.Handle("/peer/join", src)
	dst.Handle("/peer/leave", src)
	dst.Handle("/relay/connect", src)
}

// localStateURL turns a listen address (":3004" or "0.0.0.0:3004") into a
// URL this same process can dial to reach its own state API.
func localStateURL(addr, path string) string {
	host := addr
	if strings.HasPrefix(addr, ":") || strings.HasPrefix(addr, "0.0.0.0:") {
		host = "127.0.0.1" + addr[strings.LastIndex(addr, ":"):]
	}
	return "http://" + host + path
}

func loadOrCreateWGKey(dataDir string) (wgtypes.Key, error) {
	dir := filepath.Join(dataDir, "formnet")
	path := filepath.Join(dir, "wg_private_key")

	if data, err := os.ReadFile(path); err == nil {
		return wgtypes.ParseKey(strings.TrimSpace(string(data)))
	} else if !os.IsNotExist(err) {
		return wgtypes.Key{}, err
	}

	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("generating wireguard key: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return wgtypes.Key{}, err
	}
	if err := os.WriteFile(path, []byte(key.String()+"\n"), 0600); err != nil {
		return wgtypes.Key{}, err
	}
	return key, nil
}

// detectOutboundIP learns the local address the kernel would route a
// public-internet packet through, the cheapest available proxy for a real
// reflexive STUN-mapped address; a dedicated reflexive probe (pkg/overlay's
// DetectNatType) only classifies NAT difficulty, it doesn't hand back the
// mapped endpoint itself.
func detectOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return net.IPv4zero
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}

func relayCapabilityFor(mode config.RelayMode) overlay.RelayCapability {
	switch mode {
	case config.RelayOn:
		return overlay.RelayCapForward
	case config.RelayOff:
		return 0
	default: // auto: detect NAT difficulty and offer forwarding only when reachable enough to be useful
		if overlay.DetectNatType(defaultSTUNServers) == overlay.NatOpen {
			return overlay.RelayCapForward
		}
		return 0
	}
}

var defaultSTUNServers = []string{"stun.l.google.com:19302", "stun1.l.google.com:19302"}

// httpRelayDialer implements overlay.RelayDialer over plain HTTP against a
// relay's advertised endpoint, the transport pkg/overlay deliberately leaves
// to its caller.
type httpRelayDialer struct {
	client *http.Client
}

func (d httpRelayDialer) Dial(ctx context.Context, relay overlay.RelayNodeInfo, req overlay.ConnectionRequest) (overlay.ConnectionResponse, error) {
	if len(relay.Endpoints) == 0 {
		return overlay.ConnectionResponse{}, fmt.Errorf("relay %s has no advertised endpoints", relay.PublicKey)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return overlay.ConnectionResponse{}, err
	}
	url := fmt.Sprintf("http://%s/relay/connect", relay.Endpoints[0])
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return overlay.ConnectionResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return overlay.ConnectionResponse{}, err
	}
	defer resp.Body.Close()

	var env struct {
		Success overlay.ConnectionResponse `json:"Success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return overlay.ConnectionResponse{}, fmt.Errorf("decoding relay response: %w", err)
	}
	return env.Success, nil
}
