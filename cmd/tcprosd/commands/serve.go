package commands

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/marmos91/tcpros/internal/logger"
	"github.com/marmos91/tcpros/internal/metrics"
	"github.com/marmos91/tcpros/pkg/admin"
	"github.com/marmos91/tcpros/pkg/config"
	"github.com/marmos91/tcpros/pkg/node"
)

// chatterMD5 is the std_msgs/String message definition's md5sum, per
// spec.md §8 scenario S1.
const chatterMD5 = "992ce8a1687cec8c8bd883ec73ca41d1"

var serveListenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a tcprosd node",
	Long: `Run a tcprosd node: a /chatter publisher and loopback subscriber plus a
/sum service provider, reachable over TCP and observable through the admin
HTTP surface. Runs until SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "node listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if serveListenAddr != "" {
		cfg.Node.NodeListenAddr = serveListenAddr
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	if watchPath := resolveConfigPath(GetConfigFile()); watchPath != "" {
		watcher, err := config.Watch(watchPath, reloadLogging)
		if err != nil {
			logger.Warn("config hot-reload disabled", "path", watchPath, "error", err)
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	n := node.New(node.Params{Config: cfg.Node, Metrics: m})
	if err := registerDemoTopics(n); err != nil {
		return fmt.Errorf("failed to register demo topics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenAddr := cfg.Node.NodeListenAddr
	if err := n.Start(ctx, listenAddr); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	defer func() {
		if err := n.Destroy(); err != nil {
			logger.Error("node shutdown reported an error", "error", err)
		}
	}()

	if err := n.AddPublisherEndpoint("/chatter", n.ListenAddr()); err != nil {
		return fmt.Errorf("failed to subscribe demo loopback: %w", err)
	}

	var adminSrv *admin.Server
	if cfg.Admin.Enabled {
		adminSrv = admin.New(n, cfg.Admin.ListenAddr)
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil {
				logger.Error("admin server error", "error", err)
			}
		}()
		logger.Info("admin server enabled", "addr", cfg.Admin.ListenAddr)
	}

	logger.Info("tcprosd node running", "addr", n.ListenAddr(), "callerid", n.CallerID())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	signal.Stop(sigChan)
	logger.Info("shutdown signal received")

	if adminSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Node.InactivityTimeout)
		defer shutdownCancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin server shutdown error", "error", err)
		}
	}

	return nil
}

// resolveConfigPath returns the file path tcprosd actually loaded
// configuration from, or "" if it's running on defaults with no file to
// watch for changes.
func resolveConfigPath(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return ""
}

// reloadLogging applies a config file change's logging section live,
// without restarting the node — the only part of the config tcprosd
// applies on reload; NodeConfig changes take effect on restart (see
// config.Watch).
func reloadLogging(cfg *config.Config, err error) {
	if err != nil {
		logger.Warn("config reload failed", "error", err)
		return
	}
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	logger.Info("config reloaded", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
}

// registerDemoTopics wires up the connection-engine round trip from
// spec.md §8: a /chatter publisher emitting "hi" every 100ms, a /chatter
// subscriber logging what it receives, and a /sum service provider adding
// two int64 request fields.
func registerDemoTopics(n *node.Node) error {
	if err := n.RegisterPublisher("/chatter", "std_msgs/String", chatterMD5, "string data\n", 100, chatterPublish); err != nil {
		return err
	}
	if err := n.RegisterSubscriber("/chatter", "std_msgs/String", chatterMD5, chatterReceive); err != nil {
		return err
	}
	return n.RegisterServiceProvider("/sum", "tcpros_demo/Sum", "tcpros_demo/SumRequest", "tcpros_demo/SumResponse", "sum-demo-md5", sumProvide)
}

func chatterPublish() ([]byte, bool) {
	msg := "hi"
	buf := make([]byte, 4+len(msg))
	binary.LittleEndian.PutUint32(buf, uint32(len(msg)))
	copy(buf[4:], msg)
	return buf, true
}

func chatterReceive(payload []byte) error {
	if len(payload) < 4 {
		return nil
	}
	n := binary.LittleEndian.Uint32(payload[:4])
	if int(n) > len(payload)-4 {
		return nil
	}
	logger.Info("chatter message received", "body", string(payload[4:4+n]))
	return nil
}

// sumProvide implements the §8 S3 sum service: an int64 request frame with
// no inner length prefix (two back-to-back fields, the outer payload frame
// already carries the total length) and an int64 response.
func sumProvide(request []byte) ([]byte, string, bool) {
	if len(request) != 16 {
		return nil, "expected a 16-byte request (two int64 fields)", false
	}
	a := int64(binary.LittleEndian.Uint64(request[:8]))
	b := int64(binary.LittleEndian.Uint64(request[8:]))

	resp := make([]byte, 8)
	binary.LittleEndian.PutUint64(resp, uint64(a+b))
	return resp, "", true
}
