// Command netpktd runs the packet dispatch daemon: it accepts TCP
// connections, frames them into packets with PacketCodec, and routes
// each one through a PacketDispatcher to its registered handler.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/glennswest/netpkt/adminhttp"
	"github.com/glennswest/netpkt/bufpool"
	"github.com/glennswest/netpkt/config"
	"github.com/glennswest/netpkt/dispatch"
	"github.com/glennswest/netpkt/idgen"
	"github.com/glennswest/netpkt/limiter"
	"github.com/glennswest/netpkt/logging"
	"github.com/glennswest/netpkt/packet"
	"github.com/glennswest/netpkt/session"
	"github.com/glennswest/netpkt/transport"
)

// Version info - increment based on change magnitude:
// Major (x.0.0): Breaking changes, protocol-incompatible rewrites
// Minor (0.y.0): New opcodes, significant enhancements
// Patch (0.0.z): Bug fixes, minor improvements
var Version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	os.MkdirAll(cfg.Logging.FilePath, 0755)
	logFile, err := os.OpenFile(cfg.Logging.FilePath+"/netpktd.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		log.SetOutput(logFile)
	}
	logger := logging.NewLogrusLogger(log.StandardLogger().Out, level)

	fileSink := logging.NewFileSink(cfg.Logging.FilePath, cfg.Logging.RetentionDays)
	defer fileSink.Close()

	log.Infof("Starting netpktd v%s", Version)
	log.Infof("  Listening on :%d", cfg.Network.Port)
	log.Infof("  Admin enabled=%v port=%d", cfg.Admin.Enabled, cfg.Admin.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fileSink.Cleanup()
			}
		}
	}()

	idGen, err := idgen.New(idgen.Config{
		Type:      cfg.UniqueId.Type,
		MachineID: cfg.UniqueId.MachineID,
		EpochMs:   cfg.UniqueId.EpochMs,
	})
	if err != nil {
		log.Fatalf("Failed to build id generator: %v", err)
	}

	pool, err := bufpool.New(bufpool.Config{
		MinClass: cfg.Pool.MinClass,
		MaxClass: cfg.Pool.MaxClass,
	})
	if err != nil {
		log.Fatalf("Failed to build buffer pool: %v", err)
	}

	connLimiter := limiter.New(limiter.Config{
		MaxPerIP:        cfg.Network.MaxPerIPConnections,
		MaxTotal:        cfg.Network.MaxConnections,
		IdleGracePeriod: time.Minute,
	})
	defer connLimiter.StopGC()

	manager := session.NewManager(session.Config{
		Limiter: connLimiter,
		Logger:  logger,
		OnAdded: func(s *session.Session) {
			log.Infof("session %d connected from %s", s.ID, s.RemoteAddress)
		},
		OnRemoved: func(s *session.Session) {
			log.Infof("session %d disconnected", s.ID)
		},
	})

	codec := packet.PrimaryCodec{}
	compressionAlgo := parseCompressionAlgo(cfg.Dispatcher.CompressionAlgo)

	dispatcher := dispatch.New(dispatch.Config{
		Codec:           codec,
		Logger:          logger,
		DefaultTimeout:  cfg.Dispatcher.DefaultTimeout,
		CompressionAlgo: compressionAlgo,
		TraceSink:       fileSink,
		OnRejected: func(opcode uint16, sessionID uint64, err error) {
			log.Debugf("opcode 0x%04x rejected for session %d: %v", opcode, sessionID, err)
		},
	})
	registerHandlers(dispatcher)
	dispatcher.Freeze()

	if cfg.Admin.Enabled {
		adminSrv := adminhttp.New(cfg.Admin.Port, manager, dispatcher, Version)
		go func() {
			if err := adminSrv.Run(ctx); err != nil {
				log.Errorf("admin server error: %v", err)
			}
		}()
	}

	listenCfg := net.ListenConfig{}
	ln, err := listenCfg.Listen(ctx, "tcp", fmt.Sprintf(":%d", cfg.Network.Port))
	if err != nil {
		log.Fatalf("Failed to listen on :%d: %v", cfg.Network.Port, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	acceptLoop(ctx, ln, idGen, manager, dispatcher, pool, codec, logger, cfg.Network.SessionTimeout)
}

func parseCompressionAlgo(name string) packet.CompressionAlgo {
	switch name {
	case "gzip":
		return packet.CompressionGZip
	case "deflate":
		return packet.CompressionDeflate
	case "brotli":
		return packet.CompressionBrotli
	default:
		return packet.CompressionLZ4
	}
}

func acceptLoop(ctx context.Context, ln net.Listener, idGen *idgen.Generator, manager *session.Manager, dispatcher *dispatch.Dispatcher, pool *bufpool.Pool, codec packet.Codec, logger logging.Logger, sessionTimeout time.Duration) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logger.Warnf("accept error: %v", err)
				continue
			}
		}
		go handleConn(ctx, conn, idGen, manager, dispatcher, pool, codec, logger, sessionTimeout)
	}
}

func handleConn(ctx context.Context, conn net.Conn, idGen *idgen.Generator, manager *session.Manager, dispatcher *dispatch.Dispatcher, pool *bufpool.Pool, codec packet.Codec, logger logging.Logger, sessionTimeout time.Duration) {
	id, err := idGen.NewID()
	if err != nil {
		logger.Errorf("id generation failed, dropping connection from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	sess := session.New(id, conn.RemoteAddr().String(), session.RoleGuest, sessionTimeout)
	if !manager.Add(sess) {
		logger.Warnf("connection from %s rejected by connection limiter", conn.RemoteAddr())
		conn.Close()
		return
	}

	stream := transport.New(conn, transport.Config{
		Codec:  codec,
		Pool:   pool,
		Logger: logger,
		OnFrameReady: func(p packet.Packet) {
			sess.Touch()
			dispatcher.Dispatch(ctx, p, sess)
		},
		OnDisconnected: func(err error) {
			manager.Remove(sess.ID)
			dispatcher.ReleaseConnection(sess.ID)
		},
	})

	if err := sess.Connect(stream); err != nil {
		logger.Errorf("session %d failed to attach stream: %v", sess.ID, err)
		manager.Remove(sess.ID)
		conn.Close()
	}
}
