// Command weaverd is the daemon entrypoint of spec §6: it opens (or
// creates) a core at a working directory, binds a TCP listener and a
// local-domain-socket listener, and serves the wire protocol over both
// until SIGINT or an optional --kill deadline tells it to shut down.
//
// Flags are parsed with the standard flag package, matching the simpler
// of the teacher's two CLI idioms (cmd/main.go, cmd/server/main.go) —
// neither of the heavier CLI frameworks used elsewhere in the example
// pack (cobra, kong) fits a flat flag set this small.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/weaverdb/weaverdb/internal/core"
	"github.com/weaverdb/weaverdb/internal/dispatch"
	"github.com/weaverdb/weaverdb/internal/wire"
)

const defaultPort = 5234

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("weaverd", flag.ContinueOnError)
	host := fs.String("host", "localhost", "TCP listen host")
	port := fs.Int("port", defaultPort, "TCP listen port")
	fs.IntVar(port, "P", defaultPort, "TCP listen port (shorthand)")
	numWorkers := fs.Int("num-workers", 4, "read-only worker pool size")
	keyStore := fs.String("key-store", "", "directory holding TLS keys (default <working_dir>/keys)")
	flagV := fs.Bool("v", false, "verbose logging")
	flagVV := fs.Bool("vv", false, "very verbose logging")
	killSecs := fs.Int("kill", 0, "auto-shutdown after this many seconds (0 disables)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	workDir := "."
	if fs.NArg() > 0 {
		workDir = fs.Arg(0)
	}
	if *keyStore == "" {
		*keyStore = filepath.Join(workDir, "keys")
	}
	verbosity := new(int)
	switch {
	case *flagVV:
		*verbosity = 2
	case *flagV:
		*verbosity = 1
	}
	logger := log.New(os.Stderr, "weaverd: ", log.LstdFlags)
	if *verbosity > 0 {
		logger.Printf("starting: workdir=%s host=%s port=%d workers=%d keystore=%s", workDir, *host, *port, *numWorkers, *keyStore)
	}

	engine, err := core.Open(core.Config{WorkDir: workDir})
	if err != nil {
		logger.Printf("init error: %v", err)
		return 1
	}
	defer engine.Close()

	disp := dispatch.New(engine, *numWorkers)
	defer disp.Close()

	tcpAddr := fmt.Sprintf("%s:%d", *host, *port)
	tcpLn, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		logger.Printf("init error: tcp listen %s: %v", tcpAddr, err)
		return 1
	}
	defer tcpLn.Close()

	sockPath := filepath.Join(workDir, "weaverdb.socket")
	os.Remove(sockPath) // a stale socket from an unclean prior shutdown must not block bind.
	unixLn, err := net.Listen("unix", sockPath)
	if err != nil {
		logger.Printf("init error: unix listen %s: %v", sockPath, err)
		return 1
	}
	defer unixLn.Close()
	defer os.Remove(sockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	fatalCh := make(chan error, 2)
	wg.Add(2)
	go serveListener(ctx, &wg, tcpLn, disp, logger, fatalCh)
	go serveListener(ctx, &wg, unixLn, disp, logger, fatalCh)

	if *verbosity > 0 {
		logger.Printf("listening: tcp=%s unix=%s", tcpAddr, sockPath)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var killTimer <-chan time.Time
	if *killSecs > 0 {
		killTimer = time.After(time.Duration(*killSecs) * time.Second)
	}

	runtimeErr := false
	select {
	case <-sigCh:
		if *verbosity > 0 {
			logger.Printf("received interrupt, shutting down")
		}
	case <-killTimer:
		if *verbosity > 0 {
			logger.Printf("--kill deadline reached, shutting down")
		}
	case err := <-fatalCh:
		logger.Printf("runtime error: %v", err)
		runtimeErr = true
	}

	cancel()
	tcpLn.Close()
	unixLn.Close()
	wg.Wait()

	if runtimeErr {
		return 2
	}
	return 0
}

// serveListener accepts connections on ln until ctx is canceled, handing
// each one to a dispatch.Connection. A single listener serves both the
// TCP and unix-domain sockets, since the wire protocol makes no
// distinction between the two transports (spec §6). An Accept failure
// that isn't caused by ctx's own shutdown is reported on fatalCh so main
// can exit with the runtime-fatal status code.
func serveListener(ctx context.Context, wg *sync.WaitGroup, ln net.Listener, disp *dispatch.Dispatcher, logger *log.Logger, fatalCh chan<- error) {
	defer wg.Done()
	var connWg sync.WaitGroup
	defer connWg.Wait()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case fatalCh <- fmt.Errorf("accept on %s: %w", ln.Addr(), err):
			default:
			}
			return
		}
		connWg.Add(1)
		go func() {
			defer connWg.Done()
			handleConn(ctx, nc, disp, logger)
		}()
	}
}

func handleConn(ctx context.Context, nc net.Conn, disp *dispatch.Dispatcher, logger *log.Logger) {
	defer nc.Close()
	wc := wire.NewConn(nc, nc)

	hs, err := wc.ReadHandshake()
	if err != nil {
		return
	}
	nonce := hs.Nonce
	if err := wc.WriteHandshake(wire.Handshake{Ack: true, Nonce: nonce}); err != nil {
		return
	}

	conn := dispatch.NewConnection(wc, disp)
	if err := conn.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Printf("connection %s: %v", conn.ID(), err)
	}
}
