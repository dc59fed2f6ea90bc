package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/goobd/internal/adapter"
	"github.com/shaunagostinho/goobd/internal/obd"
	"github.com/shaunagostinho/goobd/internal/pids"
	"github.com/shaunagostinho/goobd/internal/server"
	"github.com/shaunagostinho/goobd/web"
)

func main() {
	configPath := flag.String("config", "/etc/goobd/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Use the built-in adapter simulator")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	shell := flag.Bool("shell", false, "Open an interactive command shell instead of the dashboard")
	listPorts := flag.Bool("list-ports", false, "List serial ports and exit")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if *listPorts {
		if err := printPorts(os.Stdout); err != nil {
			log.Fatalf("[main] %v", err)
		}
		return
	}

	log.Println("[main] goobd starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.OBD.Transport = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	if *shell {
		sess, err := connect(ctx, cfg)
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		defer sess.dev.Dispose(cfg.OBD.CloseProtocol)
		if err := runShell(ctx, sess.dev); err != nil {
			log.Printf("[main] shell exited: %v", err)
		}
		return
	}

	// Start server; it works immediately even if the adapter is still connecting
	srv := server.New(cfg, web.FS)
	go superviseAdapter(ctx, cfg, srv)

	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// session is one initialized adapter connection.
type session struct {
	dev  *obd.Device
	link *adapter.Link
}

// openStream opens the byte stream for the configured transport.
func openStream(ctx context.Context, c server.OBDConfig) (io.ReadWriteCloser, error) {
	switch c.Transport {
	case "serial":
		return adapter.OpenSerial(adapter.SerialConfig{
			PortPath: c.PortPath,
			BaudRate: c.BaudRate,
			Driver:   c.Driver,
		})
	case "tcp":
		return adapter.DialTCP(ctx, c.Address)
	default:
		return adapter.NewSimulator(), nil
	}
}

// connect opens the adapter and runs the setup sequence. A failed device
// cannot be reused, so every attempt builds a fresh link and device.
func connect(ctx context.Context, cfg *server.Config) (*session, error) {
	c := cfg.OBD
	stream, err := openStream(ctx, c)
	if err != nil {
		return nil, err
	}

	link := adapter.NewLink(stream, adapter.LinkConfig{Debug: c.Debug})
	dev := obd.NewDevice(link, obd.Options{
		Debug:          c.Debug,
		DefaultMode:    obd.Mode(c.Mode),
		CommandTimeout: time.Duration(c.TimeoutMs) * time.Millisecond,
	})
	if err := dev.InitializePIDCache(pids.Factories()...); err != nil {
		dev.Dispose(false)
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dev.Initialize(initCtx); err != nil {
		dev.Dispose(false)
		return nil, err
	}
	return &session{dev: dev, link: link}, nil
}

// superviseAdapter keeps an adapter session attached to the server,
// reconnecting whenever the link drops.
func superviseAdapter(ctx context.Context, cfg *server.Config, srv *server.Server) {
	for {
		sess := connectWithRetry(ctx, "OBD", cfg, 10)
		if sess == nil {
			return
		}
		srv.Attach(sess.dev, sess.link)

		select {
		case <-ctx.Done():
			srv.Detach()
			if err := sess.dev.Dispose(cfg.OBD.CloseProtocol); err != nil {
				log.Printf("[main] dispose: %v", err)
			}
			return
		case <-sess.link.Done():
			log.Printf("[OBD] adapter link lost (%s), reconnecting", sess.link.Stats())
			srv.Detach()
			sess.dev.Dispose(false)
		}
	}
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely. Returns nil once ctx is done.
func connectWithRetry(ctx context.Context, name string, cfg *server.Config, maxAttempts int) *session {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		sess, err := connect(ctx, cfg)
		if err == nil {
			log.Printf("[%s] connected successfully (attempt %d)", name, attempt+1)
			return sess
		}

		attempt++
		if attempt <= maxAttempts {
			log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
				name, attempt, maxAttempts, err, delay)
		} else {
			log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
				name, attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func printPorts(w io.Writer) error {
	ports, err := adapter.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		if p.USB {
			fmt.Fprintf(w, "%s\tusb %s:%s %s\n", p.Name, p.VID, p.PID, p.Product)
		} else {
			fmt.Fprintln(w, p.Name)
		}
	}
	return nil
}
