package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	// Uploads of several hundred MiB over slow links need a generous body
	// deadline; headers must arrive quickly.
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultReadTimeout       = 15 * time.Minute
	DefaultShutdownTimeout   = 30 * time.Second

	gracefulEnvKey   = "FHOST_GRACEFUL"
	gracefulEnvValue = gracefulEnvKey + "=1"
	gracefulFD       = 3
)

// Server wraps http.Server with signal driven shutdown and SIGUSR2 hot
// restart (the listening socket is handed to a re-exec'd child).
type Server struct {
	*http.Server

	listener   net.Listener
	inherited  bool
	signalChan chan os.Signal
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
		},
		inherited:  os.Getenv(gracefulEnvKey) != "",
		signalChan: make(chan os.Signal, 1),
	}
}

// Serve runs until ctx is cancelled, SIGINT/SIGTERM arrives, or a SIGUSR2
// restart has started a successor. In-flight requests get
// DefaultShutdownTimeout to finish.
func (srv *Server) Serve(ctx context.Context) error {
	ln, err := srv.listen()
	if err != nil {
		return err
	}
	srv.listener = ln

	signal.Notify(srv.signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)
	defer signal.Stop(srv.signalChan)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Server.Serve(ln) }()

	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			return srv.shutdown()
		case sig := <-srv.signalChan:
			if sig == syscall.SIGUSR2 {
				pid, err := srv.startSuccessor()
				if err != nil {
					Sugar.Errorf("start new process failed: %v, continue serving", err)
					continue
				}
				Sugar.Infof("started new process pid=%d, draining old server", pid)
			} else {
				Sugar.Infof("received %s, shutting down HTTP server", sig)
			}
			return srv.shutdown()
		}
	}
}

func (srv *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	Sugar.Info("HTTP server shutdown complete")
	return nil
}

func (srv *Server) listen() (net.Listener, error) {
	if srv.inherited {
		ln, err := net.FileListener(os.NewFile(gracefulFD, "listener"))
		if err != nil {
			return nil, fmt.Errorf("inherit listener: %w", err)
		}
		return ln, nil
	}
	addr := srv.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

func (srv *Server) startSuccessor() (int, error) {
	tcpLn, ok := srv.listener.(*net.TCPListener)
	if !ok {
		return 0, fmt.Errorf("listener is %T, not *net.TCPListener", srv.listener)
	}
	file, err := tcpLn.File()
	if err != nil {
		return 0, fmt.Errorf("get listener file: %w", err)
	}
	defer file.Close()

	env := make([]string, 0, len(os.Environ())+1)
	for _, e := range os.Environ() {
		if e != gracefulEnvValue {
			env = append(env, e)
		}
	}
	env = append(env, gracefulEnvValue)

	return syscall.ForkExec(os.Args[0], os.Args, &syscall.ProcAttr{
		Env:   env,
		Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd(), file.Fd()},
	})
}

// GraceServer serves handler on addr until ctx ends or a stop signal arrives.
func GraceServer(ctx context.Context, addr string, handler http.Handler) error {
	return NewServer(addr, handler).Serve(ctx)
}
