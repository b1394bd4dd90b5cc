package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"

	"github.com/nixxel-company-limited/ptouch-usb-printer/adapter"
	"github.com/nixxel-company-limited/ptouch-usb-printer/pbm"
	"github.com/nixxel-company-limited/ptouch-usb-printer/session"
)

// MaxJobSize bounds the bitmap a client may send in one job
const MaxJobSize = 64 << 20

var errJobTooLarge = fmt.Errorf("job exceeds %d bytes", MaxJobSize)

// Server represents a TCP server that prints the bitmaps it receives. Each
// connection carries one job: a PBM stream ended by the client closing its
// write side. The server answers "OK <columns>" or "ERR <message>".
type Server struct {
	adapter  adapter.Adapter
	listener net.Listener
	address  string
	opts     session.Options
	mu       sync.Mutex
	jobMu    sync.Mutex
	running  bool
	wg       sync.WaitGroup
	logger   *log.Logger
}

// New creates a new server instance
func New(device adapter.Adapter, address string, opts session.Options) *Server {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags|log.Lmsgprefix)
	return NewWithLogger(device, address, opts, logger)
}

// NewWithLogger creates a new server instance with a custom logger
func NewWithLogger(device adapter.Adapter, address string, opts session.Options, logger *log.Logger) *Server {
	return &Server{
		adapter: device,
		address: address,
		opts:    opts,
		logger:  logger,
	}
}

// Start starts the TCP server and blocks until Stop is called
func (s *Server) Start() error {
	s.logger.Printf("Starting server on %s (blocking mode)", s.address)
	if err := s.listen(); err != nil {
		return err
	}

	s.logger.Println("Ready to accept jobs")
	s.wg.Add(1)
	s.acceptConnections()
	return nil
}

// StartAsync starts the TCP server in a goroutine (non-blocking)
func (s *Server) StartAsync() error {
	s.logger.Printf("Starting server on %s (async mode)", s.address)
	if err := s.listen(); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.acceptConnections()
	s.logger.Println("Server started in background, ready to accept jobs")
	return nil
}

func (s *Server) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Println("Error: Server already running")
		return errors.New("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Printf("Error: Failed to start server: %v", err)
		return fmt.Errorf("failed to start server: %w", err)
	}

	if !s.adapter.IsOpen() {
		s.logger.Println("Opening printer adapter...")
		if err := s.adapter.Open(); err != nil {
			listener.Close()
			s.logger.Printf("Error: Failed to open adapter: %v", err)
			return fmt.Errorf("failed to open adapter: %w", err)
		}
		s.logger.Println("Printer adapter opened successfully")
	} else {
		s.logger.Println("Printer adapter already open")
	}

	s.listener = listener
	s.running = true
	s.logger.Printf("Server listening on %s", listener.Addr())
	return nil
}

// acceptConnections handles incoming client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()

			if !running {
				s.logger.Println("Server shutting down, stopping accept loop")
				return
			}
			s.logger.Printf("Error accepting connection: %v", err)
			continue
		}

		s.logger.Printf("Client connected from %s", conn.RemoteAddr())
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection reads one job and reports its outcome to the client
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.logger.Printf("Client disconnected: %s", conn.RemoteAddr())
		conn.Close()
	}()

	clientAddr := conn.RemoteAddr().String()

	data, err := io.ReadAll(io.LimitReader(conn, MaxJobSize+1))
	if err == nil && len(data) > MaxJobSize {
		err = errJobTooLarge
	}
	if err != nil {
		s.logger.Printf("Error reading job from %s: %v", clientAddr, err)
		s.reply(conn, "ERR %v", err)
		return
	}
	s.logger.Printf("Received %d bytes from %s", len(data), clientAddr)

	columns, err := s.print(data)
	if err != nil {
		s.logger.Printf("Job from %s failed: %v", clientAddr, err)
		s.reply(conn, "ERR %v", err)
		return
	}
	s.reply(conn, "OK %d", columns)
}

// print decodes the bitmap, then runs the job while holding the printer
func (s *Server) print(data []byte) (int, error) {
	b, err := pbm.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("bad input file: %w", err)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := session.NewWithLogger(s.adapter, s.opts, s.logger)
	if err := job.Print(b); err != nil {
		return 0, err
	}
	return job.Columns(), nil
}

func (s *Server) reply(conn net.Conn, format string, args ...any) {
	if _, err := fmt.Fprintf(conn, format+"\n", args...); err != nil {
		s.logger.Printf("Error replying to %s: %v", conn.RemoteAddr(), err)
	}
}

// Stop stops the TCP server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Println("Stop called but server is not running")
		return nil
	}

	s.logger.Println("Stopping server...")
	s.running = false
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	s.logger.Println("Waiting for active jobs to finish...")
	s.wg.Wait()

	if s.adapter.IsOpen() {
		s.logger.Println("Closing printer adapter...")
		if err := s.adapter.Close(); err != nil {
			s.logger.Printf("Error closing adapter: %v", err)
			return err
		}
	}

	s.logger.Println("Server stopped successfully")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the configured listen address
func (s *Server) Address() string {
	return s.address
}

// ListenAddr returns the bound address while the server runs
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GetAdapter returns the underlying adapter
func (s *Server) GetAdapter() adapter.Adapter {
	return s.adapter
}
