package mixer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"
)

// SerialIO serves module requests arriving as JSON lines over a serial port,
// answering each with exactly one response line
type SerialIO struct {
	logger     *zap.SugaredLogger
	dispatcher *Dispatcher
	verbose    bool

	stopChannel chan bool
	mu          sync.Mutex // Protects running, connected, conn, connOptions and stopChannel
	running     bool
	connected   bool
	connOptions serial.OpenOptions
	conn        io.ReadWriteCloser

	writeMu sync.Mutex
}

const (
	// Delay between serial reconnection attempts
	serialRetryDelay = 2 * time.Second

	// time between characters before a read returns, in milliseconds
	serialInterCharacterTimeout = 50
)

var errSerialAlreadyRunning = errors.New("serial: already running")

var ansiRegexp = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// ESPHome-style log lines wrap the JSON: "[I][json:042]: {...}"
var jsonLogRegexp = regexp.MustCompile(`\[[A-Z]\]\[json:\d+\]:\s*(\{.*\})`)

func stripANSI(s string) string {
	return ansiRegexp.ReplaceAllString(s, "")
}

// NewSerialIO creates a SerialIO instance that hands every request line to the dispatcher
func NewSerialIO(logger *zap.SugaredLogger, dispatcher *Dispatcher, verbose bool) (*SerialIO, error) {
	logger = logger.Named("serial")

	sio := &SerialIO{
		logger:     logger,
		dispatcher: dispatcher,
		verbose:    verbose,
	}

	logger.Debug("Created serial i/o instance")

	return sio, nil
}

// IsConnected returns whether the serial connection is currently active
func (sio *SerialIO) IsConnected() bool {
	sio.mu.Lock()
	defer sio.mu.Unlock()
	return sio.connected
}

// IsRunning returns whether the connect/serve/retry loop is active
func (sio *SerialIO) IsRunning() bool {
	sio.mu.Lock()
	defer sio.mu.Unlock()
	return sio.running
}

// Options returns the port and baud rate of the current (or last) connection
func (sio *SerialIO) Options() (string, int) {
	sio.mu.Lock()
	defer sio.mu.Unlock()
	return sio.connOptions.PortName, int(sio.connOptions.BaudRate)
}

// Start connects to the given port and keeps serving it, reconnecting when the link drops
func (sio *SerialIO) Start(port string, baudRate int) error {
	sio.mu.Lock()
	if sio.running {
		sio.mu.Unlock()
		return errSerialAlreadyRunning
	}

	sio.connOptions = serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: serialInterCharacterTimeout,
	}
	sio.mu.Unlock()

	if err := sio.connect(sio.logger); err != nil {
		return fmt.Errorf("serial initial connect error: %w", err)
	}

	stopChannel := make(chan bool)

	sio.mu.Lock()
	sio.running = true
	sio.stopChannel = stopChannel
	sio.mu.Unlock()

	go func() {
		for {
			sio.mu.Lock()
			connected := sio.connected
			sio.mu.Unlock()

			if connected {
				if err := sio.run(sio.logger, stopChannel); err != nil {
					sio.logger.Warnw("Serial connection lost", "error", err.Error())
				}
			}

			sio.close(sio.logger)

			select {
			case <-stopChannel:
				return
			case <-time.After(serialRetryDelay):
			}

			if err := sio.connect(sio.logger); err != nil {
				sio.logger.Warnw("Serial reconnect failed", "error", err.Error())
			}
		}
	}()

	return nil
}

// Stop shuts down the serial connection and its retry loop, if one is active
func (sio *SerialIO) Stop() {
	sio.mu.Lock()
	if !sio.running {
		sio.mu.Unlock()
		sio.logger.Debug("Not currently running, nothing to stop")
		return
	}

	sio.running = false
	stopChannel := sio.stopChannel
	sio.stopChannel = nil
	sio.mu.Unlock()

	sio.logger.Debug("Shutting down serial connection")
	close(stopChannel)
}

// WaitForStop waits for the connection to be fully closed
func (sio *SerialIO) WaitForStop(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !sio.IsConnected() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func (sio *SerialIO) connect(logger *zap.SugaredLogger) error {
	sio.mu.Lock()
	if sio.connected {
		sio.mu.Unlock()
		return errors.New("already connected")
	}
	options := sio.connOptions
	sio.mu.Unlock()

	portName := options.PortName

	logger.Debugw("Attempting serial connection", "port", portName, "baud", options.BaudRate)

	conn, err := serial.Open(options)
	if err != nil {
		errMsg := strings.ToLower(err.Error())
		if strings.Contains(errMsg, "access is denied") || strings.Contains(errMsg, "permission denied") {
			logger.Errorw("Serial port access denied - port may be in use by another application",
				"port", portName, "error", err)
			return fmt.Errorf("serial port %s is busy or access denied: %w", portName, err)
		}
		if strings.Contains(errMsg, "no such file") || strings.Contains(errMsg, "cannot find") {
			logger.Errorw("Serial port does not exist - check port name in configuration",
				"port", portName, "error", err)
			return fmt.Errorf("serial port %s does not exist: %w", portName, err)
		}
		logger.Errorw("Failed to open serial port", "port", portName, "error", err)
		return fmt.Errorf("open serial port %s: %w", portName, err)
	}

	sio.mu.Lock()
	sio.conn = conn
	sio.connected = true
	sio.mu.Unlock()

	logger.Infow("Connected to serial port", "port", portName)

	return nil
}

func (sio *SerialIO) run(logger *zap.SugaredLogger, stopChannel chan bool) error {
	sio.mu.Lock()
	conn := sio.conn
	sio.mu.Unlock()

	if conn == nil {
		return errors.New("cannot run: connection is nil")
	}

	lineChannel := sio.readLine(logger, bufio.NewReader(conn), stopChannel)

	for {
		select {
		case <-stopChannel:
			return nil

		case line, ok := <-lineChannel:
			if !ok {
				return errors.New("serial connection lost")
			}

			if response := sio.handleLine(logger, line); response != nil {
				if err := sio.writeLine(conn, response); err != nil {
					return fmt.Errorf("write response: %w", err)
				}
			}
		}
	}
}

func (sio *SerialIO) close(logger *zap.SugaredLogger) {
	sio.mu.Lock()
	conn := sio.conn
	portName := sio.connOptions.PortName
	sio.conn = nil
	sio.connected = false
	sio.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Warnw("Failed to close serial connection", "port", portName, "error", err.Error())
		} else {
			logger.Infow("Serial connection closed", "port", portName)
		}
	}
}

func (sio *SerialIO) readLine(logger *zap.SugaredLogger, reader *bufio.Reader, stopChannel chan bool) chan string {
	ch := make(chan string)

	go func() {
		defer close(ch)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					logger.Infow("Serial read error, connection may be lost", "error", err)
				} else if sio.verbose {
					logger.Debugw("Serial read EOF", "error", err)
				}
				return
			}

			if sio.verbose {
				logger.Debugw("Read new line", "line", line)
			}

			select {
			case ch <- line:
			case <-stopChannel:
				return
			}
		}
	}()

	return ch
}

// handleLine extracts the request from a raw line and returns the response to send back,
// or nil when the line carries no request
func (sio *SerialIO) handleLine(logger *zap.SugaredLogger, line string) []byte {
	request := extractRequest(line)
	if request == "" {
		return nil
	}

	if sio.verbose {
		logger.Debugw("Request line received", "json", request)
	}

	return sio.dispatcher.Handle([]byte(request))
}

func (sio *SerialIO) writeLine(w io.Writer, response []byte) error {
	sio.writeMu.Lock()
	defer sio.writeMu.Unlock()

	if _, err := w.Write(append(response, '\n')); err != nil {
		return err
	}

	return nil
}

// extractRequest returns the JSON object carried by a line, either bare or wrapped in log format
func extractRequest(line string) string {
	clean := stripANSI(line)
	trimmed := strings.TrimSpace(clean)

	if len(trimmed) > 0 && trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}' {
		return trimmed
	}

	if m := jsonLogRegexp.FindStringSubmatch(clean); m != nil {
		return m[1]
	}

	return ""
}
