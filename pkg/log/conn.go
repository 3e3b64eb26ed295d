package log

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// loggedConn wraps a net.Conn and appends a hex dump of all traffic to a file.
type loggedConn struct {
	net.Conn

	mu      sync.Mutex
	logFile *os.File
}

func (lc *loggedConn) Read(b []byte) (int, error) {
	n, err := lc.Conn.Read(b)
	if n > 0 {
		if werr := lc.dump("<<", b[:n]); werr != nil {
			return 0, fmt.Errorf("reading: %w", werr)
		}
	}
	return n, err
}

func (lc *loggedConn) Write(b []byte) (int, error) {
	n, err := lc.Conn.Write(b)
	if n > 0 {
		if werr := lc.dump(">>", b[:n]); werr != nil {
			return 0, fmt.Errorf("writing: %w", werr)
		}
	}
	return n, err
}

func (lc *loggedConn) Close() error {
	err := lc.Conn.Close()

	lc.mu.Lock()
	lc.logFile.Close()
	lc.mu.Unlock()

	return err
}

func (lc *loggedConn) dump(dir string, b []byte) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	header := fmt.Sprintf("%s %s %s %s (%d bytes)\n",
		time.Now().Format(time.RFC3339Nano), dir, lc.Conn.RemoteAddr(), lc.Conn.LocalAddr(), len(b))
	if _, err := lc.logFile.WriteString(header); err != nil {
		return err
	}
	_, err := lc.logFile.WriteString(hex.Dump(b))
	return err
}

// NewLoggedConn wraps a network connection to log all data read from and written to it.
// The log file is created or appended to at the specified path.
func NewLoggedConn(conn net.Conn, logFilePath string) (net.Conn, error) {
	logFile, err := os.OpenFile(logFilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &loggedConn{Conn: conn, logFile: logFile}, nil
}
