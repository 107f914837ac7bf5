package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// maxSocketPath is the sun_path capacity including the trailing NUL.
const maxSocketPath = 104

var ErrPathTooLong = errors.New("sessions: socket path exceeds address limit")

// injectLine is the single JSON line a session reads off its socket.
type injectLine struct {
	Value string `json:"value"`
	Mode  string `json:"mode"`
}

// Injector delivers one framed message to one session over its Unix
// stream socket. The socket descriptor is owned for the duration of a
// single call and closed on every exit path.
type Injector struct {
	socketDir      string
	connectTimeout time.Duration
	retryAttempts  int
	retryBackoff   time.Duration
}

func NewInjector(socketDir string, connectTimeout time.Duration, retryAttempts int, retryBackoff time.Duration) *Injector {
	if connectTimeout <= 0 {
		connectTimeout = 3 * time.Second
	}
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	if retryBackoff <= 0 {
		retryBackoff = time.Second
	}
	return &Injector{
		socketDir:      socketDir,
		connectTimeout: connectTimeout,
		retryAttempts:  retryAttempts,
		retryBackoff:   retryBackoff,
	}
}

func (i *Injector) SocketPath(sessionID string) string {
	return filepath.Join(i.socketDir, sessionID+".sock")
}

// Inject sends content as one newline-terminated JSON line. Returns
// (false, nil) when no socket file exists at call time, (true, nil) on a
// complete send, and an error for OS-level failures.
func (i *Injector) Inject(sessionID string, content []byte) (bool, error) {
	path := i.SocketPath(sessionID)
	if len(path)+1 > maxSocketPath {
		return false, fmt.Errorf("%w: %s", ErrPathTooLong, path)
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat socket: %w", err)
	}

	line, err := json.Marshal(injectLine{Value: string(content), Mode: "prompt"})
	if err != nil {
		return false, err
	}
	line = append(line, '\n')

	conn, err := net.DialTimeout("unix", path, i.connectTimeout)
	if err != nil {
		return false, fmt.Errorf("connect %s: %w", path, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(i.connectTimeout))
	n, err := conn.Write(line)
	if err != nil {
		return false, fmt.Errorf("send to %s: %w", path, err)
	}
	if n != len(line) {
		return false, fmt.Errorf("short write to %s: %d of %d bytes", path, n, len(line))
	}

	return true, nil
}

// InjectWithRetry wraps Inject with a fixed backoff. It never returns an
// error; exhausted attempts simply report false.
func (i *Injector) InjectWithRetry(sessionID string, content []byte) bool {
	for attempt := 1; attempt <= i.retryAttempts; attempt++ {
		ok, err := i.Inject(sessionID, content)
		if ok {
			return true
		}
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Int("attempt", attempt).Msg("injection attempt failed")
		}
		if attempt < i.retryAttempts {
			time.Sleep(i.retryBackoff)
		}
	}
	return false
}
