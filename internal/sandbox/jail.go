package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// EndMarker is echoed after every command so the reader knows where
// the output ends on the persistent shell stream.
const EndMarker = "COMMAND_ENDED_EOC"

// DefaultCommandTimeout bounds a single command when none is configured.
const DefaultCommandTimeout = 5 * time.Minute

// Jail executes commands in a jail container whose shell listens on a
// TCP port. Each command uses a fresh connection.
type Jail struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
	logger  *slog.Logger
}

// NewJail creates a client for the jail shell at host:port.
func NewJail(host string, port int, timeout time.Duration, logger *slog.Logger) *Jail {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return &Jail{
		addr:    addr,
		timeout: timeout,
		dialer:  net.Dialer{Timeout: 10 * time.Second},
		logger:  logger.With("component", "jail", "addr", addr),
	}
}

// Addr returns the jail's host:port.
func (j *Jail) Addr() string { return j.addr }

// Execute runs command and returns its output with stderr folded in.
func (j *Jail) Execute(ctx context.Context, command string) string {
	out, err := j.run(ctx, command)
	if err != nil {
		j.logger.Warn("jail command failed", "error", err)
		if out != "" {
			return out + "\nError: " + err.Error()
		}
		return "Error: " + err.Error()
	}
	return out
}

// Ping dials the jail without running anything.
func (j *Jail) Ping(ctx context.Context) error {
	conn, err := j.dialer.DialContext(ctx, "tcp", j.addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// wrapCommand runs command in a subshell with stderr folded into
// stdout, then echoes the end marker. The closing parenthesis sits on
// its own line so a trailing heredoc delimiter or comment on the
// command's last line cannot swallow it.
func wrapCommand(command string) string {
	return "(" + command + "\n) 2>&1; echo " + EndMarker + "\n"
}

func (j *Jail) run(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	conn, err := j.dialer.DialContext(ctx, "tcp", j.addr)
	if err != nil {
		return "", fmt.Errorf("connect to jail: %w", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	// Unblock reads when ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	j.logger.Debug("executing command", "command", command)
	if _, err := io.WriteString(conn, wrapCommand(command)); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}

	var out strings.Builder
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if idx := strings.Index(line, EndMarker); idx >= 0 {
			out.WriteString(line[:idx])
			return strings.TrimRight(out.String(), "\n"), nil
		}
		out.WriteString(line)
		if err != nil {
			var nerr net.Error
			switch {
			case errors.Is(ctx.Err(), context.Canceled):
				return out.String(), fmt.Errorf("command cancelled: %w", ctx.Err())
			case ctx.Err() != nil, errors.As(err, &nerr) && nerr.Timeout():
				return out.String(), fmt.Errorf("command timed out after %s", j.timeout)
			default:
				return out.String(), fmt.Errorf("read output: %w", err)
			}
		}
	}
}
