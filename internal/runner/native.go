package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aryankumar/fanout/internal/executor"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// NativeConfig configures the in-process SSH transport
type NativeConfig struct {
	// User is the login name for endpoints that do not specify one
	// (default: current user)
	User string

	// IdentityFile is a private key to offer in addition to the agent
	IdentityFile string

	// KnownHostsFile overrides ~/.ssh/known_hosts
	KnownHostsFile string

	// StrictHostKey enables known_hosts verification; when false any host
	// key is accepted
	StrictHostKey bool

	// DialTimeout bounds connection establishment (default 10s)
	DialTimeout time.Duration

	// Grace is the TERM-to-close interval during teardown (default DefaultGrace)
	Grace time.Duration
}

// NativeRunner runs each task over an in-process SSH connection instead of
// spawning the ssh binary. Connection, authentication, and handshake
// failures map to exit code 255 for parity with the binary client.
type NativeRunner struct {
	user        string
	auth        []ssh.AuthMethod
	hostKey     ssh.HostKeyCallback
	dialTimeout time.Duration
	grace       time.Duration
	logger      *slog.Logger
}

// NewNativeRunner builds the transport from config. Errors here are setup
// errors (unreadable identity file, unreadable known_hosts).
func NewNativeRunner(cfg NativeConfig, logger *slog.Logger) (*NativeRunner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defaultUser := cfg.User
	if defaultUser == "" {
		if u, err := user.Current(); err == nil {
			defaultUser = u.Username
		}
	}

	auth, err := authMethods(cfg.IdentityFile)
	if err != nil {
		return nil, err
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.StrictHostKey {
		path := cfg.KnownHostsFile
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("locating known_hosts: %w", err)
			}
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
		hostKey, err = knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts: %w", err)
		}
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	return &NativeRunner{
		user:        defaultUser,
		auth:        auth,
		hostKey:     hostKey,
		dialTimeout: dialTimeout,
		grace:       grace,
		logger:      logger,
	}, nil
}

// authMethods assembles agent and identity-file authentication
func authMethods(identityFile string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if identityFile != "" {
		key, err := os.ReadFile(identityFile)
		if err != nil {
			return nil, fmt.Errorf("reading identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing identity file: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	return methods, nil
}

// Run implements executor.Runner
func (r *NativeRunner) Run(ctx context.Context, spec executor.TaskSpec, stdout, stderr io.Writer) (executor.Outcome, error) {
	login := spec.Endpoint.User
	if login == "" {
		login = r.user
	}

	conf := &ssh.ClientConfig{
		User:            login,
		Auth:            r.auth,
		HostKeyCallback: r.hostKey,
		Timeout:         r.dialTimeout,
	}

	addr := spec.Endpoint.Addr()
	dialer := net.Dialer{Timeout: r.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		r.logger.Debug("dial failed", "endpoint", spec.Endpoint.Identity(), "error", err)
		fmt.Fprintf(stderr, "fanout: %s: %v\n", spec.Endpoint.Identity(), err)
		return executor.Completed(255), nil
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, conf)
	if err != nil {
		conn.Close()
		r.logger.Debug("handshake failed", "endpoint", spec.Endpoint.Identity(), "error", err)
		fmt.Fprintf(stderr, "fanout: %s: %v\n", spec.Endpoint.Identity(), err)
		return executor.Completed(255), nil
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		fmt.Fprintf(stderr, "fanout: %s: %v\n", spec.Endpoint.Identity(), err)
		return executor.Completed(255), nil
	}
	defer sess.Close()

	if spec.Stdin != nil {
		sess.Stdin = bytes.NewReader(spec.Stdin)
	}
	sess.Stdout = stdout
	sess.Stderr = stderr

	if err := sess.Start(ShellCommand(spec.Command)); err != nil {
		fmt.Fprintf(stderr, "fanout: %s: %v\n", spec.Endpoint.Identity(), err)
		return executor.Completed(255), nil
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case err := <-done:
		return translateSessionWait(err)
	case <-ctx.Done():
	}

	// Graceful teardown: ask the remote side to terminate, then drop the
	// connection after the grace interval.
	sess.Signal(ssh.SIGTERM)
	timer := time.NewTimer(r.grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		client.Close()
		<-done
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return executor.TimedOut(), nil
	}
	return executor.Killed(syscall.SIGTERM), nil
}

// translateSessionWait maps a session Wait error onto a task outcome
func translateSessionWait(err error) (executor.Outcome, error) {
	if err == nil {
		return executor.Completed(0), nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		if sig := exitErr.Signal(); sig != "" {
			return executor.Killed(signalFromName(sig)), nil
		}
		return executor.Completed(exitErr.ExitStatus()), nil
	}

	// Remote exited without a status (connection dropped, server quirk);
	// the binary client reports 255 here too.
	return executor.Completed(255), nil
}

// signalFromName maps SSH wire signal names to local signal numbers
func signalFromName(name string) syscall.Signal {
	switch ssh.Signal(name) {
	case ssh.SIGHUP:
		return syscall.SIGHUP
	case ssh.SIGINT:
		return syscall.SIGINT
	case ssh.SIGQUIT:
		return syscall.SIGQUIT
	case ssh.SIGABRT:
		return syscall.SIGABRT
	case ssh.SIGKILL:
		return syscall.SIGKILL
	case ssh.SIGSEGV:
		return syscall.SIGSEGV
	case ssh.SIGTERM:
		return syscall.SIGTERM
	default:
		return syscall.SIGKILL
	}
}

// ShellCommand renders a command vector as a single remote shell command,
// quoting arguments that would otherwise be split or expanded
func ShellCommand(command []string) string {
	parts := make([]string, len(command))
	for i, arg := range command {
		parts[i] = quoteArg(arg)
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n\"'`$\\&|;<>(){}[]*?~#") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
