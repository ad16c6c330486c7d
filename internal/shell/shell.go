// Package shell implements the Remote Shell Session primitive: a single
// stateful handle to one authenticated account on a remote HPC cluster,
// reachable over SSH. It carries no scheduling or staging policy.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ErrFatal wraps authentication/host-key failures that should never be
// retried by a caller's backoff loop.
var ErrFatal = errors.New("shell: fatal transport error")

// ErrTransient wraps recoverable transport errors (timeouts, dropped
// connections) that a caller should retry.
var ErrTransient = errors.New("shell: transient transport error")

// ErrNotConnected is returned by any operation attempted before Connect.
var ErrNotConnected = errors.New("shell: session is not connected")

// connectTimeout is the SSH dial timeout.
const connectTimeout = 1000 * time.Millisecond

// Config holds the parameters needed to open a session.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string // private-account credentials
	KeyPath  string // community-account key-based auth, if set takes priority
}

// Result is the outcome of a blocking Exec call.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Session is a stateful handle to one authenticated remote account.
type Session interface {
	Connect(ctx context.Context, cfg Config) error
	IsConnected() bool
	Exec(ctx context.Context, cmd string) (Result, error)
	Upload(ctx context.Context, localPath, remotePath string, recursive, follow bool) error
	Download(ctx context.Context, remotePath, localPath string) error
	Mkdir(ctx context.Context, path string, recursive bool) error
	RemoteExists(ctx context.Context, path string) (bool, error)
	Rm(ctx context.Context, path string) error
	Zip(ctx context.Context, src, dst string) error
	Unzip(ctx context.Context, src, dst string) error
	Dispose() error
}

// SSHSession is the golang.org/x/crypto/ssh-backed Session implementation.
type SSHSession struct {
	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client
	cfg    Config
}

// New returns an unconnected SSH-backed session.
func New() *SSHSession {
	return &SSHSession{}
}

// Connect dials the remote host and opens an SFTP subsystem on top of it.
func (s *SSHSession) Connect(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth := []ssh.AuthMethod{}
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return fmt.Errorf("%w: read key %s: %v", ErrFatal, cfg.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return fmt.Errorf("%w: parse key %s: %v", ErrFatal, cfg.KeyPath, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	resCh := make(chan dialResult, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, sshCfg)
		resCh <- dialResult{c, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
	case res := <-resCh:
		if res.err != nil {
			return classifyDialError(res.err)
		}
		sftpClient, err := sftp.NewClient(res.client)
		if err != nil {
			res.client.Close()
			return fmt.Errorf("%w: open sftp subsystem: %v", ErrTransient, err)
		}
		s.client = res.client
		s.sftp = sftpClient
		s.cfg = cfg
		return nil
	}
}

func classifyDialError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", ErrFatal, err)
}

// IsConnected reports whether the underlying transport is live.
func (s *SSHSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Exec runs a command to completion and returns its output and exit code.
func (s *SSHSession) Exec(ctx context.Context, cmd string) (Result, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil {
		return Result{}, ErrNotConnected
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("%w: open session: %v", ErrTransient, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return Result{}, fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
	case err := <-done:
		exitCode := 0
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitStatus()
			} else {
				return Result{}, fmt.Errorf("%w: %v", ErrTransient, err)
			}
		}
		return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
	}
}

// Mkdir creates a remote directory, optionally including parents.
func (s *SSHSession) Mkdir(ctx context.Context, path string, recursive bool) error {
	if recursive {
		if s.sftp == nil {
			return ErrNotConnected
		}
		if err := s.sftp.MkdirAll(path); err != nil {
			return fmt.Errorf("%w: mkdir -p %s: %v", ErrTransient, path, err)
		}
		return nil
	}
	res, err := s.Exec(ctx, fmt.Sprintf("mkdir %q", path))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("mkdir %s failed: %s", path, res.Stderr)
	}
	return nil
}

// RemoteExists reports whether a remote path exists.
func (s *SSHSession) RemoteExists(ctx context.Context, path string) (bool, error) {
	if s.sftp == nil {
		return false, ErrNotConnected
	}
	_, err := s.sftp.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat %s: %v", ErrTransient, path, err)
}

// Rm removes a remote path (file or, recursively, a directory).
func (s *SSHSession) Rm(ctx context.Context, path string) error {
	res, err := s.Exec(ctx, fmt.Sprintf("rm -rf %q", path))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("rm %s failed: %s", path, res.Stderr)
	}
	return nil
}

// Zip compresses a remote source directory into a remote zip archive.
func (s *SSHSession) Zip(ctx context.Context, src, dst string) error {
	res, err := s.Exec(ctx, fmt.Sprintf("cd %q && zip -r %q .", src, dst))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("zip %s -> %s failed: %s", src, dst, res.Stderr)
	}
	return nil
}

// Unzip expands a remote zip archive into a remote destination directory.
func (s *SSHSession) Unzip(ctx context.Context, src, dst string) error {
	if err := s.Mkdir(ctx, dst, true); err != nil {
		return err
	}
	res, err := s.Exec(ctx, fmt.Sprintf("unzip -o -q %q -d %q", src, dst))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("unzip %s -> %s failed: %s", src, dst, res.Stderr)
	}
	return nil
}

// Upload copies a local file or directory to the remote host over SFTP.
func (s *SSHSession) Upload(ctx context.Context, localPath, remotePath string, recursive, follow bool) error {
	if s.sftp == nil {
		return ErrNotConnected
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat local path %s: %w", localPath, err)
	}

	if !info.IsDir() {
		return s.uploadFile(localPath, remotePath)
	}

	if !recursive {
		return fmt.Errorf("local path %s is a directory but recursive=false", localPath)
	}

	return filepath.Walk(localPath, func(p string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		remoteDst := filepath.ToSlash(filepath.Join(remotePath, rel))
		if fi.IsDir() {
			return s.sftp.MkdirAll(remoteDst)
		}
		if fi.Mode()&os.ModeSymlink != 0 && !follow {
			return nil
		}
		return s.uploadFile(p, remoteDst)
	})
}

func (s *SSHSession) uploadFile(localPath, remotePath string) error {
	if err := s.sftp.MkdirAll(filepath.ToSlash(filepath.Dir(remotePath))); err != nil {
		return fmt.Errorf("%w: mkdir parent of %s: %v", ErrTransient, remotePath, err)
	}

	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file %s: %w", localPath, err)
	}
	defer local.Close()

	remote, err := s.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("%w: create remote file %s: %v", ErrTransient, remotePath, err)
	}
	defer remote.Close()

	if _, err := io.Copy(remote, local); err != nil {
		return fmt.Errorf("%w: copy %s -> %s: %v", ErrTransient, localPath, remotePath, err)
	}
	return nil
}

// Download copies a remote file to a local path over SFTP.
func (s *SSHSession) Download(ctx context.Context, remotePath, localPath string) error {
	if s.sftp == nil {
		return ErrNotConnected
	}

	remote, err := s.sftp.Open(remotePath)
	if err != nil {
		return fmt.Errorf("%w: open remote file %s: %v", ErrTransient, remotePath, err)
	}
	defer remote.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("mkdir local parent of %s: %w", localPath, err)
	}

	local, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file %s: %w", localPath, err)
	}
	defer local.Close()

	if _, err := io.Copy(local, remote); err != nil {
		return fmt.Errorf("%w: download %s -> %s: %v", ErrTransient, remotePath, localPath, err)
	}
	return nil
}

// Dispose closes the underlying transport. It is idempotent.
func (s *SSHSession) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.sftp != nil {
		err = s.sftp.Close()
		s.sftp = nil
	}
	if s.client != nil {
		if closeErr := s.client.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		s.client = nil
	}
	return err
}
