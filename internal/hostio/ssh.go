package hostio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSH runs invocations on a remote host. Every call opens its own
// connection so concurrent reconciliations never share a session.
type SSH struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	// DialTimeout bounds connection setup only, never the remote command.
	DialTimeout time.Duration
}

var _ IO = SSH{}

func (r SSH) FileExists(path string) bool {
	if path == "" {
		return false
	}
	out, err := r.Run(context.Background(), Invocation{
		Executable: "test",
		Args:       []string{"-e", path},
		Timeout:    r.DialTimeout,
	})
	return err == nil && !out.TimedOut && out.ExitCode == 0
}

func (r SSH) Run(ctx context.Context, inv Invocation) (Output, error) {
	runCtx := ctx
	cancel := func() {}
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	}
	defer cancel()

	client, err := r.dial()
	if err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("%w: %v", ErrStart, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("%w: %v", ErrStart, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(remoteCommand(inv)); err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("%w: %v", ErrStart, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err = <-done:
	case <-runCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		_ = client.Close()
		<-done
		timedOut := deadlineHit(ctx, runCtx, inv.Timeout)
		return Output{
			ExitCode:  -1,
			Stdout:    cloneBytes(stdout.Bytes()),
			Stderr:    cloneBytes(stderr.Bytes()),
			TimedOut:  timedOut,
			Cancelled: !timedOut,
		}, nil
	}

	out := Output{
		ExitCode: 0,
		Stdout:   cloneBytes(stdout.Bytes()),
		Stderr:   cloneBytes(stderr.Bytes()),
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			out.ExitCode = -1
			return out, nil
		}
		out.ExitCode = exitErr.ExitStatus()
	}
	return out, nil
}

// remoteCommand renders inv as a single POSIX shell line. The overlay is
// applied through env(1) since most sshd configurations refuse Setenv.
func remoteCommand(inv Invocation) string {
	var b strings.Builder
	if inv.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(shellEscape(inv.Dir))
		b.WriteString(" && ")
	}
	b.WriteString("exec ")
	if len(inv.Env) > 0 {
		b.WriteString("env")
		for _, key := range sortedKeys(inv.Env) {
			b.WriteByte(' ')
			b.WriteString(shellEscape(key + "=" + inv.Env[key]))
		}
		b.WriteByte(' ')
	}
	b.WriteString(joinCommand(inv.Executable, inv.Args))
	return b.String()
}

func joinCommand(cmd string, args []string) string {
	var b strings.Builder
	b.WriteString(shellEscape(cmd))
	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(shellEscape(arg))
	}
	return b.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

func (r SSH) dial() (*ssh.Client, error) {
	address, err := r.address()
	if err != nil {
		return nil, err
	}

	config, err := r.clientConfig()
	if err != nil {
		return nil, err
	}

	if r.DialTimeout <= 0 {
		return ssh.Dial("tcp", address, config)
	}

	conn, err := net.DialTimeout("tcp", address, r.DialTimeout)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (r SSH) address() (string, error) {
	host := strings.TrimSpace(r.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}
	if r.Port != "" {
		return net.JoinHostPort(host, r.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func (r SSH) clientConfig() (*ssh.ClientConfig, error) {
	if r.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	signer, err := r.signer()
	if err != nil {
		return nil, err
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !r.InsecureSkipHostKeyChecking {
		hostKeyCallback, err = r.knownHostsCallback()
		if err != nil {
			return nil, err
		}
	}

	return &ssh.ClientConfig{
		User:            r.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         r.DialTimeout,
	}, nil
}

func (r SSH) signer() (ssh.Signer, error) {
	if r.KeyPath == "" {
		return nil, fmt.Errorf("ssh key path is required")
	}
	privateKey, err := os.ReadFile(r.KeyPath)
	if err != nil {
		return nil, err
	}
	if len(r.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, r.Passphrase)
	}
	return ssh.ParsePrivateKey(privateKey)
}

func (r SSH) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(r.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}
