package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/xtxerr/invsync/config"
	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/provider"
)

// Data source options understood by the SSH dialer.
const (
	OptUsername   = "username"
	OptPassword   = "password"
	OptPrivateKey = "private_key"
	OptKnownHosts = "known_hosts"
	OptInsecure   = "insecure"
)

// SSHDialer dials devices with golang.org/x/crypto/ssh. Each Execute runs
// on a fresh SSH channel of the same client connection.
type SSHDialer struct{}

// Dial implements Dialer.
func (SSHDialer) Dial(ctx context.Context, ds *group.DataSource, timeout time.Duration) (provider.Session, error) {
	cfg, err := clientConfig(ds, timeout)
	if err != nil {
		return nil, err
	}

	addr := ds.Address(config.DefaultSSHPort)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Connection(addr, err)
	}

	// The handshake is not context-aware; the deadline bounds it.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return nil, errors.Connection(addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshSession{client: ssh.NewClient(c, chans, reqs), addr: addr}, nil
}

func clientConfig(ds *group.DataSource, timeout time.Duration) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if path, ok := ds.Option(OptPrivateKey); ok && path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read private key for %q", ds.ID)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, errors.NewValidation(OptPrivateKey, err.Error())
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if pw, ok := ds.Option(OptPassword); ok {
		auth = append(auth, ssh.Password(pw))
		auth = append(auth, ssh.KeyboardInteractive(
			func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}))
	}
	if len(auth) == 0 {
		return nil, errors.NewMissingField(fmt.Sprintf("%s or %s for %q", OptPassword, OptPrivateKey, ds.ID))
	}

	hostKey, err := hostKeyCallback(ds)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            ds.OptionDefault(OptUsername, ""),
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

func hostKeyCallback(ds *group.DataSource) (ssh.HostKeyCallback, error) {
	if path, ok := ds.Option(OptKnownHosts); ok && path != "" {
		cb, err := knownhosts.New(path)
		if err != nil {
			return nil, errors.Wrapf(err, "load known_hosts for %q", ds.ID)
		}
		return cb, nil
	}
	if ds.OptionBool(OptInsecure) {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, errors.NewValidation(OptKnownHosts,
		fmt.Sprintf("data source %q needs known_hosts or insecure=true", ds.ID))
}

type sshSession struct {
	client *ssh.Client
	addr   string
}

// Execute runs command on a new channel. Cancelling ctx closes the channel.
func (s *sshSession) Execute(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", errors.Execution(command, err)
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return string(r.out), errors.Execution(command, r.err)
		}
		return string(r.out), nil
	case <-ctx.Done():
		sess.Close()
		return "", errors.Execution(command, ctx.Err())
	}
}

func (s *sshSession) Close() error {
	return s.client.Close()
}
