package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AgentAuthType is the --ssh-key value that selects the SSH agent.
const AgentAuthType = "agent"

// KeySource says where SSH public key credentials come from.
type KeySource struct {
	// Path is a private key file, AgentAuthType, or empty for none.
	Path string

	// AgentSocket is the agent's unix socket, normally $SSH_AUTH_SOCK.
	AgentSocket string
}

// LoadSigners returns the signers described by src. An empty Path yields no
// signers and no error.
func LoadSigners(ctx context.Context, src KeySource) ([]ssh.Signer, error) {
	switch src.Path {
	case "":
		return nil, nil
	case AgentAuthType:
		return agentSigners(ctx, src.AgentSocket)
	}

	signer, err := loadPrivateKey(src.Path)
	if err != nil {
		return nil, err
	}
	return []ssh.Signer{signer}, nil
}

// agentSigners lists the agent's keys. The agent connection stays open for
// the life of the process since every signature goes through it.
func agentSigners(ctx context.Context, socket string) ([]ssh.Signer, error) {
	if socket == "" {
		return nil, errors.New("ssh agent requested but SSH_AUTH_SOCK is not set")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("ssh agent: %w", err)
	}

	signers, err := agent.NewClient(conn).Signers()
	switch {
	case err != nil:
		err = fmt.Errorf("ssh agent: listing keys: %w", err)
	case len(signers) == 0:
		err = errors.New("ssh agent: no keys loaded")
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return signers, nil
}

func loadPrivateKey(path string) (ssh.Signer, error) {
	path = ExpandHome(path)
	data, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("ssh key %s: %w", path, err)
	}
	return signer, nil
}

// ExpandHome replaces a leading "~/" with the current user's home directory.
func ExpandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
