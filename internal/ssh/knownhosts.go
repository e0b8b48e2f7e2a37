package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// hostKeyStore verifies host keys against a known_hosts file and records
// keys for hosts it has never seen.
type hostKeyStore struct {
	path  string
	log   *zap.Logger
	check ssh.HostKeyCallback

	mu    sync.Mutex
	added map[string]ssh.PublicKey // keys appended since the file was loaded
}

// NewHostKeyCallback returns a trust-on-first-use host key callback backed by
// the known_hosts file at path, creating the file and its directory if
// needed. An empty path disables host key checking.
//
// Unknown hosts are appended to the file. A host already listed under a
// different key is rejected.
func NewHostKeyCallback(path string, log *zap.Logger) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // User explicitly disabled host key checking.
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &hostKeyStore{path: ExpandHome(path), log: log, added: make(map[string]ssh.PublicKey)}
	if err := s.ensureFile(); err != nil {
		return nil, err
	}

	check, err := knownhosts.New(s.path)
	if err != nil {
		return nil, fmt.Errorf("known_hosts %s: %w", s.path, err)
	}
	s.check = check

	return s.verify, nil
}

func (s *hostKeyStore) ensureFile() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("known_hosts: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return fmt.Errorf("known_hosts: %w", err)
	}
	return f.Close()
}

func (s *hostKeyStore) verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	host := knownhosts.Normalize(hostname)

	s.mu.Lock()
	ok, err := s.checkAdded(hostname, host, key)
	s.mu.Unlock()
	if ok {
		return err
	}

	err = s.check(hostname, remote, key)

	var keyErr *knownhosts.KeyError
	switch {
	case err == nil:
		return nil
	case !errors.As(err, &keyErr):
		return err
	case len(keyErr.Want) > 0:
		return fmt.Errorf("host key mismatch for %s (possible MITM attack): %w", hostname, err)
	}
	return s.add(hostname, host, key)
}

// add appends key for host. The knownhosts callback only sees the file as it
// was loaded, so appended keys are also kept in s.added.
func (s *hostKeyStore) add(hostname, host string, key ssh.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := s.checkAdded(hostname, host, key); ok {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return fmt.Errorf("known_hosts: %w", err)
	}
	line := knownhosts.Line([]string{host}, key) + "\n"
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("known_hosts: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("known_hosts: %w", err)
	}
	s.added[host] = key

	s.log.Info("added ssh host key",
		zap.String("host", hostname),
		zap.String("type", key.Type()),
		zap.String("fingerprint", ssh.FingerprintSHA256(key)),
		zap.String("known_hosts", s.path))
	return nil
}

// checkAdded reports whether host was appended by this process and, if so,
// whether key matches. s.mu must be held.
func (s *hostKeyStore) checkAdded(hostname, host string, key ssh.PublicKey) (bool, error) {
	known, ok := s.added[host]
	if !ok {
		return false, nil
	}
	if !bytes.Equal(known.Marshal(), key.Marshal()) {
		return true, fmt.Errorf("host key mismatch for %s (possible MITM attack)", hostname)
	}
	return true, nil
}
