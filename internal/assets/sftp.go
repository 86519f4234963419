package assets

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gaia-review/gaia/internal/conf"
)

const defaultStoreTimeout = 30 * time.Second

// SFTPStore lists a COG directory over SFTP. The connection is opened on
// first use and reopened after a failed listing.
type SFTPStore struct {
	settings conf.SFTPStoreSettings

	mu     sync.Mutex
	client *sftp.Client
}

// NewSFTPStore returns a store for the given server settings.
func NewSFTPStore(settings conf.SFTPStoreSettings) *SFTPStore {
	if settings.Port == 0 {
		settings.Port = 22
	}
	if settings.Timeout <= 0 {
		settings.Timeout = defaultStoreTimeout
	}
	return &SFTPStore{settings: settings}
}

// Name implements Lister.
func (s *SFTPStore) Name() string { return "sftp" }

// List implements Lister.
func (s *SFTPStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		client, err := s.connect(ctx)
		if err != nil {
			return nil, err
		}
		s.client = client
	}

	dir, _ := splitPrefix(prefix)
	entries, err := s.client.ReadDir(path.Join(s.settings.BasePath, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		_ = s.client.Close()
		s.client = nil
		return nil, storeError(err, s.Name(), "read_dir")
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Mode().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return filterNames(dir, prefix, names), nil
}

// Close releases the connection.
func (s *SFTPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *SFTPStore) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:            s.settings.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.settings.Timeout,
	}

	if s.settings.KnownHostsFile != "" {
		callback, err := knownhosts.New(s.settings.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to load known hosts: %w", err)
		}
		config.HostKeyCallback = callback
	}

	switch {
	case s.settings.KeyFile != "":
		key, err := os.ReadFile(s.settings.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case s.settings.Password != "":
		config.Auth = []ssh.AuthMethod{ssh.Password(s.settings.Password)}
	default:
		return nil, fmt.Errorf("sftp: no authentication method provided")
	}
	return config, nil
}

func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, error) {
	config, err := s.clientConfig()
	if err != nil {
		return nil, storeError(err, s.Name(), "connect")
	}

	type connResult struct {
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		addr := net.JoinHostPort(s.settings.Host, strconv.Itoa(s.settings.Port))
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{client, nil}
	}()

	select {
	case <-ctx.Done():
		// a late connection is closed when it arrives
		go func() {
			if r := <-resultChan; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, storeError(ctx.Err(), s.Name(), "connect")
	case r := <-resultChan:
		if r.err != nil {
			return nil, storeError(r.err, s.Name(), "connect")
		}
		return r.client, nil
	}
}
