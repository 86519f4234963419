package assets

import (
	"context"
	"net"
	"path"
	"strconv"
	"sync"

	"github.com/jlaffaye/ftp"

	"github.com/gaia-review/gaia/internal/conf"
)

// FTPStore lists a COG directory over FTP.
type FTPStore struct {
	settings conf.FTPStoreSettings

	mu   sync.Mutex
	conn *ftp.ServerConn
}

// NewFTPStore returns a store for the given server settings.
func NewFTPStore(settings conf.FTPStoreSettings) *FTPStore {
	if settings.Port == 0 {
		settings.Port = 21
	}
	if settings.Timeout <= 0 {
		settings.Timeout = defaultStoreTimeout
	}
	return &FTPStore{settings: settings}
}

// Name implements Lister.
func (s *FTPStore) Name() string { return "ftp" }

// List implements Lister.
func (s *FTPStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := s.connect(ctx)
		if err != nil {
			return nil, err
		}
		s.conn = conn
	}

	dir, _ := splitPrefix(prefix)
	entries, err := s.conn.List(path.Join(s.settings.BasePath, dir))
	if err != nil {
		_ = s.conn.Quit()
		s.conn = nil
		return nil, storeError(err, s.Name(), "list")
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type == ftp.EntryTypeFile {
			names = append(names, entry.Name)
		}
	}
	return filterNames(dir, prefix, names), nil
}

// Close ends the FTP session.
func (s *FTPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Quit()
	s.conn = nil
	return err
}

func (s *FTPStore) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := net.JoinHostPort(s.settings.Host, strconv.Itoa(s.settings.Port))
	conn, err := ftp.Dial(addr,
		ftp.DialWithTimeout(s.settings.Timeout),
		ftp.DialWithContext(ctx),
	)
	if err != nil {
		return nil, storeError(err, s.Name(), "connect")
	}

	if err := conn.Login(s.settings.Username, s.settings.Password); err != nil {
		_ = conn.Quit()
		return nil, storeError(err, s.Name(), "login")
	}
	return conn, nil
}
