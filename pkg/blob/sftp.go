package blob

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTP stores files in a directory on a remote SFTP server.
type SFTP struct {
	conn   *ssh.Client
	client *sftp.Client
	root   string
}

// NewSFTP dials the server and opens an SFTP session.
func NewSFTP(ctx context.Context, cfg Config) (*SFTP, error) {
	clientConfig, err := sshClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, fmt.Sprintf("failed to dial %s", addr))
	}
	// the handshake ignores ctx; closing the socket aborts it
	stop := context.AfterFunc(ctx, func() { netConn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientConfig)
	if !stop() {
		if err == nil {
			c.Close()
		}
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "ssh handshake cancelled")
	}
	if err != nil {
		netConn.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "ssh handshake failed")
	}
	conn := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to start sftp session")
	}
	return &SFTP{conn: conn, client: client, root: cfg.Root}, nil
}

func sshClientConfig(cfg Config) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read private key")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse private key")
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	hostKey := ssh.InsecureIgnoreHostKey() //nolint:gosec // only when explicitly configured
	if !cfg.InsecureIgnoreHostKey {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load known_hosts")
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.DialTimeout,
	}, nil
}

func (s *SFTP) path(key string) string {
	return path.Join(s.root, path.Clean("/"+key))
}

// List returns the regular files directly under dir
func (s *SFTP) List(_ context.Context, dir string) ([]Object, error) {
	infos, err := s.client.ReadDir(s.path(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to list remote directory")
	}

	objs := make([]Object, 0, len(infos))
	for _, info := range infos {
		if !info.Mode().IsRegular() {
			continue
		}
		objs = append(objs, Object{Key: path.Join(dir, info.Name()), Size: info.Size(), ModTime: info.ModTime()})
	}
	return sortObjects(objs), nil
}

// Read downloads key
func (s *SFTP) Read(_ context.Context, key string) ([]byte, error) {
	f, err := s.client.Open(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "remote file %s not found", key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to open remote file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read remote file")
	}
	return data, nil
}

// Write uploads to a temporary name then renames over key, so readers never
// see a partial file.
func (s *SFTP) Write(_ context.Context, key string, data []byte) error {
	target := s.path(key)
	if err := s.client.MkdirAll(path.Dir(target)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to create remote directory")
	}

	tmp := path.Join(path.Dir(target), ".tmp-"+path.Base(target))
	f, err := s.client.Create(tmp)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to create remote file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = s.client.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to write remote file")
	}
	if err := f.Close(); err != nil {
		_ = s.client.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to write remote file")
	}
	if err := s.client.PosixRename(tmp, target); err != nil {
		_ = s.client.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to rename remote file")
	}
	return nil
}

// Copy reads from and writes to; SFTP has no server-side copy
func (s *SFTP) Copy(ctx context.Context, from, to string) error {
	data, err := s.Read(ctx, from)
	if err != nil {
		return err
	}
	return s.Write(ctx, to, data)
}

// Delete removes key
func (s *SFTP) Delete(_ context.Context, key string) error {
	if err := s.client.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to remove remote file")
	}
	return nil
}

// Close ends the session and the SSH connection
func (s *SFTP) Close() error {
	err := s.client.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
