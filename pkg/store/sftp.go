package store

import (
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPConfig locates a dump file on a remote host.
type SFTPConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey string // path to a PEM key file; offered alongside Password when both are set
	Path       string // remote dump path
}

// sftpStore reads a dump in place over SFTP, so large dumps can be analysed
// without copying them off the machine that produced them.
type sftpStore struct {
	mu     sync.Mutex
	conn   *ssh.Client
	client *sftp.Client
	f      *sftp.File
}

// OpenSFTP connects to the remote host and opens the dump.
func OpenSFTP(conf *SFTPConfig) (Store, error) {
	var auth []ssh.AuthMethod
	if conf.Password != "" {
		auth = append(auth, ssh.Password(conf.Password))
	}
	if conf.PrivateKey != "" {
		pem, err := os.ReadFile(conf.PrivateKey)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, errors.Wrapf(err, "parse key %s", conf.PrivateKey)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, errors.New("sftp: no password or private key")
	}
	port := conf.Port
	if port == 0 {
		port = 22
	}
	conn, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", conf.Host, port), &ssh.ClientConfig{
		User:            conf.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", conf.Host)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	f, err := client.Open(conf.Path)
	if err != nil {
		_ = client.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "open %s", conf.Path)
	}
	return &sftpStore{conn: conn, client: client, f: f}, nil
}

func (s *sftpStore) ReadAt(off uint64, b []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.f.ReadAt(b, int64(off))
	if err != nil && n == 0 {
		logger.Debugf("sftp read %d bytes at %d: %s", len(b), off, err)
	}
	return n
}

func (s *sftpStore) ThreadSafe() bool {
	return true
}

func (s *sftpStore) Close() error {
	_ = s.f.Close()
	_ = s.client.Close()
	return s.conn.Close()
}
