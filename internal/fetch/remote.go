package fetch

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// remoteTarget is the common shape of an FTP/SFTP endpoint after URL parsing.
type remoteTarget struct {
	Addr     string
	Path     string
	Username string
	Password string
}

// parseRemote splits an ftp:// or sftp:// URL into dial address and path.
// Explicit credentials on the Source win over userinfo embedded in the URL.
func parseRemote(src Source, defaultPort string) (remoteTarget, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return remoteTarget{}, fmt.Errorf("parse url %s: %w", src.URL, err)
	}
	host := u.Host
	if host == "" {
		return remoteTarget{}, fmt.Errorf("url %s has no host", src.URL)
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, defaultPort)
	}

	t := remoteTarget{
		Addr:     host,
		Path:     u.Path,
		Username: src.Username,
		Password: src.Password,
	}
	if t.Username == "" && u.User != nil {
		t.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			t.Password = pw
		}
	}
	if t.Path == "" || t.Path == "/" {
		return remoteTarget{}, fmt.Errorf("url %s has no file path", src.URL)
	}
	return t, nil
}

func (f *Fetcher) fetchFTP(ctx context.Context, src Source) ([]byte, error) {
	t, err := parseRemote(src, "21")
	if err != nil {
		return nil, err
	}

	conn, err := ftp.Dial(t.Addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(f.timeout))
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", t.Addr, err)
	}
	defer conn.Quit()

	user, pass := t.Username, t.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		return nil, fmt.Errorf("ftp login %s: %w", t.Addr, err)
	}

	r, err := conn.Retr(strings.TrimPrefix(t.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("ftp retr %s: %w", t.Path, err)
	}
	defer r.Close()

	data, err := f.readLimited(r)
	if err != nil {
		return nil, fmt.Errorf("ftp read %s: %w", t.Path, err)
	}
	return data, nil
}

func (f *Fetcher) fetchSFTP(ctx context.Context, src Source) ([]byte, error) {
	t, err := parseRemote(src, "22")
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            t.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(t.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         f.timeout,
	}

	dialer := net.Dialer{Timeout: f.timeout}
	raw, err := dialer.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return nil, fmt.Errorf("sftp dial %s: %w", t.Addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		raw.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(raw, t.Addr, sshCfg)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("sftp handshake %s: %w", t.Addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("sftp session %s: %w", t.Addr, err)
	}
	defer sc.Close()

	file, err := sc.Open(t.Path)
	if err != nil {
		return nil, fmt.Errorf("sftp open %s: %w", t.Path, err)
	}
	defer file.Close()

	data, err := f.readLimited(file)
	if err != nil {
		return nil, fmt.Errorf("sftp read %s: %w", t.Path, err)
	}
	return data, nil
}
