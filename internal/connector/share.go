package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	smb2 "github.com/hirochachacha/go-smb2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/models"
)

// shareConnector reads a windows/samba file share over SMB2. Object identity
// is a hash of the canonical object URL; freshness comes from the file's
// modification time.
type shareConnector struct {
	endpoint string
	host     string
	port     string
	share    string
	root     string
	username string
	password string
	domain   string
	logger   zerolog.Logger

	conn    net.Conn
	session *smb2.Session
	mounted *smb2.Share
}

func newShareConnector(ds models.Datasource, logger zerolog.Logger) (*shareConnector, error) {
	host, share, root, err := parseShareEndpoint(ds.Connection["endpoint"])
	if err != nil {
		return nil, err
	}
	port := ds.Connection["port"]
	if port == "" {
		port = "445"
	}
	return &shareConnector{
		endpoint: ds.Connection["endpoint"],
		host:     host,
		port:     port,
		share:    share,
		root:     root,
		username: ds.Connection["username"],
		password: ds.Connection["password"],
		domain:   ds.Connection["domain"],
		logger:   logger.With().Str("connector", "windows_share").Str("endpoint", ds.Connection["endpoint"]).Logger(),
	}, nil
}

// parseShareEndpoint accepts both smb://host/share/path and \\host\share\path.
func parseShareEndpoint(endpoint string) (host, share, root string, err error) {
	cleaned := endpoint
	switch {
	case strings.HasPrefix(cleaned, "smb://"):
		cleaned = strings.TrimPrefix(cleaned, "smb://")
	case strings.HasPrefix(cleaned, `\\`):
		cleaned = strings.ReplaceAll(strings.TrimPrefix(cleaned, `\\`), `\`, "/")
	default:
		return "", "", "", errors.Errorf("share endpoint %q must start with smb:// or \\\\", endpoint)
	}
	parts := strings.SplitN(cleaned, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", errors.Errorf("share endpoint %q missing host or share name", endpoint)
	}
	host, share = parts[0], parts[1]
	if len(parts) == 3 {
		root = strings.Trim(parts[2], "/")
	}
	return host, share, root, nil
}

func probeShare(ctx context.Context, params map[string]string) error {
	ds := models.Datasource{Type: models.DatasourceShare, Connection: params}
	c, err := newShareConnector(ds, zerolog.Nop())
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.connect(ctx); err != nil {
		return err
	}
	_, err = c.mounted.ReadDir(toSmbPath(c.root))
	return err
}

func (c *shareConnector) connect(ctx context.Context) error {
	if c.mounted != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(c.host, c.port), 10*time.Second)
	if err != nil {
		return errors.Wrapf(err, "dial %s", c.host)
	}
	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     c.username,
			Password: c.password,
			Domain:   c.domain,
		},
	}
	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "smb session")
	}
	mounted, err := session.Mount(c.share)
	if err != nil {
		session.Logoff()
		conn.Close()
		return errors.Wrapf(err, "mount share %s", c.share)
	}
	c.conn, c.session, c.mounted = conn, session, mounted
	return nil
}

// toSmbPath converts a slash-separated relative path to the SMB separator.
func toSmbPath(p string) string {
	if p == "" {
		return "."
	}
	return strings.ReplaceAll(p, "/", `\`)
}

func (c *shareConnector) Type() models.DatasourceType { return models.DatasourceShare }

func (c *shareConnector) Discover(ctx context.Context) (<-chan ObjectRef, <-chan error) {
	objects := make(chan ObjectRef)
	errc := make(chan error, 1)

	go func() {
		defer close(objects)
		defer close(errc)

		if err := c.connect(ctx); err != nil {
			errc <- err
			return
		}

		stack := []string{c.root}
		for len(stack) > 0 {
			dir := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			infos, err := c.mounted.ReadDir(toSmbPath(dir))
			if err != nil {
				errc <- errors.Wrapf(err, "read dir %q", dir)
				return
			}
			for _, info := range infos {
				rel := info.Name()
				if dir != "" {
					rel = dir + "/" + info.Name()
				}
				if info.IsDir() {
					stack = append(stack, rel)
					continue
				}
				selfLink := "smb://" + c.host + "/" + c.share + "/" + rel
				sum := sha256.Sum256([]byte(selfLink))
				ref := ObjectRef{
					SourceID:     hex.EncodeToString(sum[:]),
					SelfLink:     selfLink,
					Filename:     rel,
					LastModified: info.ModTime(),
					Size:         info.Size(),
					StoreMetadata: map[string]interface{}{
						"path":          rel,
						"last_modified": info.ModTime().UTC().Format("2006-01-02 15:04:05"),
						"size":          info.Size(),
					},
				}
				select {
				case objects <- ref:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}
	}()

	return objects, errc
}

func (c *shareConnector) Fetch(ctx context.Context, ref ObjectRef, destDir string) (string, error) {
	if err := c.connect(ctx); err != nil {
		return "", err
	}
	rel, _ := ref.StoreMetadata["path"].(string)
	src, err := c.mounted.Open(toSmbPath(rel))
	if err != nil {
		return "", errors.Wrapf(err, "open %q", rel)
	}
	defer src.Close()

	dest := filepath.Join(destDir, uuid.NewString()+"-"+filepath.Base(rel))
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dest)
		return "", errors.Wrapf(err, "copy %q", rel)
	}
	return dest, nil
}

func (c *shareConnector) Exists(ctx context.Context, storeMetadata map[string]interface{}) (bool, error) {
	if err := c.connect(ctx); err != nil {
		return false, err
	}
	rel, _ := storeMetadata["path"].(string)
	if rel == "" {
		return false, errors.New("store metadata missing path")
	}
	_, err := c.mounted.Stat(toSmbPath(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *shareConnector) Close() error {
	if c.mounted != nil {
		c.mounted.Umount()
		c.mounted = nil
	}
	if c.session != nil {
		c.session.Logoff()
		c.session = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
