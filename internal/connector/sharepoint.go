package connector

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/koltyakov/gosip"
	"github.com/koltyakov/gosip/api"
	strategy "github.com/koltyakov/gosip/auth/addin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/models"
)

// sharepointConnector walks one or more document libraries of a SharePoint
// site. Object identity is the file's UniqueId.
type sharepointConnector struct {
	siteURL   string
	sp        *api.SP
	libraries []string
	logger    zerolog.Logger
}

func newSharepointConnector(ds models.Datasource, logger zerolog.Logger) (*sharepointConnector, error) {
	sp, err := sharepointAPI(ds.Connection)
	if err != nil {
		return nil, err
	}
	libraries := splitDataobjects(ds.Connection["dataobjects"])
	if len(libraries) == 0 {
		libraries = []string{"Shared Documents"}
	}
	siteURL := strings.TrimRight(ds.Connection["site_url"], "/")
	return &sharepointConnector{
		siteURL:   siteURL,
		sp:        sp,
		libraries: libraries,
		logger:    logger.With().Str("connector", "sharepoint").Str("site", siteURL).Logger(),
	}, nil
}

func sharepointAPI(params map[string]string) (*api.SP, error) {
	auth := &strategy.AuthCnfg{
		SiteURL:      params["site_url"],
		ClientID:     params["client_id"],
		ClientSecret: params["client_secret"],
	}
	client := &gosip.SPClient{AuthCnfg: auth}
	return api.NewSP(client), nil
}

func probeSharepoint(ctx context.Context, params map[string]string) error {
	sp, err := sharepointAPI(params)
	if err != nil {
		return err
	}
	_, err = sp.Web().Get()
	return err
}

func (c *sharepointConnector) Type() models.DatasourceType { return models.DatasourceSharepoint }

func (c *sharepointConnector) Discover(ctx context.Context) (<-chan ObjectRef, <-chan error) {
	objects := make(chan ObjectRef)
	errc := make(chan error, 1)

	go func() {
		defer close(objects)
		defer close(errc)

		stack := append([]string{}, c.libraries...)
		for len(stack) > 0 {
			folderURI := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			folder := c.sp.Web().GetFolder(folderURI)

			subfolders, err := folder.Folders().Get()
			if err != nil {
				errc <- errors.Wrapf(err, "list folders under %q", folderURI)
				return
			}
			for _, sub := range subfolders.Data() {
				info := sub.Data()
				if info.Name == "Forms" {
					continue
				}
				stack = append(stack, info.ServerRelativeURL)
			}

			files, err := folder.Files().Get()
			if err != nil {
				errc <- errors.Wrapf(err, "list files under %q", folderURI)
				return
			}
			for _, file := range files.Data() {
				info := file.Data()
				ref := ObjectRef{
					SourceID:     info.UniqueID,
					SelfLink:     c.siteURL + info.ServerRelativeURL,
					Filename:     info.Name,
					LastModified: info.TimeLastModified,
					Size:         int64(info.Length),
					StoreMetadata: map[string]interface{}{
						"server_relative_url": info.ServerRelativeURL,
						"last_modified":       info.TimeLastModified.UTC().Format("2006-01-02 15:04:05"),
						"size":                info.Length,
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

func (c *sharepointConnector) Fetch(ctx context.Context, ref ObjectRef, destDir string) (string, error) {
	serverRelURL, _ := ref.StoreMetadata["server_relative_url"].(string)
	data, err := c.sp.Web().GetFile(serverRelURL).Download()
	if err != nil {
		return "", errors.Wrapf(err, "download %q", serverRelURL)
	}
	dest := filepath.Join(destDir, uuid.NewString()+"-"+path.Base(serverRelURL))
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", err
	}
	return dest, nil
}

func (c *sharepointConnector) Exists(ctx context.Context, storeMetadata map[string]interface{}) (bool, error) {
	serverRelURL, _ := storeMetadata["server_relative_url"].(string)
	if serverRelURL == "" {
		return false, errors.New("store metadata missing server_relative_url")
	}
	_, err := c.sp.Web().GetFile(serverRelURL).Get()
	if err != nil {
		// The REST API reports a missing file as a 404; anything else is
		// ambiguous and must not trigger deletion.
		if strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *sharepointConnector) Close() error { return nil }
