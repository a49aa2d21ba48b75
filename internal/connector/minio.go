package connector

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/models"
)

// minioConnector serves both the minio and s3 datasource types; any
// S3-compatible endpoint works.
type minioConnector struct {
	dsType   models.DatasourceType
	client   *minio.Client
	endpoint string
	buckets  []string
	logger   zerolog.Logger
}

func newMinioConnector(ds models.Datasource, logger zerolog.Logger) (*minioConnector, error) {
	client, endpoint, err := minioClient(ds.Connection)
	if err != nil {
		return nil, err
	}
	return &minioConnector{
		dsType:   ds.Type,
		client:   client,
		endpoint: endpoint,
		buckets:  splitDataobjects(ds.Connection["dataobjects"]),
		logger:   logger.With().Str("connector", string(ds.Type)).Str("endpoint", endpoint).Logger(),
	}, nil
}

func minioClient(params map[string]string) (*minio.Client, string, error) {
	endpoint := params["endpoint"]
	host := endpoint
	secure := false
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, "", errors.Wrapf(err, "invalid endpoint %q", endpoint)
		}
		host = u.Host
		secure = u.Scheme == "https"
	}

	opts := &minio.Options{Secure: secure}
	if params["access_key"] != "" {
		opts.Creds = credentials.NewStaticV4(params["access_key"], params["secret_key"], "")
	} else {
		opts.Creds = credentials.NewStaticV4("", "", "")
	}
	if params["region"] != "" {
		opts.Region = params["region"]
	}

	client, err := minio.New(host, opts)
	if err != nil {
		return nil, "", err
	}
	return client, endpoint, nil
}

func splitDataobjects(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	buckets := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			buckets = append(buckets, p)
		}
	}
	return buckets
}

func probeMinio(ctx context.Context, params map[string]string) error {
	client, _, err := minioClient(params)
	if err != nil {
		return err
	}
	for _, bucket := range splitDataobjects(params["dataobjects"]) {
		if _, err := client.BucketExists(ctx, bucket); err != nil {
			return err
		}
		return nil
	}
	_, err = client.ListBuckets(ctx)
	return err
}

func (c *minioConnector) Type() models.DatasourceType { return c.dsType }

func (c *minioConnector) Discover(ctx context.Context) (<-chan ObjectRef, <-chan error) {
	objects := make(chan ObjectRef)
	errc := make(chan error, 1)

	go func() {
		defer close(objects)
		defer close(errc)

		buckets := c.buckets
		if len(buckets) == 0 {
			infos, err := c.client.ListBuckets(ctx)
			if err != nil {
				errc <- errors.Wrap(err, "list buckets")
				return
			}
			for _, info := range infos {
				buckets = append(buckets, info.Name)
			}
		}

		for _, bucket := range buckets {
			for obj := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
				if obj.Err != nil {
					errc <- errors.Wrapf(obj.Err, "list bucket %s", bucket)
					return
				}
				if strings.HasSuffix(obj.Key, "/") {
					continue
				}
				ref := ObjectRef{
					SourceID:     strings.Trim(obj.ETag, `"`),
					SelfLink:     c.endpoint + "/" + bucket + "/" + obj.Key,
					Filename:     obj.Key,
					LastModified: obj.LastModified,
					Size:         obj.Size,
					StoreMetadata: map[string]interface{}{
						"bucket":        bucket,
						"object_name":   obj.Key,
						"last_modified": obj.LastModified.UTC().Format("2006-01-02 15:04:05"),
						"size":          obj.Size,
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

func (c *minioConnector) Fetch(ctx context.Context, ref ObjectRef, destDir string) (string, error) {
	bucket, _ := ref.StoreMetadata["bucket"].(string)
	object, _ := ref.StoreMetadata["object_name"].(string)
	dest := filepath.Join(destDir, uuid.NewString()+"-"+path.Base(object))
	if err := c.client.FGetObject(ctx, bucket, object, dest, minio.GetObjectOptions{}); err != nil {
		return "", errors.Wrapf(err, "fetch %s/%s", bucket, object)
	}
	return dest, nil
}

func (c *minioConnector) Exists(ctx context.Context, storeMetadata map[string]interface{}) (bool, error) {
	bucket, _ := storeMetadata["bucket"].(string)
	object, _ := storeMetadata["object_name"].(string)
	if bucket == "" || object == "" {
		return false, errors.New("store metadata missing bucket/object_name")
	}
	_, err := c.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *minioConnector) Close() error { return nil }
