package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config selects the bucket the artifact folders mirror to.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
}

// S3Sync pushes and pulls artifact files against one bucket prefix.
type S3Sync struct {
	cfg        S3Config
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// NewS3Sync resolves AWS credentials from the environment and shared
// config, same as the AWS CLI would.
func NewS3Sync(ctx context.Context, cfg S3Config) (*S3Sync, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("artifacts: s3 bucket not configured")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("artifacts: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3Sync{
		cfg:        cfg,
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

func (s *S3Sync) keyFor(relPath string) string {
	key := filepath.ToSlash(relPath)
	if s.cfg.Prefix != "" {
		key = strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + key
	}
	return key
}

// Push uploads every manifest entry, returning the number uploaded.
func (s *S3Sync) Push(ctx context.Context, m *Manager) (int, error) {
	entries, err := m.Manifest()
	if err != nil {
		return 0, err
	}
	pushed := 0
	for _, e := range entries {
		f, err := os.Open(filepath.Join(m.workspace, e.Path))
		if err != nil {
			return pushed, fmt.Errorf("open %s: %w", e.Path, err)
		}
		contentType := mime.TypeByExtension(filepath.Ext(e.Path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(s.keyFor(e.Path)),
			Body:        f,
			ContentType: aws.String(contentType),
		})
		f.Close()
		if err != nil {
			return pushed, fmt.Errorf("upload %s: %w", e.Path, err)
		}
		pushed++
		slog.Debug("artifacts: pushed", "path", e.Path, "bucket", s.cfg.Bucket)
	}
	return pushed, nil
}

// Pull downloads every object under the prefix into the workspace,
// returning the number downloaded.
func (s *S3Sync) Pull(ctx context.Context, m *Manager) (int, error) {
	prefix := ""
	if s.cfg.Prefix != "" {
		prefix = strings.TrimSuffix(s.cfg.Prefix, "/") + "/"
	}

	pulled := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return pulled, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, prefix)
			if rel == "" || strings.HasSuffix(rel, "/") {
				continue
			}
			local := filepath.Join(m.workspace, filepath.FromSlash(rel))
			if !strings.HasPrefix(local, m.workspace) {
				slog.Warn("artifacts: skipping object escaping workspace", "key", key)
				continue
			}
			if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
				return pulled, err
			}
			f, err := os.Create(local)
			if err != nil {
				return pulled, err
			}
			_, err = s.downloader.Download(ctx, f, &s3.GetObjectInput{
				Bucket: aws.String(s.cfg.Bucket),
				Key:    aws.String(key),
			})
			f.Close()
			if err != nil {
				return pulled, fmt.Errorf("download %s: %w", key, err)
			}
			pulled++
			slog.Debug("artifacts: pulled", "key", key)
		}
	}
	return pulled, nil
}
