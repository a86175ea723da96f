package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/local/flipbook/internal/render"
)

// Options configures the archive bucket.
type Options struct {
	Bucket          string
	Region          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Password        string
}

// Archive keeps uploaded sources and, optionally, their rendered pages in S3.
type Archive struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	password string
}

// Entry describes an archived source document.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	Encrypted   bool      `json:"encrypted"`
	Modified    time.Time `json:"modified"`
}

// NewArchive creates the S3 client from the default credential chain, or from static
// keys when both are set.
func NewArchive(ctx context.Context, opts Options) (*Archive, error) {
	var loaders []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loaders = append(loaders, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Archive{
		client:   cli,
		uploader: manager.NewUploader(cli),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		password: opts.Password,
	}, nil
}

func (a *Archive) Bucket() string { return a.bucket }

func (a *Archive) documentsPrefix() string { return path.Join(a.prefix, "documents") + "/" }

func (a *Archive) sourceKey(fingerprint string) string {
	return path.Join(a.prefix, "documents", fingerprint, "source.pdf")
}

func (a *Archive) pageKey(fingerprint string, p render.Page) string {
	ext := ".jpg"
	if p.Format == render.FormatPNG {
		ext = ".png"
	}
	return path.Join(a.prefix, "documents", fingerprint, "pages", fmt.Sprintf("%04d%s", p.Index, ext))
}

// Ping checks the bucket is reachable with the configured credentials.
func (a *Archive) Ping(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	return err
}

// PutDocument stores a source PDF, sealed when a password is configured.
func (a *Archive) PutDocument(ctx context.Context, fingerprint, name string, data []byte) error {
	body := data
	encrypted := "false"
	if a.password != "" {
		sealed, err := seal(data, a.password)
		if err != nil {
			return fmt.Errorf("failed to encrypt data: %w", err)
		}
		body, encrypted = sealed, "true"
	}
	key := a.sourceKey(fingerprint)
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/pdf"),
		Metadata:    map[string]string{"name": name, "encrypted": encrypted},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Info().Str("key", key).Str("name", name).Bool("encrypted", a.password != "").Msg("archived source document")
	return nil
}

// PutPage stores one rendered page image.
func (a *Archive) PutPage(ctx context.Context, fingerprint string, p render.Page) error {
	key := a.pageKey(fingerprint, p)
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(p.Image),
		ContentType: aws.String(p.ContentType()),
	})
	if err != nil {
		return fmt.Errorf("failed to upload page %d: %w", p.Index, err)
	}
	return nil
}

// GetDocument downloads an archived source, unsealing it if needed.
func (a *Archive) GetDocument(ctx context.Context, fingerprint string) ([]byte, *Entry, error) {
	key := a.sourceKey(fingerprint)
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	entry := &Entry{Fingerprint: fingerprint, Size: int64(len(data))}
	entry.Name, entry.Encrypted = metaName(result.Metadata), metaEncrypted(result.Metadata)
	if result.LastModified != nil {
		entry.Modified = *result.LastModified
	}
	if entry.Encrypted {
		if data, err = unseal(data, a.password); err != nil {
			return nil, nil, err
		}
		entry.Size = int64(len(data))
	}
	log.Debug().Str("key", key).Str("name", entry.Name).Int("size", len(data)).Msg("downloaded archived document")
	return data, entry, nil
}

// List returns archived sources, newest first is not guaranteed.
func (a *Archive) List(ctx context.Context, limit int) ([]Entry, error) {
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.documentsPrefix()),
	})
	var out []Entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list archive failed: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || path.Base(*obj.Key) != "source.pdf" {
				continue
			}
			e := Entry{Fingerprint: path.Base(path.Dir(*obj.Key))}
			if obj.Size != nil {
				e.Size = *obj.Size
			}
			if obj.LastModified != nil {
				e.Modified = *obj.LastModified
			}
			head, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(a.bucket), Key: obj.Key})
			if err == nil {
				e.Name, e.Encrypted = metaName(head.Metadata), metaEncrypted(head.Metadata)
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func metaName(m map[string]string) string {
	if name, ok := m["name"]; ok {
		return name
	}
	return m["Name"]
}

func metaEncrypted(m map[string]string) bool {
	v, ok := m["encrypted"]
	if !ok {
		v = m["Encrypted"]
	}
	return v == "true"
}
