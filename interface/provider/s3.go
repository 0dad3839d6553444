package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/spatialops/stac-fetcher/common"
	"github.com/spatialops/stac-fetcher/service"
)

// S3Provider implements AssetProvider for s3:// hrefs
type S3Provider struct {
	endpoint        string
	region          string
	anonymous       bool
	requesterPays   bool
}

type S3Option func(*S3Provider)

// WithEndpoint targets an s3-compatible service other than aws
func WithEndpoint(endpoint string) S3Option {
	return func(p *S3Provider) { p.endpoint = endpoint }
}

func WithRegion(region string) S3Option {
	return func(p *S3Provider) { p.region = region }
}

// WithAnonymous disables request signing, for public buckets
func WithAnonymous() S3Option {
	return func(p *S3Provider) { p.anonymous = true }
}

// WithRequesterPays flags the requests as requester-pays
func WithRequesterPays() S3Option {
	return func(p *S3Provider) { p.requesterPays = true }
}

// NewS3Provider creates a new AssetProvider reading from S3 buckets
func NewS3Provider(opts ...S3Option) *S3Provider {
	p := &S3Provider{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements AssetProvider
func (p *S3Provider) Name() string {
	return "S3"
}

// Supports implements AssetProvider
func (p *S3Provider) Supports(href string) bool {
	return strings.HasPrefix(href, "s3://")
}

func parseS3URI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	splits := strings.SplitN(trimmed, "/", 2)
	if len(splits) != 2 || splits[0] == "" || splits[1] == "" {
		return "", "", fmt.Errorf("invalid s3 uri: %s", uri)
	}
	return splits[0], splits[1], nil
}

func (p *S3Provider) client(ctx context.Context) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if p.region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(p.region))
	}
	if p.anonymous {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("LoadDefaultConfig: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if p.endpoint != "" {
			o.BaseEndpoint = aws.String(p.endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Download implements AssetProvider
func (p *S3Provider) Download(ctx context.Context, asset common.AssetAttrs, localDir string) error {
	bucket, key, err := parseS3URI(asset.Href)
	if err != nil {
		return fmt.Errorf("S3Provider: %w", err)
	}

	client, err := p.client(ctx)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("S3Provider: %w", err))
	}

	localFile := assetFilePath(localDir, asset.Key, asset.Href)
	f, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("S3Provider.Create: %w", err)
	}
	defer f.Close()

	input := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if p.requesterPays {
		input.RequestPayer = types.RequestPayerRequester
	}
	if _, err := manager.NewDownloader(client).Download(ctx, f, input); err != nil {
		os.Remove(localFile)
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return ErrAssetNotFound{asset.Href}
		}
		return service.MakeTemporary(fmt.Errorf("S3Provider.Download[%s]: %w", asset.Href, err))
	}

	if isArchive(asset.Href) {
		defer os.Remove(localFile)
		if err := unarchive(localFile, localDir); err != nil {
			return fmt.Errorf("S3Provider.Unarchive: %w", err)
		}
	}
	return nil
}
