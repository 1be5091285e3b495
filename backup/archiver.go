// Package backup implements the Backup Archiver: a timer-driven process
// that uploads point-in-time snapshots of the Session Store and Condition
// Store files to S3-compatible object storage, for disaster recovery of
// state that otherwise lives only on one machine's disk.
package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// ClientConfig configures the S3-compatible backend the Archiver uploads
// to, supporting both standard AWS S3 and compatible providers via a
// custom Endpoint.
type ClientConfig struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool
}

// Archiver periodically snapshots one or more source files to S3.
type Archiver struct {
	client   *s3.Client
	bucket   string
	interval time.Duration
	sources  map[string]string // object key prefix -> local file path

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewClient builds the underlying S3 client from cfg.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backup: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("backup: region is required")
	}

	// Static keys are used only when configured; otherwise the SDK's default
	// credential chain (environment, shared config, instance role) applies.
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(creds))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("backup: load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		})
	}
	if cfg.ForcePathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, opts...), nil
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}

// NewArchiver wires an S3 client against the given bucket. sources maps an
// object-key prefix (e.g. "sessions", "conditions") to the local file to
// snapshot under it; each snapshot is uploaded under
// "<prefix>/<unix-timestamp>.json".
func NewArchiver(client *s3.Client, bucket string, interval time.Duration, sources map[string]string) *Archiver {
	return &Archiver{
		client:   client,
		bucket:   bucket,
		interval: interval,
		sources:  sources,
	}
}

// Start spawns the snapshot loop, uploading immediately and then every
// configured interval until Stop is called.
func (a *Archiver) Start(ctx context.Context) {
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.run(ctx)
	log.Info().Dur("interval", a.interval).Msg("backup archiver started")
}

func (a *Archiver) run(ctx context.Context) {
	defer close(a.doneCh)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.snapshotAll(ctx)
	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.snapshotAll(ctx)
		}
	}
}

func (a *Archiver) snapshotAll(ctx context.Context) {
	for prefix, path := range a.sources {
		if err := a.snapshotOne(ctx, prefix, path); err != nil {
			log.Error().Err(err).Str("source", path).Msg("backup archiver: snapshot failed")
		}
	}
}

func (a *Archiver) snapshotOne(ctx context.Context, prefix, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("backup: open %s: %w", path, err)
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%d.json", prefix, time.Now().Unix())
	uploader := manager.NewUploader(a.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("backup: upload %s: %w", key, err)
	}
	log.Info().Str("key", key).Msg("backup archiver: snapshot uploaded")
	return nil
}

// Stop signals the snapshot loop and waits up to 5s for it to exit.
func (a *Archiver) Stop() {
	if a.stopCh == nil {
		return
	}
	close(a.stopCh)
	select {
	case <-a.doneCh:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("backup archiver did not stop within grace period")
	}
}
