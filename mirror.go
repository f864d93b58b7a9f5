package main

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// mirrorObjectAPI is the slice of the S3 client the mirror needs.
type mirrorObjectAPI interface {
	PutObject(input *s3.PutObjectInput) (*s3.PutObjectOutput, error)
	HeadObject(input *s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
}

// Mirror pushes persisted assets to an S3 bucket as a backup. The sweep
// is additive only: already-mirrored keys are skipped, and individual
// failures are counted, not fatal.
type Mirror struct {
	storage     *Storage
	objects     mirrorObjectAPI
	bucket      string
	concurrency int
}

type MirrorStats struct {
	Mirrored int `json:"mirrored"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func NewMirror(storage *Storage, cfg MirrorConfig) (*Mirror, error) {
	awsConfig := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("can't create mirror session: %w", err)
	}

	return &Mirror{
		storage:     storage,
		objects:     s3.New(sess),
		bucket:      cfg.Bucket,
		concurrency: cfg.Concurrency,
	}, nil
}

// Sweep mirrors every known asset that is not yet in the bucket.
func (m *Mirror) Sweep() (MirrorStats, error) {
	assets, err := ListAssets()
	if err != nil {
		return MirrorStats{}, fmt.Errorf("can't list assets: %w", err)
	}

	var mirrored, skipped, failed int64

	var g errgroup.Group
	g.SetLimit(m.concurrency)

	for _, asset := range assets {
		asset := asset
		g.Go(func() error {
			key := "assets/" + asset.SHA1

			exists, err := m.objectExists(key)
			if err != nil {
				log.Printf("Mirror head failed for %s: %v", key, err)
				atomic.AddInt64(&failed, 1)
				return nil
			}
			if exists {
				atomic.AddInt64(&skipped, 1)
				return nil
			}

			if err := m.putAsset(key, asset); err != nil {
				log.Printf("Mirror upload failed for %s: %v", key, err)
				atomic.AddInt64(&failed, 1)
				return nil
			}

			atomic.AddInt64(&mirrored, 1)
			log.Printf("Mirrored %s (%s)", key, humanize.Bytes(uint64(asset.Size)))
			return nil
		})
	}

	g.Wait()

	return MirrorStats{
		Mirrored: int(atomic.LoadInt64(&mirrored)),
		Skipped:  int(atomic.LoadInt64(&skipped)),
		Failed:   int(atomic.LoadInt64(&failed)),
	}, nil
}

func (m *Mirror) objectExists(key string) (bool, error) {
	_, err := m.objects.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case "NotFound", s3.ErrCodeNoSuchKey:
			return false, nil
		}
	}
	return false, err
}

func (m *Mirror) putAsset(key string, asset Asset) error {
	file, err := m.storage.Retrieve(asset.SHA1)
	if err != nil {
		return fmt.Errorf("can't open asset: %w", err)
	}
	defer file.Close()

	_, err = m.objects.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(asset.ContentType),
	})
	return err
}
