package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/tanq16/pwrsync/internal/utils"
)

// S3API is the subset of the S3 client used for artifact hosting.
type S3API interface {
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

func (o *Orchestrator) s3() (S3API, error) {
	o.s3Once.Do(func() {
		opts := []func(*config.LoadOptions) error{config.WithRetryMode("adaptive")}
		if o.s3Profile != "" {
			opts = append(opts, config.WithSharedConfigProfile(o.s3Profile))
		}
		cfg, err := config.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			o.s3Err = fmt.Errorf("error loading AWS config: %w", err)
			return
		}
		o.s3Client = s3.NewFromConfig(cfg)
	})
	return o.s3Client, o.s3Err
}

type progressWriterAt struct {
	ctx        context.Context
	file       *os.File
	written    atomic.Int64
	total      int64
	progressCh chan<- utils.Progress
}

func (w *progressWriterAt) WriteAt(p []byte, off int64) (int, error) {
	n, err := w.file.WriteAt(p, off)
	if n > 0 {
		done := w.written.Add(int64(n))
		if perr := sendProgress(w.ctx, w.progressCh, utils.Progress{Downloaded: done, Total: w.total}); perr != nil {
			return n, perr
		}
	}
	return n, err
}

func (o *Orchestrator) s3Attempt(ctx context.Context, bucket, key, tempPath string, progressCh chan<- utils.Progress) error {
	link := fmt.Sprintf("s3://%s/%s", bucket, key)
	client, err := o.s3()
	if err != nil {
		return &utils.PermanentNetworkError{URL: link, Err: err}
	}
	total, err := headS3(ctx, client, bucket, key)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return &utils.TransientNetworkError{URL: link, Err: fmt.Errorf("error creating output file: %w", err)}
	}
	defer file.Close()

	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 2 * utils.DefaultBufferSize
		d.Concurrency = 4
	})
	writer := &progressWriterAt{ctx: ctx, file: file, total: total, progressCh: progressCh}
	_, err = downloader.Download(ctx, writer, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3(link, err)
	}
	if err := file.Sync(); err != nil {
		return &utils.TransientNetworkError{URL: link, Err: err}
	}
	return file.Close()
}

func (o *Orchestrator) s3Size(ctx context.Context, bucket, key string) (int64, error) {
	link := fmt.Sprintf("s3://%s/%s", bucket, key)
	client, err := o.s3()
	if err != nil {
		return 0, &utils.PermanentNetworkError{URL: link, Err: err}
	}
	var size int64
	err = o.policy.Do(ctx, "size "+link, func(int) error {
		size, err = headS3(ctx, client, bucket, key)
		return err
	})
	return size, err
}

func headS3(ctx context.Context, client S3API, bucket, key string) (int64, error) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, classifyS3(fmt.Sprintf("s3://%s/%s", bucket, key), err)
	}
	if head.ContentLength == nil {
		return -1, nil
	}
	return *head.ContentLength, nil
}

// classifyS3 maps SDK failures onto the network error taxonomy.
func classifyS3(link string, err error) error {
	if utils.IsCancelled(err) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket", "AccessDenied", "Forbidden":
			return &utils.PermanentNetworkError{URL: link, Err: err}
		}
	}
	return &utils.TransientNetworkError{URL: link, Err: err}
}
