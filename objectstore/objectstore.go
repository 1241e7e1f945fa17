// Package objectstore writes and reads rendition media (init segments,
// Parts, sealed Segments) against an S3-compatible backend. It adapts the
// teacher's clients/object_store_client.go: same driver abstraction
// (go-tools/drivers), same exponential-backoff retry shape
// (cenkalti/backoff/v4), generalized from the teacher's ad-hoc
// upload/download helpers into a small client type scoped to one
// rendition's object paths.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/livepeer/go-tools/drivers"

	xerrors "github.com/livepeer/catalyst-api/errors"
	"github.com/livepeer/catalyst-api/log"
	"github.com/livepeer/catalyst-api/metrics"
)

// maxRetryInterval caps the exponential backoff between retried writes,
// matching the teacher's own ceiling for object-store operations.
var maxRetryInterval = 5 * time.Second

// Client writes and reads objects under one rendition's base URL (an
// os://, s3://, or file:// style URL as accepted by go-tools/drivers).
type Client struct {
	baseURL string
}

// New builds a Client scoped to baseURL, e.g.
// "s3://us-east-1/my-bucket/streams/<connection-id>/<rendition>".
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL}
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// PutPart writes a Part's moof+mdat bytes at the content-addressed path
// "parts/<segmentIdx>/<partIdx>.m4s", retrying transient failures with
// jittered exponential backoff.
func (c *Client) PutPart(ctx context.Context, segmentIdx, partIdx uint32, data []byte) error {
	return c.put(ctx, fmt.Sprintf("parts/%d/%d.m4s", segmentIdx, partIdx), data)
}

// PutSegment writes a sealed Segment's concatenated media bytes at
// "segments/<segmentIdx>.m4s".
func (c *Client) PutSegment(ctx context.Context, segmentIdx uint32, data []byte) error {
	return c.put(ctx, fmt.Sprintf("segments/%d.m4s", segmentIdx), data)
}

// PutInit writes the track's moov/ftyp init segment at "init.mp4".
func (c *Client) PutInit(ctx context.Context, data []byte) error {
	return c.put(ctx, "init.mp4", data)
}

func (c *Client) put(ctx context.Context, relPath string, data []byte) error {
	driver, err := drivers.ParseOSURL(c.baseURL, true)
	if err != nil {
		return xerrors.Unretriable(fmt.Errorf("objectstore: parse base URL %q: %w", log.RedactURL(c.baseURL), err))
	}
	sess := driver.NewSession(relPath)

	var host, bucket string
	if info := sess.GetInfo(); info != nil && info.S3Info != nil {
		host, bucket = info.S3Info.Host, info.S3Info.Bucket
	}

	start := time.Now()
	err = backoff.Retry(func() error {
		_, err := sess.SaveData(ctx, "", bytes.NewReader(data), nil, 0)
		return err
	}, backoff.WithMaxRetries(c.newBackOff(), 5))

	if err != nil {
		metrics.Metrics.ObjectStoreClient.FailureCount.WithLabelValues(host, "write", bucket).Inc()
		return fmt.Errorf("objectstore: write %q: %w", relPath, err)
	}
	metrics.Metrics.ObjectStoreClient.RequestDuration.WithLabelValues(host, "write", bucket).Observe(time.Since(start).Seconds())
	return nil
}

// Get reads the object at relPath relative to the Client's base URL.
func (c *Client) Get(ctx context.Context, relPath string) (io.ReadCloser, error) {
	driver, err := drivers.ParseOSURL(c.baseURL, true)
	if err != nil {
		return nil, xerrors.Unretriable(fmt.Errorf("objectstore: parse base URL %q: %w", log.RedactURL(c.baseURL), err))
	}
	sess := driver.NewSession(relPath)

	var host, bucket string
	if info := sess.GetInfo(); info != nil && info.S3Info != nil {
		host, bucket = info.S3Info.Host, info.S3Info.Bucket
	}

	start := time.Now()
	fr, err := sess.ReadData(ctx, "")
	if err != nil {
		metrics.Metrics.ObjectStoreClient.FailureCount.WithLabelValues(host, "read", bucket).Inc()
		if err == drivers.ErrNotExist {
			return nil, xerrors.NewObjectNotFoundError(fmt.Sprintf("objectstore: %q not found", relPath), err)
		}
		return nil, fmt.Errorf("objectstore: read %q: %w", relPath, err)
	}
	metrics.Metrics.ObjectStoreClient.RequestDuration.WithLabelValues(host, "read", bucket).Observe(time.Since(start).Seconds())
	return fr.Body, nil
}
