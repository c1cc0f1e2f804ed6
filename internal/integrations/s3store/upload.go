package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Upload streams body to the bucket under key, reporting fractional progress
// in [0, 1] as bytes are consumed. Cancelling ctx aborts the request; a
// single PutObject is atomic, so a cancelled upload never leaves a partial
// object visible.
func (c *Client) Upload(ctx context.Context, key string, body io.Reader, size int64, progress func(fraction float64)) error {
	key = CleanObjectName(key)
	if key == "" {
		return errors.New("s3store: upload key must not be empty")
	}
	if size < 0 {
		return errors.New("s3store: upload size must not be negative")
	}

	reader := io.Reader(body)
	if progress != nil && size > 0 {
		reader = &progressReader{ctx: ctx, r: body, total: size, report: progress}
	}

	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("s3store: upload %q: %w", key, err)
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

// CleanObjectName strips the leading "./" some browsers prepend to the
// submitted filename.
func CleanObjectName(name string) string {
	return strings.TrimLeft(strings.TrimSpace(name), "./")
}

// progressReader counts consumed bytes and reports the fraction read. It also
// honors context cancellation between reads so a stalled transport cannot
// keep streaming after the caller gave up.
type progressReader struct {
	ctx    context.Context
	r      io.Reader
	total  int64
	sent   int64
	report func(fraction float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		fraction := float64(p.sent) / float64(p.total)
		if fraction > 1 {
			fraction = 1
		}
		p.report(fraction)
	}
	return n, err
}
