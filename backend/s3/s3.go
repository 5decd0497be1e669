// Package s3 provides an adapter over S3 and compatible object stores.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/lib/pacer"
	"github.com/qihaolou/Foxel/lib/rest"
)

const (
	minSleep = 10 * time.Millisecond
	maxSleep = 2 * time.Second
	// minPartSize is the S3 minimum for every part but the last.
	minPartSize = 5 * 1024 * 1024
	streamChunk = 64 * 1024
)

func init() {
	fs.Register(&fs.RegInfo{
		Name:        "S3",
		Description: "S3 compatible object storage",
		NewAdapter:  NewAdapter,
		Options: fs.Options{{
			Key:      "bucket_name",
			Label:    "Bucket name",
			Type:     fs.TypeString,
			Required: true,
		}, {
			Key:      "access_key_id",
			Label:    "Access Key ID",
			Type:     fs.TypeString,
			Required: true,
		}, {
			Key:      "secret_access_key",
			Label:    "Secret Access Key",
			Type:     fs.TypePassword,
			Required: true,
		}, {
			Key:         "region_name",
			Label:       "Region",
			Type:        fs.TypeString,
			Placeholder: "us-east-1",
		}, {
			Key:         "endpoint_url",
			Label:       "Endpoint URL",
			Type:        fs.TypeString,
			Placeholder: "https://minio.example.com for S3 compatible storage",
		}, {
			Key:         "root",
			Label:       "Root path",
			Type:        fs.TypeString,
			Placeholder: "key prefix inside the bucket",
		}},
	})
}

// Fs is an adapter over one bucket of an S3 compatible store.
type Fs struct {
	name   string
	bucket string
	root   string
	c      *s3.S3
	pacer  *pacer.Pacer
}

// NewAdapter constructs the adapter from a validated config.
func NewAdapter(ctx context.Context, name string, config fs.ConfigMap) (fs.Adapter, error) {
	bucket := config.String("bucket_name")
	accessKeyID := config.String("access_key_id")
	secretAccessKey := config.String("secret_access_key")
	if bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, errors.Wrap(fs.ErrorInvalidArgument, "s3: bucket_name, access_key_id and secret_access_key are required")
	}
	region := config.String("region_name")
	if region == "" {
		region = "us-east-1"
	}
	awsConfig := aws.NewConfig().
		WithCredentials(credentials.NewStaticCredentials(accessKeyID, secretAccessKey, "")).
		WithRegion(region).
		WithMaxRetries(0) // the pacer owns retries
	if endpoint := config.String("endpoint_url"); endpoint != "" {
		// Compatible stores are reached by URL, not by virtual host.
		awsConfig = awsConfig.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}
	ses, err := session.NewSessionWithOptions(session.Options{Config: *awsConfig})
	if err != nil {
		return nil, errors.Wrap(err, "s3: NewSession")
	}
	f := &Fs{
		name:   name,
		bucket: bucket,
		root:   strings.Trim(config.String("root"), "/"),
		c:      s3.New(ses),
		pacer:  pacer.New().SetMinSleep(minSleep).SetMaxSleep(maxSleep),
	}
	return f, nil
}

// Name returns the configured instance name.
func (f *Fs) Name() string { return f.name }

// Type returns the backend type tag.
func (f *Fs) Type() string { return "S3" }

// String converts this Fs to a string for logging.
func (f *Fs) String() string {
	return fmt.Sprintf("S3 bucket %s", f.bucket)
}

// ResolveRoot joins the configured key prefix with the mount's sub path.
func (f *Fs) ResolveRoot(subPath string) string {
	subPath = strings.Trim(subPath, "/")
	switch {
	case subPath == "":
		return f.root
	case f.root == "":
		return subPath
	}
	return f.root + "/" + subPath
}

// key maps the resolved root and rel onto the object key.
func (f *Fs) key(root, rel string) string {
	root = strings.Trim(root, "/")
	rel = strings.Trim(rel, "/")
	switch {
	case root == "":
		return rel
	case rel == "":
		return root
	}
	return root + "/" + rel
}

// dirPrefix turns a key into the listing prefix for its children.
func dirPrefix(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

// pathEscape escapes s as for a URL path. It also escapes '+' for S3 and
// Digital Ocean Spaces compatibility.
func pathEscape(s string) string {
	return strings.ReplaceAll(rest.URLPathEscape(s), "+", "%2B")
}

// shouldRetry returns a boolean as to whether this err deserves to be
// retried. It returns the err as a convenience.
func (f *Fs) shouldRetry(ctx context.Context, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	if awsError, ok := err.(awserr.Error); ok {
		if awsError.Code() == "RequestTimeout" {
			return true, err
		}
		if reqErr, ok := err.(awserr.RequestFailure); ok {
			for _, code := range pacer.RetryErrorCodes {
				if reqErr.StatusCode() == code {
					return true, err
				}
			}
		}
	}
	return false, err
}

// isNotFound reports whether err is the store's 404 or NoSuchKey.
func isNotFound(err error) bool {
	if reqErr, ok := err.(awserr.RequestFailure); ok && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	if awsErr, ok := err.(awserr.Error); ok && awsErr.Code() == s3.ErrCodeNoSuchKey {
		return true
	}
	return false
}

// upstream maps an SDK failure onto the error taxonomy, keeping the
// store's status when one is known.
func upstream(err error, what string) error {
	if reqErr, ok := err.(awserr.RequestFailure); ok {
		return fs.Upstreamf(reqErr.StatusCode(), "s3: %s: %s: %s", what, reqErr.Code(), reqErr.Message())
	}
	if awsErr, ok := err.(awserr.Error); ok {
		return fs.Upstreamf(http.StatusBadGateway, "s3: %s: %s: %s", what, awsErr.Code(), awsErr.Message())
	}
	return fs.Upstreamf(http.StatusBadGateway, "s3: %s: %v", what, err)
}

// List enumerates the immediate children of rel with one delimiter
// listing per page of keys, directories first.
func (f *Fs) List(ctx context.Context, root, rel string, opt fs.ListOptions) ([]fs.Entry, int, error) {
	prefix := dirPrefix(f.key(root, rel))
	req := s3.ListObjectsV2Input{
		Bucket:    &f.bucket,
		Prefix:    &prefix,
		Delimiter: aws.String("/"),
	}
	var entries []fs.Entry
	for {
		var resp *s3.ListObjectsV2Output
		err := f.pacer.Call(func() (bool, error) {
			var err error
			resp, err = f.c.ListObjectsV2WithContext(ctx, &req)
			return f.shouldRetry(ctx, err)
		})
		if err != nil {
			return nil, 0, upstream(err, "list "+rel)
		}
		for _, commonPrefix := range resp.CommonPrefixes {
			name := strings.Trim(strings.TrimPrefix(aws.StringValue(commonPrefix.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, fs.Entry{Name: name, IsDir: true, Kind: fs.KindDir})
		}
		for _, object := range resp.Contents {
			key := aws.StringValue(object.Key)
			if key == prefix {
				// the marker object for the listed directory itself
				continue
			}
			name := strings.TrimPrefix(key, prefix)
			if name == "" {
				continue
			}
			entry := fs.Entry{Name: name, Size: aws.Int64Value(object.Size), Kind: fs.KindFile}
			if object.LastModified != nil {
				entry.Mtime = object.LastModified.Unix()
			}
			entries = append(entries, entry)
		}
		if !aws.BoolValue(resp.IsTruncated) {
			break
		}
		req.ContinuationToken = resp.NextContinuationToken
	}
	fs.SortEntries(entries)
	total := len(entries)
	return fs.PageEntries(entries, opt.Page, opt.PageSize), total, nil
}

// Read returns the whole object.
func (f *Fs) Read(ctx context.Context, root, rel string) (data []byte, err error) {
	key := f.key(root, rel)
	var resp *s3.GetObjectOutput
	err = f.pacer.Call(func() (bool, error) {
		var err error
		resp, err = f.c.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: &f.bucket,
			Key:    &key,
		})
		return f.shouldRetry(ctx, err)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.Wrapf(fs.ErrorNotFound, "read %q", rel)
		}
		return nil, upstream(err, "read "+rel)
	}
	defer fs.CheckClose(resp.Body, &err)
	return io.ReadAll(resp.Body)
}

// Write stores data under the key.
func (f *Fs) Write(ctx context.Context, root, rel string, data []byte) error {
	key := f.key(root, rel)
	err := f.pacer.Call(func() (bool, error) {
		_, err := f.c.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: &f.bucket,
			Key:    &key,
			Body:   bytes.NewReader(data),
		})
		return f.shouldRetry(ctx, err)
	})
	if err != nil {
		return upstream(err, "write "+rel)
	}
	fs.Infof(f, "wrote %q (%d bytes)", rel, len(data))
	return nil
}

// WriteStream uploads the reader as a multipart upload, buffering at most
// one part in memory. Any failure aborts the upload so no orphaned parts
// are left behind.
func (f *Fs) WriteStream(ctx context.Context, root, rel string, in io.Reader) (int64, error) {
	key := f.key(root, rel)

	var mOut *s3.CreateMultipartUploadOutput
	err := f.pacer.Call(func() (bool, error) {
		var err error
		mOut, err = f.c.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
			Bucket: &f.bucket,
			Key:    &key,
		})
		return f.shouldRetry(ctx, err)
	})
	if err != nil {
		return 0, upstream(err, "create multipart upload for "+rel)
	}
	if mOut == nil || mOut.UploadId == nil {
		return 0, fs.Upstreamf(http.StatusBadGateway, "s3: no UploadId in multipart create for %q", rel)
	}
	uploadID := mOut.UploadId

	abort := func() {
		// The upload context may already be dead, so abort without it.
		_, aerr := f.c.AbortMultipartUpload(&s3.AbortMultipartUploadInput{
			Bucket:   &f.bucket,
			Key:      &key,
			UploadId: uploadID,
		})
		if aerr != nil {
			fs.Errorf(f, "failed to abort multipart upload %q: %v", aws.StringValue(uploadID), aerr)
		}
	}

	var (
		parts      []*s3.CompletedPart
		partNumber int64 = 1
		total      int64
	)
	uploadPart := func(data []byte) error {
		var uout *s3.UploadPartOutput
		err := f.pacer.Call(func() (bool, error) {
			var err error
			uout, err = f.c.UploadPartWithContext(ctx, &s3.UploadPartInput{
				Bucket:        &f.bucket,
				Key:           &key,
				PartNumber:    aws.Int64(partNumber),
				UploadId:      uploadID,
				Body:          bytes.NewReader(data),
				ContentLength: aws.Int64(int64(len(data))),
			})
			return f.shouldRetry(ctx, err)
		})
		if err != nil {
			return err
		}
		parts = append(parts, &s3.CompletedPart{
			PartNumber: aws.Int64(partNumber),
			ETag:       uout.ETag,
		})
		total += int64(len(data))
		partNumber++
		return nil
	}

	buf := make([]byte, minPartSize)
	for {
		n, rerr := io.ReadFull(in, buf)
		if n > 0 {
			if perr := uploadPart(buf[:n]); perr != nil {
				abort()
				return 0, upstream(perr, fmt.Sprintf("upload part %d of %q", partNumber, rel))
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			abort()
			return 0, errors.Wrapf(rerr, "s3: reading stream for %q", rel)
		}
	}
	if len(parts) == 0 {
		// Zero length streams still need one part for Complete to be valid.
		if perr := uploadPart(nil); perr != nil {
			abort()
			return 0, upstream(perr, "upload empty part of "+rel)
		}
	}

	err = f.pacer.Call(func() (bool, error) {
		_, err := f.c.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          &f.bucket,
			Key:             &key,
			UploadId:        uploadID,
			MultipartUpload: &s3.CompletedMultipartUpload{Parts: parts},
		})
		return f.shouldRetry(ctx, err)
	})
	if err != nil {
		abort()
		return 0, upstream(err, "complete multipart upload for "+rel)
	}
	fs.Infof(f, "wrote stream %q (%d bytes in %d parts)", rel, total, len(parts))
	return total, nil
}

// Mkdir writes a zero byte directory marker key.
func (f *Fs) Mkdir(ctx context.Context, root, rel string) error {
	key := dirPrefix(f.key(root, rel))
	err := f.pacer.Call(func() (bool, error) {
		_, err := f.c.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: &f.bucket,
			Key:    &key,
			Body:   bytes.NewReader(nil),
		})
		return f.shouldRetry(ctx, err)
	})
	if err != nil {
		return upstream(err, "mkdir "+rel)
	}
	fs.Infof(f, "created directory %q", rel)
	return nil
}

// Delete removes the object and anything under its prefix. Missing paths
// are a no-op.
func (f *Fs) Delete(ctx context.Context, root, rel string) error {
	key := f.key(root, rel)
	if key == "" {
		return errors.Wrap(fs.ErrorInvalidArgument, "s3: refusing to delete the bucket root")
	}
	// A name can exist both as an object and as a prefix.
	_, err := f.headObject(ctx, key)
	if err == nil {
		if derr := f.deleteObject(ctx, key); derr != nil {
			return derr
		}
	} else if !errors.Is(err, fs.ErrorNotFound) {
		return err
	}
	if err := f.deletePrefix(ctx, dirPrefix(key)); err != nil {
		return err
	}
	fs.Infof(f, "deleted %q", rel)
	return nil
}

func (f *Fs) deleteObject(ctx context.Context, key string) error {
	err := f.pacer.Call(func() (bool, error) {
		_, err := f.c.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: &f.bucket,
			Key:    &key,
		})
		return f.shouldRetry(ctx, err)
	})
	if err != nil && !isNotFound(err) {
		return upstream(err, "delete "+key)
	}
	return nil
}

// deletePrefix removes every object under prefix in listed batches.
func (f *Fs) deletePrefix(ctx context.Context, prefix string) error {
	req := s3.ListObjectsV2Input{
		Bucket: &f.bucket,
		Prefix: &prefix,
	}
	for {
		var resp *s3.ListObjectsV2Output
		err := f.pacer.Call(func() (bool, error) {
			var err error
			resp, err = f.c.ListObjectsV2WithContext(ctx, &req)
			return f.shouldRetry(ctx, err)
		})
		if err != nil {
			return upstream(err, "list for delete "+prefix)
		}
		if len(resp.Contents) > 0 {
			objects := make([]*s3.ObjectIdentifier, 0, len(resp.Contents))
			for _, object := range resp.Contents {
				objects = append(objects, &s3.ObjectIdentifier{Key: object.Key})
			}
			err = f.pacer.Call(func() (bool, error) {
				_, err := f.c.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
					Bucket: &f.bucket,
					Delete: &s3.Delete{Objects: objects},
				})
				return f.shouldRetry(ctx, err)
			})
			if err != nil {
				return upstream(err, "delete under "+prefix)
			}
		}
		if !aws.BoolValue(resp.IsTruncated) {
			return nil
		}
		req.ContinuationToken = resp.NextContinuationToken
	}
}

// headObject returns the object's metadata or ErrorNotFound.
func (f *Fs) headObject(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	var resp *s3.HeadObjectOutput
	err := f.pacer.Call(func() (bool, error) {
		var err error
		resp, err = f.c.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: &f.bucket,
			Key:    &key,
		})
		return f.shouldRetry(ctx, err)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.Wrapf(fs.ErrorNotFound, "head %q", key)
		}
		return nil, upstream(err, "head "+key)
	}
	return resp, nil
}

// prefixExists reports whether any key lives under prefix.
func (f *Fs) prefixExists(ctx context.Context, prefix string) (bool, error) {
	var resp *s3.ListObjectsV2Output
	err := f.pacer.Call(func() (bool, error) {
		var err error
		resp, err = f.c.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:  &f.bucket,
			Prefix:  &prefix,
			MaxKeys: aws.Int64(1),
		})
		return f.shouldRetry(ctx, err)
	})
	if err != nil {
		return false, upstream(err, "probe "+prefix)
	}
	return aws.Int64Value(resp.KeyCount) > 0, nil
}

// Stat describes rel: a HEAD for the object, then a one key prefix probe
// to detect directories that exist only through deeper keys.
func (f *Fs) Stat(ctx context.Context, root, rel string) (*fs.Entry, error) {
	key := f.key(root, rel)
	head, err := f.headObject(ctx, key)
	if err == nil {
		entry := fs.Entry{
			Name: fs.BaseName("/" + rel),
			Size: aws.Int64Value(head.ContentLength),
			Kind: fs.KindFile,
		}
		if head.LastModified != nil {
			entry.Mtime = head.LastModified.Unix()
		}
		return &entry, nil
	}
	if !errors.Is(err, fs.ErrorNotFound) {
		return nil, err
	}
	dir, derr := f.prefixExists(ctx, dirPrefix(key))
	if derr != nil {
		return nil, derr
	}
	if dir {
		return &fs.Entry{Name: fs.BaseName("/" + rel), IsDir: true, Kind: fs.KindDir}, nil
	}
	return nil, errors.Wrapf(fs.ErrorNotFound, "stat %q", rel)
}

// Exists reports whether rel exists as an object or a prefix.
func (f *Fs) Exists(ctx context.Context, root, rel string) (bool, error) {
	_, err := f.Stat(ctx, root, rel)
	if err != nil {
		if errors.Is(err, fs.ErrorNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Probe reports existence and kind without failing on a miss.
func (f *Fs) Probe(ctx context.Context, root, rel string) (*fs.Probe, error) {
	entry, err := f.Stat(ctx, root, rel)
	if err != nil {
		if errors.Is(err, fs.ErrorNotFound) {
			return &fs.Probe{}, nil
		}
		return nil, err
	}
	return &fs.Probe{
		Exists: true,
		IsDir:  entry.IsDir,
		IsFile: !entry.IsDir,
		Size:   entry.Size,
	}, nil
}

// Move copies then deletes, the store having no rename primitive.
func (f *Fs) Move(ctx context.Context, root, src, dst string) error {
	if err := f.Copy(ctx, root, src, dst, true); err != nil {
		return err
	}
	if err := f.Delete(ctx, root, src); err != nil {
		return err
	}
	fs.Infof(f, "moved %q to %q", src, dst)
	return nil
}

// Rename is the same primitive as Move here.
func (f *Fs) Rename(ctx context.Context, root, src, dst string) error {
	return f.Move(ctx, root, src, dst)
}

// Copy server side copies one object.
func (f *Fs) Copy(ctx context.Context, root, src, dst string, overwrite bool) error {
	srcKey := f.key(root, src)
	dstKey := f.key(root, dst)
	if !overwrite {
		_, err := f.headObject(ctx, dstKey)
		if err == nil {
			return errors.Wrapf(fs.ErrorAlreadyExists, "copy to %q", dst)
		}
		if !errors.Is(err, fs.ErrorNotFound) {
			return err
		}
	}
	err := f.pacer.Call(func() (bool, error) {
		_, err := f.c.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
			Bucket:     &f.bucket,
			Key:        &dstKey,
			CopySource: aws.String(pathEscape(f.bucket + "/" + srcKey)),
		})
		return f.shouldRetry(ctx, err)
	})
	if err != nil {
		if isNotFound(err) {
			return errors.Wrapf(fs.ErrorNotFound, "copy %q", src)
		}
		return upstream(err, "copy "+src)
	}
	fs.Infof(f, "copied %q to %q", src, dst)
	return nil
}

// parseRange interprets the client's Range header against the object
// size. Both bounds are optional; bounds past the end are rejected rather
// than clamped.
func parseRange(header string, size int64) (start, end int64, err error) {
	_, val, _ := strings.Cut(strings.TrimSpace(header), "=")
	s, e, _ := strings.Cut(val, "-")
	start, end = 0, size-1
	if s != "" {
		start, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, 0, errors.Wrapf(fs.ErrorInvalidArgument, "invalid range %q", header)
		}
	}
	if e != "" {
		end, err = strconv.ParseInt(e, 10, 64)
		if err != nil {
			return 0, 0, errors.Wrapf(fs.ErrorInvalidArgument, "invalid range %q", header)
		}
	}
	if start >= size || end >= size || start > end {
		return 0, 0, errors.Wrapf(fs.ErrorRangeNotSatisfiable, "range %q of %d bytes", header, size)
	}
	return start, end, nil
}

func mimeByName(name string) string {
	if mt := mime.TypeByExtension(path.Ext(name)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// chunkReader caps each Read to the stream chunk size.
type chunkReader struct {
	r io.Reader
	c io.Closer
}

func (cr *chunkReader) Read(p []byte) (int, error) {
	if len(p) > streamChunk {
		p = p[:streamChunk]
	}
	return cr.r.Read(p)
}

func (cr *chunkReader) Close() error { return cr.c.Close() }

// Stream serves a (possibly ranged) read over GetObject.
func (f *Fs) Stream(ctx context.Context, root, rel, rangeHeader string) (*fs.StreamResponse, error) {
	key := f.key(root, rel)
	head, err := f.headObject(ctx, key)
	if err != nil {
		if errors.Is(err, fs.ErrorNotFound) {
			return nil, errors.Wrapf(fs.ErrorNotFound, "stream %q", rel)
		}
		return nil, err
	}
	size := aws.Int64Value(head.ContentLength)
	contentType := aws.StringValue(head.ContentType)
	if contentType == "" {
		contentType = mimeByName(key)
	}

	start, end := int64(0), size-1
	status := http.StatusOK
	header := http.Header{}
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.FormatInt(size, 10))
	header.Set("Content-Disposition", "inline; filename=\""+url.PathEscape(fs.BaseName("/"+rel))+"\"")
	if rangeHeader != "" {
		start, end, err = parseRange(rangeHeader, size)
		if err != nil {
			return nil, err
		}
		status = http.StatusPartialContent
		header.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		header.Set("Content-Range", fs.ContentRange(start, end, size))
	}

	req := s3.GetObjectInput{Bucket: &f.bucket, Key: &key}
	if size > 0 {
		req.Range = aws.String(fmt.Sprintf("bytes=%d-%d", start, end))
	}
	var resp *s3.GetObjectOutput
	err = f.pacer.Call(func() (bool, error) {
		var err error
		resp, err = f.c.GetObjectWithContext(ctx, &req)
		return f.shouldRetry(ctx, err)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.Wrapf(fs.ErrorNotFound, "stream %q", rel)
		}
		return nil, upstream(err, "stream "+rel)
	}
	return &fs.StreamResponse{
		Status: status,
		Header: header,
		Body:   &chunkReader{r: resp.Body, c: resp.Body},
	}, nil
}
