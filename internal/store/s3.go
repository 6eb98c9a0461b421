package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"drivesync/internal/drive"
)

// S3Store is a PermanentStore backed by an S3 bucket. Record bodies live
// under reverse-timestamp keys so ListObjectsV2 pages newest first; tag
// envelopes ride in object metadata. The bucket policy is the trust
// boundary for the attested owner: every writer sharing credentials is
// trusted to stamp its own wallet address.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	clock    drive.Clock
}

// S3Options configures an S3Store. Empty credentials fall back to the
// default AWS credential chain.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Store creates an S3-backed store. clock may be nil.
func NewS3Store(ctx context.Context, opts S3Options, clock drive.Clock) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}
	if clock == nil {
		clock = drive.RealClock{}
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
		clock:    clock,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, w drive.Wallet, r io.Reader, size int64, tags []drive.Tag) (string, error) {
	id, err := newRecordID()
	if err != nil {
		return "", err
	}
	sig, err := w.Sign([]byte(id))
	if err != nil {
		return "", fmt.Errorf("signing record: %w", err)
	}

	// Records are laid out under the owner named by the Owner-Address
	// tag so tag queries stay a prefix listing; the attested owner is
	// the wallet's and travels in metadata.
	taggedOwner := w.Address()
	for _, t := range tags {
		if t.Name == drive.TagOwnerAddress {
			taggedOwner = t.Value
		}
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}

	now := s.clock.Now()
	key := s.recordPath(taggedOwner, recordKey(now, id))

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
		Metadata: map[string]string{
			"record-id":  id,
			"owner":      w.Address(),
			"signature":  fmt.Sprintf("%x", sig),
			"tags":       base64.StdEncoding.EncodeToString(tagsJSON),
			"block-time": now.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return "", fmt.Errorf("uploading record: %w", err)
	}

	// id -> key alias so Get does not need to list.
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.idPath(id)),
		Body:   strings.NewReader(key),
	})
	if err != nil {
		return "", fmt.Errorf("writing id alias: %w", err)
	}
	return id, nil
}

func (s *S3Store) Get(ctx context.Context, contentID string, out io.Writer) error {
	alias, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.idPath(contentID)),
	})
	if err != nil {
		return fmt.Errorf("resolving content id %s: %w", contentID, err)
	}
	keyBytes, err := io.ReadAll(alias.Body)
	alias.Body.Close()
	if err != nil {
		return fmt.Errorf("reading id alias: %w", err)
	}

	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(keyBytes)),
	})
	if err != nil {
		return fmt.Errorf("downloading record: %w", err)
	}
	defer obj.Body.Close()

	if _, err := io.Copy(out, obj.Body); err != nil {
		return fmt.Errorf("reading record: %w", err)
	}
	return nil
}

func (s *S3Store) QueryByTags(ctx context.Context, q drive.StoreQuery) (drive.StorePage, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.recordPath(q.OwnerAddress, "") + "/"),
		MaxKeys: aws.Int32(int32(pageSize)),
	}
	if q.Cursor != "" {
		input.ContinuationToken = aws.String(q.Cursor)
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return drive.StorePage{}, fmt.Errorf("listing records: %w", err)
	}

	var page drive.StorePage
	for _, obj := range out.Contents {
		rec, err := s.headRecord(ctx, aws.ToString(obj.Key))
		if err != nil {
			return drive.StorePage{}, err
		}
		if !matchesTags(rec.Tags, q.Tags) {
			continue
		}
		page.Records = append(page.Records, rec)
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextCursor = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (s *S3Store) headRecord(ctx context.Context, key string) (drive.StoreRecord, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return drive.StoreRecord{}, fmt.Errorf("reading record metadata %s: %w", key, err)
	}

	var tags []drive.Tag
	if raw, ok := head.Metadata["tags"]; ok {
		tagsJSON, err := base64.StdEncoding.DecodeString(raw)
		if err == nil {
			// A record with undecodable tags is still a record; it just
			// matches nothing.
			_ = json.Unmarshal(tagsJSON, &tags)
		}
	}

	blockTime := aws.ToTime(head.LastModified)
	if raw, ok := head.Metadata["block-time"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			blockTime = t
		}
	}

	return drive.StoreRecord{
		ID:           head.Metadata["record-id"],
		OwnerAddress: head.Metadata["owner"],
		Tags:         tags,
		BlockTime:    blockTime,
		Size:         aws.ToInt64(head.ContentLength),
	}, nil
}

func (s *S3Store) recordPath(owner, key string) string {
	return path.Join(s.prefix, "records", owner, key)
}

func (s *S3Store) idPath(id string) string {
	return path.Join(s.prefix, "ids", id)
}
