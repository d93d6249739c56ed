package ledger

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/canonical"
)

// Archiver uploads proof artifacts to long-term object storage.
type Archiver interface {
	ArchiveArtifact(ctx context.Context, a *ProofArtifact) error
}

// S3Archiver writes canonicalized proof artifacts to S3 paths like:
//
//	s3://<bucket>/<prefix>/proofs/YYYY/MM/DD/<decisionID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Archiver creates an S3Archiver. Credentials come from the standard AWS
// environment; region falls back to AWS_REGION when empty.
func NewS3Archiver(ctx context.Context, bucket, prefix, region string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	var opts []func(*awsConfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsConfig.WithRegion(region))
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

// ArchiveArtifact canonicalizes the full artifact and uploads it. The stored
// object is byte-stable, so re-archiving the same artifact is idempotent.
func (s *S3Archiver) ArchiveArtifact(ctx context.Context, a *ProofArtifact) error {
	if a == nil {
		return fmt.Errorf("nil artifact")
	}

	envelope := a.hashEnvelope()
	envelope["currentHash"] = a.CurrentHash
	envelope["signature"] = a.Signature
	envelope["signerId"] = a.SignerID
	canonBytes, err := canonical.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("canonicalize artifact: %w", err)
	}

	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	year, month, day := ts.Date()
	key := path.Join(s.prefix, "proofs",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", a.DecisionID),
	)

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(canonBytes),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
