package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/context-graph/internal/model"
)

// maxS3Revisions bounds the revision log kept inside each object.
const maxS3Revisions = 100

// S3Config configures an S3 (or S3-compatible, e.g. MinIO) graph store.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// objectAPI is the part of *s3.Client the store calls.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps one JSON object per company. Writes are conditional on the
// object's ETag, so a concurrent writer makes the later Save fail with
// ErrVersionConflict.
type S3Store struct {
	client objectAPI
	bucket string
	prefix string
	now    func() time.Time
}

type s3Document struct {
	Graph     *model.ContextGraph `json:"graph"`
	Revisions []Revision          `json:"revisions"`
}

// NewS3 creates an S3Store from cfg, using the default AWS credential chain
// unless static keys are given.
func NewS3(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("s3: bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "s3: load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3WithClient(client objectAPI, bucket, prefix string) *S3Store {
	if prefix == "" {
		prefix = "graphs/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

func (s *S3Store) key(companyID string) string {
	return s.prefix + companyID + ".json"
}

func (s *S3Store) Load(ctx context.Context, companyID string) (*model.ContextGraph, error) {
	doc, _, err := s.get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return doc.Graph, nil
}

func (s *S3Store) Save(ctx context.Context, g *model.ContextGraph, writerTag string) (int64, error) {
	if err := validateGraph(g); err != nil {
		return 0, err
	}

	current, etag, err := s.get(ctx, g.CompanyID)
	if err != nil {
		return 0, err
	}
	if current.Graph.Version != g.Version {
		return 0, eris.Wrapf(ErrVersionConflict, "s3: save %s at version %d, stored %d",
			g.CompanyID, g.Version, current.Graph.Version)
	}

	next := g.Version + 1
	now := s.now().UTC()
	cp := g.Clone()
	stamp(cp, next, writerTag, now)
	doc := s3Document{
		Graph:     cp,
		Revisions: appendRevision(current.Revisions, Revision{CompanyID: g.CompanyID, Version: next, UpdatedBy: writerTag, UpdatedAt: now}),
	}

	put := &s3.PutObjectInput{IfMatch: aws.String(etag)}
	if err := s.put(ctx, g.CompanyID, doc, put); err != nil {
		if isPreconditionFailed(err) {
			return 0, eris.Wrapf(ErrVersionConflict, "s3: save %s", g.CompanyID)
		}
		return 0, eris.Wrapf(err, "s3: save %s", g.CompanyID)
	}

	stamp(g, next, writerTag, now)
	return next, nil
}

func (s *S3Store) Create(ctx context.Context, g *model.ContextGraph) error {
	if err := validateGraph(g); err != nil {
		return err
	}

	writer := g.UpdatedBy
	if writer == "" {
		writer = CreatedBy
	}
	now := s.now().UTC()
	cp := g.Clone()
	stamp(cp, 1, writer, now)
	doc := s3Document{
		Graph:     cp,
		Revisions: []Revision{{CompanyID: g.CompanyID, Version: 1, UpdatedBy: writer, UpdatedAt: now}},
	}

	put := &s3.PutObjectInput{IfNoneMatch: aws.String("*")}
	if err := s.put(ctx, g.CompanyID, doc, put); err != nil {
		if isPreconditionFailed(err) {
			return eris.Wrapf(ErrAlreadyExists, "s3: create %s", g.CompanyID)
		}
		return eris.Wrapf(err, "s3: create %s", g.CompanyID)
	}

	stamp(g, 1, writer, now)
	return nil
}

func (s *S3Store) History(ctx context.Context, companyID string, limit int) ([]Revision, error) {
	doc, _, err := s.get(ctx, companyID)
	if err != nil {
		return nil, err
	}

	limit = historyLimit(limit)
	out := make([]Revision, 0, min(limit, len(doc.Revisions)))
	for i := len(doc.Revisions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, doc.Revisions[i])
	}
	return out, nil
}

// Migrate is a no-op; objects are created on first write.
func (s *S3Store) Migrate(context.Context) error { return nil }

func (s *S3Store) Close() error { return nil }

func (s *S3Store) get(ctx context.Context, companyID string) (*s3Document, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(companyID)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", eris.Wrapf(ErrNotFound, "s3: load %s", companyID)
		}
		return nil, "", eris.Wrapf(err, "s3: load %s", companyID)
	}
	defer out.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", eris.Wrapf(err, "s3: read %s", companyID)
	}
	var doc s3Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, "", eris.Wrapf(err, "s3: unmarshal graph %s", companyID)
	}
	if doc.Graph == nil {
		return nil, "", eris.Errorf("s3: object for %s has no graph", companyID)
	}
	return &doc, aws.ToString(out.ETag), nil
}

func (s *S3Store) put(ctx context.Context, companyID string, doc s3Document, in *s3.PutObjectInput) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "s3: marshal graph")
	}
	in.Bucket = aws.String(s.bucket)
	in.Key = aws.String(s.key(companyID))
	in.Body = bytes.NewReader(data)
	in.ContentType = aws.String("application/json")
	_, err = s.client.PutObject(ctx, in)
	return err
}

func appendRevision(revs []Revision, r Revision) []Revision {
	revs = append(revs, r)
	if len(revs) > maxS3Revisions {
		revs = revs[len(revs)-maxS3Revisions:]
	}
	return revs
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// isPreconditionFailed reports a failed conditional write: the ETag moved
// (412) or another conditional write raced this one (409).
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
