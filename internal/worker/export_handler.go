package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"projection-orchestrator/internal/config"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/runs"
	"projection-orchestrator/internal/telemetry"
)

type exportUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ExportHandler renders a run's computed summary as a JSON document and
// uploads it to S3 or the local filesystem.
type ExportHandler struct {
	cfg   config.Config
	runs  runs.Repo
	local exportUploader
	s3    exportUploader
}

type exportJobPayload struct {
	RunID       string `json:"runId"`
	OutputKey   string `json:"outputKey"`
	Destination string `json:"destination"`
}

// NewExportHandler constructs the handler and chooses an uploader (local or S3).
func NewExportHandler(ctx context.Context, cfg config.Config, runRepo runs.Repo) (*ExportHandler, error) {
	baseDir := cfg.ExportLocalDir
	if baseDir == "" {
		baseDir = "./exports"
	}

	var s3Upload exportUploader
	if cfg.ExportS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s3Upload = &s3Uploader{client: client, bucket: cfg.ExportS3Bucket}
	}

	return &ExportHandler{
		cfg:   cfg,
		runs:  runRepo,
		local: &localUploader{baseDir: baseDir},
		s3:    s3Upload,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ExportS3Region),
	}
	if cfg.ExportS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ExportS3Endpoint,
					HostnameImmutable: cfg.ExportS3PathStyle,
					SigningRegion:     cfg.ExportS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ExportS3PathStyle
	}), nil
}

// Handle loads the run and uploads its summary document.
func (h *ExportHandler) Handle(ctx context.Context, job models.Job) error {
	payload, err := decodeExportPayload(job, h.cfg)
	if err != nil {
		return err
	}

	run, err := h.runs.Get(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status != models.RunStatusDone {
		return fmt.Errorf("run %s is %s, nothing to export", run.ID, run.Status)
	}

	document := map[string]any{
		"run_id":       run.ID,
		"model_id":     run.ModelID,
		"org_id":       run.OrgID,
		"status":       run.Status,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
		"summary":      run.SummaryJSON,
	}
	body, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	outputKey := payload.OutputKey
	if outputKey == "" {
		outputKey = fmt.Sprintf("%s.json", run.ID)
	}
	outputKey = sanitizeKey(outputKey)

	uploader, err := h.pickUploader(payload.Destination)
	if err != nil {
		return err
	}
	location, err := uploader.Upload(ctx, outputKey, body, "application/json")
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	telemetry.Info("export written", map[string]any{"job_id": job.ID, "run_id": run.ID, "location": location})
	return nil
}

func decodeExportPayload(job models.Job, cfg config.Config) (exportJobPayload, error) {
	var payload exportJobPayload
	raw, err := json.Marshal(job.Params)
	if err != nil {
		return payload, fmt.Errorf("marshal params: %w", err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("decode params: %w", err)
	}
	if payload.RunID == "" {
		payload.RunID = job.ObjectID
	}
	if payload.RunID == "" {
		return payload, errors.New("runId is required")
	}
	if payload.Destination == "" {
		if cfg.ExportS3Bucket != "" {
			payload.Destination = "s3"
		} else {
			payload.Destination = "local"
		}
	}
	return payload, nil
}

func (h *ExportHandler) pickUploader(destination string) (exportUploader, error) {
	switch strings.ToLower(destination) {
	case "s3":
		if h.s3 != nil {
			return h.s3, nil
		}
		return nil, errors.New("destination s3 requested but EXPORT_S3_BUCKET is not configured")
	case "local", "":
		if h.local != nil {
			return h.local, nil
		}
	}
	if h.s3 != nil {
		return h.s3, nil
	}
	if h.local != nil {
		return h.local, nil
	}
	return nil, errors.New("no uploader configured")
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
