package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/dbx"
	"github.com/jambasimaging/bizdesk/internal/logging"
	"github.com/jambasimaging/bizdesk/internal/netx"
	"github.com/jambasimaging/bizdesk/internal/server/access"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/repomanager"
	"github.com/jambasimaging/bizdesk/internal/timex"
)

// Seams over the AWS SDK so tests can presign without a network.
var (
	loadDefaultAWSConfig  = awsconfig.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// StorageSettings locate the S3-compatible bucket used for exports.
type StorageSettings struct {
	User         string
	Password     string
	Bucket       string
	Region       string
	BaseEndpoint string
	URLTTL       time.Duration
}

// Export is an uploaded report.
type Export struct {
	Key  string
	URL  string
	Rows int
}

// ReportService reads the profit ledger. It never looks at line items.
type ReportService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	storage     StorageSettings
	http        netx.Doer
	log         logging.Logger
	now         timex.Clock
}

func NewReportService(db dbx.DBTX, m repomanager.RepositoryManager, storage StorageSettings, client netx.Doer, log logging.Logger) *ReportService {
	return &ReportService{
		db:          db,
		repomanager: m,
		storage:     storage,
		http:        client,
		log:         log.With("module", "reports"),
		now:         timex.SystemClock,
	}
}

// ProfitSummary aggregates profit records per currency.
func (s *ReportService) ProfitSummary(ctx context.Context, actor access.Actor, f models.ProfitFilter) ([]*models.ProfitSummary, error) {
	if err := allow(actor, access.Read, access.IncomeReport); err != nil {
		return nil, err
	}
	return s.repomanager.Profits(s.db).Summarize(ctx, f)
}

// ProfitRecords lists the profit records matching f.
func (s *ReportService) ProfitRecords(ctx context.Context, actor access.Actor, f models.ProfitFilter) ([]*models.ProfitRecord, error) {
	if err := allow(actor, access.Read, access.IncomeReport); err != nil {
		return nil, err
	}
	return s.repomanager.Profits(s.db).List(ctx, f)
}

// AuditLedger lists invoices whose profit records disagree with their state.
func (s *ReportService) AuditLedger(ctx context.Context, actor access.Actor) ([]*models.LedgerMismatch, error) {
	if err := allow(actor, access.Read, access.LedgerAudit); err != nil {
		return nil, err
	}
	return s.repomanager.Profits(s.db).ListMismatches(ctx)
}

// LoginAudit lists the most recent login attempts.
func (s *ReportService) LoginAudit(ctx context.Context, actor access.Actor, limit int) ([]*models.LoginAuditEvent, error) {
	if err := allow(actor, access.Read, access.LoginAudit); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repomanager.LoginAudit(s.db).ListRecent(ctx, limit)
}

var csvHeader = []string{
	"invoice", "currency", "paid_at", "product_sales", "service_sales", "refunds",
	"revenue", "cost_of_goods", "cost_of_services", "gross_profit",
}

// ProfitCSV renders records as CSV with a header row.
func ProfitCSV(records []*models.ProfitRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range records {
		row := []string{
			r.InvoiceNumber,
			r.Currency,
			r.PaidAt.UTC().Format(time.RFC3339),
			r.ProductSales.StringFixed(2),
			r.ServiceSales.StringFixed(2),
			r.Refunds.StringFixed(2),
			r.Revenue.StringFixed(2),
			r.CostOfGoods.StringFixed(2),
			r.CostOfServices.StringFixed(2),
			r.GrossProfit.StringFixed(2),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func (s *ReportService) presignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.storage.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.storage.User, s.storage.Password, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.storage.BaseEndpoint)
		o.UsePathStyle = true
	})
	return newS3PresignClient(client), nil
}

// ExportProfitCSV uploads the records matching f as CSV and returns a
// presigned link to download them.
func (s *ReportService) ExportProfitCSV(ctx context.Context, actor access.Actor, f models.ProfitFilter) (*Export, error) {
	records, err := s.ProfitRecords(ctx, actor, f)
	if err != nil {
		return nil, err
	}
	body, err := ProfitCSV(records)
	if err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}

	pc, err := s.presignClient(ctx)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("profit/%s/%s.csv", s.now().Format("2006-01-02"), uuid.NewString())
	expires := s3.WithPresignExpires(s.storage.URLTTL)

	put, err := presignPutObject(pc, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.storage.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String("text/csv"),
	}, expires)
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}
	if err := netx.PutPresigned(ctx, s.http, put.URL, "text/csv", body); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	get, err := presignGetObject(pc, ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.storage.Bucket),
		Key:    aws.String(key),
	}, expires)
	if err != nil {
		return nil, fmt.Errorf("presign get: %w", err)
	}

	s.log.Info(ctx, "profit export uploaded", "key", key, "rows", len(records), "user", actor.UserID)
	return &Export{Key: key, URL: get.URL, Rows: len(records)}, nil
}
