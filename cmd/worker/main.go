package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/gin-gonic/gin"

	"callqa-backend/internal/bootstrap"
	"callqa-backend/internal/queue"
	"callqa-backend/internal/shared/config"
	"callqa-backend/internal/shared/metrics"
	"callqa-backend/internal/shared/storage/db"
	"callqa-backend/internal/shared/telemetry"
	"callqa-backend/internal/workerproc"
)

func main() {
	cfg := config.Load()
	telemetry.Configure(cfg.Env, cfg.LogLevel)

	if cfg.SQSQueueURL == "" {
		fatal("worker.config_invalid", errors.New("RA_SQS_QUEUE_URL is required"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := queue.LoadAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		fatal("worker.aws_config_failed", err)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	app, err := bootstrap.Build(ctx, cfg, db.DefaultWorkerOptions(cfg.Worker.Concurrency))
	if err != nil {
		fatal("worker.bootstrap_failed", err)
	}

	if cfg.Worker.MetricsAddr != "" {
		go serveMetrics(cfg.Worker.MetricsAddr)
	}

	visibility := time.Duration(cfg.Worker.VisibilitySeconds) * time.Second
	w := &worker{
		client:     sqsClient,
		queueURL:   cfg.SQSQueueURL,
		processor:  app.Pipeline,
		policy:     app.RetryPolicy,
		visibility: visibility,
		heartbeat:  visibility / 2,
	}

	concurrency := max(1, cfg.Worker.Concurrency)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	telemetry.Info("worker.started", map[string]any{
		"queue_url":          cfg.SQSQueueURL,
		"concurrency":        concurrency,
		"visibility_seconds": cfg.Worker.VisibilitySeconds,
		"max_attempts":       app.RetryPolicy.MaxAttempts,
	})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(cfg.SQSQueueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(cfg.Worker.VisibilitySeconds),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				// in-flight jobs run to completion after a shutdown signal
				w.handle(context.WithoutCancel(ctx), m)
			}(msg)
		}
	}

	telemetry.Info("worker.shutdown", map[string]any{"timeout": cfg.Worker.ShutdownTimeout.String()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(cfg.Worker.ShutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"timeout": cfg.Worker.ShutdownTimeout.String()})
	}
	if err := app.Close(context.Background()); err != nil {
		telemetry.Warn("worker.close_failed", map[string]any{"error": err.Error()})
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// maxVisibility is the SQS ceiling for a visibility timeout.
const maxVisibility = 12 * time.Hour

type worker struct {
	client    sqsAPI
	queueURL  string
	processor workerproc.Processor
	policy    workerproc.RetryPolicy
	// visibility is re-applied every heartbeat while a job runs so a long
	// job is not redelivered to another worker. Zero disables it.
	visibility time.Duration
	heartbeat  time.Duration
}

func (w *worker) handle(ctx context.Context, msg sqstypes.Message) {
	attempt := max(1, receiveCount(msg))
	decoded, meta, err := workerproc.ParseMessage(aws.ToString(msg.Body))
	if err != nil {
		fields := baseFields(msg, 0, "")
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		var missing workerproc.ErrMissingCallID
		if errors.As(err, &missing) {
			fields["request_id"] = missing.RequestID
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.job.decode_failed", fields)
		if w.delete(ctx, msg, fields) {
			metrics.IncJobDropped()
		}
		return
	}

	fields := baseFields(msg, decoded.CallID, decoded.RequestID)
	telemetry.Info("worker.job.received", fields)

	stop := w.keepInvisible(ctx, msg, fields)
	err = workerproc.HandleMessage(ctx, w.processor, decoded)
	stop()
	action, delay := w.policy.Decide(err, attempt)
	fields["action"] = action.String()
	switch action {
	case workerproc.ActionAck:
		if w.delete(ctx, msg, fields) {
			telemetry.Info("worker.job.completed", fields)
		}
	case workerproc.ActionDrop:
		fields["error"] = err.Error()
		telemetry.Error("worker.job.failed", fields)
		if w.delete(ctx, msg, fields) {
			metrics.IncJobDropped()
		}
	case workerproc.ActionRetry:
		fields["error"] = err.Error()
		fields["retry_in_ms"] = delay.Milliseconds()
		telemetry.Warn("worker.job.retry", fields)
		metrics.IncJobRetried()
		w.setVisibility(ctx, msg, delay, fields)
	}
}

// keepInvisible extends the message visibility until the returned func is called.
func (w *worker) keepInvisible(ctx context.Context, msg sqstypes.Message, fields map[string]any) func() {
	if w.visibility <= 0 || w.heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.setVisibility(ctx, msg, w.visibility, fields)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// setVisibility makes the message visible again after d.
func (w *worker) setVisibility(ctx context.Context, msg sqstypes.Message, d time.Duration, fields map[string]any) {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		return
	}
	d = min(max(d, 0), maxVisibility)
	if _, err := w.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(w.queueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: int32(d / time.Second),
	}); err != nil {
		telemetry.Error("worker.job.visibility_failed", withError(fields, err))
	}
}

func (w *worker) delete(ctx context.Context, msg sqstypes.Message, fields map[string]any) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		telemetry.Error("worker.job.delete_failed", withError(fields, errors.New("missing receipt handle")))
		return false
	}
	if _, err := w.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		telemetry.Error("worker.job.delete_failed", withError(fields, err))
		return false
	}
	return true
}

func withError(fields map[string]any, err error) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}

func baseFields(msg sqstypes.Message, callID int64, requestID string) map[string]any {
	fields := map[string]any{
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if callID > 0 {
		fields["call_id"] = callID
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func serveMetrics(addr string) {
	r := gin.New()
	r.GET("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		telemetry.Error("worker.metrics_server_failed", map[string]any{"addr": addr, "error": err.Error()})
	}
}

func fatal(event string, err error) {
	telemetry.Error(event, map[string]any{"error": err.Error()})
	os.Exit(1)
}
