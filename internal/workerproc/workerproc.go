package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"callqa-backend/internal/pipeline"
	"callqa-backend/internal/queue"
)

// Processor runs the pipeline for one call.
type Processor interface {
	Process(ctx context.Context, callID int64, audioRef string) error
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingCallID indicates a message without a usable call id.
type ErrMissingCallID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingCallID) Error() string { return "missing call id" }

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	CallID    int64
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process call"
	}
	return "process call: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if msg.CallID <= 0 {
		return msg, meta, ErrMissingCallID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// HandleMessage runs a decoded message through the processor.
func HandleMessage(ctx context.Context, processor Processor, msg queue.Message) error {
	if processor == nil {
		return errors.New("call processor not configured")
	}
	if msg.CallID <= 0 {
		return ErrMissingCallID{RequestID: msg.RequestID}
	}
	if err := processor.Process(pipeline.WithRequestID(ctx, msg.RequestID), msg.CallID, msg.AudioRef); err != nil {
		return ErrProcess{CallID: msg.CallID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}
