// Package reasoning wraps the multimodal reasoning service used by every
// pipeline stage.
package reasoning

import (
	"context"
	"errors"
	"time"

	"github.com/metalagman/plancheck/internal/model"
)

const (
	defaultModel     = "gemini-2.5-pro"
	defaultAPIKeyEnv = "GEMINI_API_KEY"
	defaultTimeout   = 5 * time.Minute
	defaultBackoff   = 2 * time.Second

	// MimePDF is the media type of plan set documents.
	MimePDF = "application/pdf"
)

// ErrEmptyResponse is returned when the service produced no text.
var ErrEmptyResponse = errors.New("reasoning response did not contain output text")

// Config is reasoning client configuration.
type Config struct {
	Model      string
	APIKey     string
	APIKeyEnv  string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Request is a single inference call.
type Request struct {
	// Label names the calling stage in logs.
	Label string
	// Document is optional; it is sent inline before the instruction.
	Document     []byte
	DocumentMIME string
	Instruction  string
	MaxTokens    int
}

// Response is the raw text returned by the service.
type Response struct {
	Text  string
	Usage model.Usage
}

// Client performs one stateless inference call. A failed call may still
// return a Response whose Usage holds the tokens the service billed.
type Client interface {
	Infer(ctx context.Context, req Request) (Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (Response, error)

// Infer calls f.
func (f ClientFunc) Infer(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }
