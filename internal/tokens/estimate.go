// Package tokens estimates how many context units (tokens) a piece of text
// will consume in a downstream language model.
//
// Three methods are available. "fast" divides the byte length by four and
// never fails. "subwordTokenizer" runs a BPE tokenizer and degrades to "fast"
// when the tokenizer cannot be loaded. "precise" asks a live model service
// for an exact count and degrades to "subwordTokenizer", then "fast". The
// returned Estimate always names the method that actually produced the count.
package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Method identifies an estimation strategy.
type Method string

const (
	MethodFast     Method = "fast"
	MethodSubword  Method = "subwordTokenizer"
	MethodPrecise  Method = "precise"
	DefaultEncoder        = "cl100k_base"
)

// Accuracy describes how close an estimate is expected to be.
type Accuracy string

const (
	AccuracyRough Accuracy = "rough"
	AccuracyGood  Accuracy = "good"
	AccuracyExact Accuracy = "exact"
)

// CharsPerUnit is the byte-to-unit ratio used by the fast method. The
// chunker uses its inverse to turn a unit budget into a character budget.
const CharsPerUnit = 4

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodFast, MethodSubword, MethodPrecise:
		return Method(s), nil
	case "":
		return MethodFast, nil
	}
	return "", fmt.Errorf("unknown estimation method %q (want fast, subwordTokenizer or precise)", s)
}

// Estimate is the result of one estimation call.
type Estimate struct {
	Units     int      `json:"unitCount"`
	Method    Method   `json:"method"`
	Accuracy  Accuracy `json:"accuracyTier"`
	Requested Method   `json:"requestedMethod"`
}

// Degraded reports whether a fallback method produced the estimate.
func (e Estimate) Degraded() bool {
	return e.Method != e.Requested
}

// Counter returns an exact unit count from a live model service.
type Counter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// Tokenizer counts subword tokens locally.
type Tokenizer interface {
	Count(text string) int
}

// TokenizerLoader builds a Tokenizer on first use.
type TokenizerLoader func() (Tokenizer, error)

// Fast returns the byte length divided by CharsPerUnit, rounded down.
func Fast(text string) int {
	return len(text) / CharsPerUnit
}

// Estimator dispatches between estimation methods.
type Estimator struct {
	counter Counter
	load    TokenizerLoader
	log     *slog.Logger

	once   sync.Once
	tok    Tokenizer
	tokErr error
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithCounter enables the precise method.
func WithCounter(c Counter) Option {
	return func(e *Estimator) { e.counter = c }
}

// WithTokenizerLoader replaces the default tiktoken loader.
func WithTokenizerLoader(l TokenizerLoader) Option {
	return func(e *Estimator) {
		if l != nil {
			e.load = l
		}
	}
}

// WithLogger sets the logger used to report degradations.
func WithLogger(log *slog.Logger) Option {
	return func(e *Estimator) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEstimator creates an Estimator. Without options it supports fast and
// subwordTokenizer; precise degrades until a Counter is supplied.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		load: TiktokenLoader(DefaultEncoder),
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate counts the units in text using method, falling back as needed.
func (e *Estimator) Estimate(ctx context.Context, text string, method Method) Estimate {
	switch method {
	case MethodPrecise:
		if e.counter != nil {
			n, err := e.counter.CountTokens(ctx, text)
			if err == nil {
				return Estimate{Units: n, Method: MethodPrecise, Accuracy: AccuracyExact, Requested: method}
			}
			e.log.Warn("precise count failed, falling back", "fallback", MethodSubword, "error", err)
		} else {
			e.log.Warn("precise count unavailable, falling back", "fallback", MethodSubword)
		}
		est := e.subword(text)
		est.Requested = method
		return est
	case MethodSubword:
		est := e.subword(text)
		est.Requested = method
		return est
	default:
		return Estimate{Units: Fast(text), Method: MethodFast, Accuracy: AccuracyRough, Requested: MethodFast}
	}
}

func (e *Estimator) subword(text string) Estimate {
	tok, err := e.tokenizer()
	if err != nil {
		return Estimate{Units: Fast(text), Method: MethodFast, Accuracy: AccuracyRough}
	}
	return Estimate{Units: tok.Count(text), Method: MethodSubword, Accuracy: AccuracyGood}
}

func (e *Estimator) tokenizer() (tok Tokenizer, err error) {
	e.once.Do(func() {
		defer func() {
			// tiktoken panics on some malformed encoding files.
			if r := recover(); r != nil {
				e.tokErr = fmt.Errorf("load tokenizer: %v", r)
			}
			if e.tokErr != nil {
				e.log.Warn("subword tokenizer unavailable, falling back", "fallback", MethodFast, "error", e.tokErr)
			}
		}()
		e.tok, e.tokErr = e.load()
	})
	return e.tok, e.tokErr
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// TiktokenLoader loads a named BPE encoding. The encoding file is fetched
// and cached by tiktoken-go on first use, so it fails when offline without
// a warm cache.
func TiktokenLoader(encoding string) TokenizerLoader {
	return func() (Tokenizer, error) {
		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, fmt.Errorf("get encoding %s: %w", encoding, err)
		}
		return tiktokenTokenizer{enc: enc}, nil
	}
}
