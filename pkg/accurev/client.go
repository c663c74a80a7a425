// Package accurev adapts the accurev command-line client to the
// source-client contract consumed by the retrieval pipeline.
package accurev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ac2git/ac2git/internal/accurevxml"
)

// Client shells out to the accurev binary for hist, show streams, diff,
// pop, deep-hist, and login.
type Client struct {
	binPath    string
	retryMax   int
	retryDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBinPath overrides the accurev executable name/path. Defaults to
// "accurev", resolved via PATH.
func WithBinPath(path string) Option {
	return func(c *Client) { c.binPath = path }
}

// WithRetry bounds the number of retries and the initial backoff delay
// applied to TransientSourceError classes.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Client) {
		c.retryMax = maxRetries
		c.retryDelay = delay
	}
}

// NewClient constructs a Client with the given options applied over
// sane defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		binPath:    "accurev",
		retryMax:   5,
		retryDelay: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Login authenticates the accurev session. Transient failures (network)
// are retried; credential failures are surfaced immediately.
func (c *Client) Login(ctx context.Context, username, password string) error {
	_, err := c.runRetrying(ctx, "login", username, password)
	return err
}

// Hist fetches one transaction's metadata for a depot.
func (c *Client) Hist(ctx context.Context, depot string, tx int) (accurevxml.History, error) {
	out, err := c.runRetrying(ctx, "hist", "-p", depot, "-t", fmt.Sprintf("%d.1", tx), "-fx")
	if err != nil {
		return accurevxml.History{}, err
	}

	hist, parseErr := accurevxml.ParseHistory(out)
	if parseErr != nil {
		return accurevxml.History{}, &ParseError{TxID: tx, Err: parseErr}
	}

	return hist, nil
}

// ShowStreams fetches the depot-wide stream snapshot as of tx.
func (c *Client) ShowStreams(ctx context.Context, depot string, tx int) (accurevxml.Streams, error) {
	out, err := c.runRetrying(ctx, "show", "-p", depot, "-t", fmt.Sprintf("%d", tx), "-fx", "streams")
	if err != nil {
		return accurevxml.Streams{}, err
	}

	streams, parseErr := accurevxml.ParseStreams(out)
	if parseErr != nil {
		return accurevxml.Streams{}, &ParseError{TxID: tx, Err: parseErr}
	}

	return streams, nil
}

// Diff reports the element paths changed between transactions
// txPrev and tx of the named stream. Undefined for a stream's mkstream
// transaction; callers must not invoke Diff for it.
func (c *Client) Diff(ctx context.Context, streamName string, txPrev, tx int) (accurevxml.Diff, error) {
	out, err := c.runRetrying(ctx, "diff", "-a",
		"-v", streamName, "-V", streamName,
		"-t", fmt.Sprintf("%d-%d", txPrev, tx), "-fx")
	if err != nil {
		return accurevxml.Diff{}, err
	}

	diff, parseErr := accurevxml.ParseDiff(out)
	if parseErr != nil {
		return accurevxml.Diff{}, &ParseError{TxID: tx, Err: parseErr}
	}

	return diff, nil
}

// PopOptions controls a Pop invocation.
type PopOptions struct {
	Recursive bool
	Overwrite bool
}

// Pop materializes the named stream's contents at tx into destDir.
func (c *Client) Pop(ctx context.Context, streamName string, tx int, destDir string, opts PopOptions) error {
	args := []string{"pop", "-v", streamName, "-L", destDir, "-t", fmt.Sprintf("%d", tx)}

	if opts.Recursive {
		args = append(args, "-R")
	}

	if opts.Overwrite {
		args = append(args, "-O")
	}

	_, err := c.runRetrying(ctx, args...)

	return err
}

// DeepHist returns the ordered list of transaction ids that could have
// affected stream within [fromTx, toTx]. May over-approximate; must
// never under-approximate (spec §4.1).
func (c *Client) DeepHist(ctx context.Context, depot, streamName string, fromTx, toTx int) ([]int, error) {
	out, err := c.runRetrying(ctx, "hist",
		"-p", depot, "-s", streamName,
		"-t", fmt.Sprintf("%d-%d", fromTx, toTx), "-fx")
	if err != nil {
		return nil, err
	}

	deepHist, parseErr := accurevxml.ParseDeepHist(out)
	if parseErr != nil {
		return nil, &ParseError{TxID: toTx, Err: parseErr}
	}

	return deepHist.TransactionIDs(), nil
}

// runRetrying runs the accurev client once, retrying TransientSourceError
// classes with exponential backoff up to c.retryMax retries
// (c.retryMax+1 attempts in all). Any other
// error is permanent and returned after the first attempt.
func (c *Client) runRetrying(ctx context.Context, args ...string) ([]byte, error) {
	operation := func() ([]byte, error) {
		out, err := c.run(ctx, args...)
		if err == nil {
			return out, nil
		}

		var transient *TransientSourceError
		if errors.As(err, &transient) {
			return nil, err
		}

		return nil, backoff.Permanent(err)
	}

	expBackOff := backoff.NewExponentialBackOff()
	expBackOff.InitialInterval = c.retryDelay

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackOff),
		backoff.WithMaxTries(uint(c.retryMax+1)),
	)
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.binPath, args...)
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		base := &SourceError{
			Op:     args[0],
			Args:   args,
			Stderr: stderr.String(),
			Err:    runErr,
		}

		if isTransient(stderr.String()) {
			return nil, &TransientSourceError{SourceError: base}
		}

		return nil, base
	}

	return stdout.Bytes(), nil
}
