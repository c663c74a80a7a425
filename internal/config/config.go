package config

import (
	"errors"
	"fmt"
)

// Config is the top-level configuration struct for ac2git.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Depot                   string              `mapstructure:"depot"`
	Streams                 []string            `mapstructure:"streams"`
	StartTx                 string              `mapstructure:"start-tx"`
	EndTx                   string              `mapstructure:"end-tx"`
	Method                  string              `mapstructure:"method"`
	SourceStreamFastForward bool                `mapstructure:"source-stream-fast-forward"`
	EmptyChildStreamAction  string              `mapstructure:"empty-child-stream-action"`
	UserMap                 map[string]UserSpec `mapstructure:"user-map"`
	RepoPath                string              `mapstructure:"repo-path"`
	Retrieval               RetrievalConfig     `mapstructure:"retrieval"`
}

// UserSpec is the {name, email, timezone} a source username resolves to
// when the core stamps commit authorship.
type UserSpec struct {
	Name     string `mapstructure:"name"`
	Email    string `mapstructure:"email"`
	Timezone string `mapstructure:"timezone"`
}

// RetrievalConfig holds resource knobs for the retrieval pipeline.
type RetrievalConfig struct {
	Workers    int    `mapstructure:"workers"`
	RetryMax   int    `mapstructure:"retry_max"`
	RetryDelay string `mapstructure:"retry_delay"`
}

// Method identifiers accepted for the "method" configuration key.
const (
	MethodPop      = "pop"
	MethodDiff     = "diff"
	MethodDeepHist = "deep-hist"
)

// Keyword values accepted in place of an integer for start-tx/end-tx.
const (
	TxFirst   = "first"
	TxHighest = "highest"
	TxNow     = "now"
)

// Action identifiers accepted for "empty-child-stream-action".
const (
	ChildActionMerge      = "merge"
	ChildActionCherryPick = "cherry-pick"
)

// Sentinel errors for configuration validation.
var (
	// ErrMissingDepot indicates no depot was configured.
	ErrMissingDepot = errors.New("depot must not be empty")
	// ErrMissingStreams indicates no streams were configured.
	ErrMissingStreams = errors.New("streams must list at least one stream")
	// ErrInvalidMethod indicates an unrecognized retrieval method.
	ErrInvalidMethod = errors.New("method must be one of pop, diff, deep-hist")
	// ErrInvalidChildAction indicates an unrecognized empty-child-stream-action.
	ErrInvalidChildAction = errors.New("empty-child-stream-action must be merge or cherry-pick")
	// ErrMissingRepoPath indicates no target repository path was configured.
	ErrMissingRepoPath = errors.New("repo-path must not be empty")
	// ErrInvalidTxRef indicates a start-tx/end-tx value is neither an integer nor a recognized keyword.
	ErrInvalidTxRef = errors.New("start-tx/end-tx must be a positive integer or one of first, highest, now")
	// ErrInvalidRetrievalWorkers indicates the retrieval worker count is negative.
	ErrInvalidRetrievalWorkers = errors.New("retrieval.workers must be non-negative")
	// ErrInvalidRetrievalRetryMax indicates the retry budget is negative.
	ErrInvalidRetrievalRetryMax = errors.New("retrieval.retry_max must be non-negative")
	// ErrInvalidUserMapEntry indicates a user-map entry is missing required fields.
	ErrInvalidUserMapEntry = errors.New("user-map entries require name and email")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Depot == "" {
		return ErrMissingDepot
	}

	if len(c.Streams) == 0 {
		return ErrMissingStreams
	}

	if c.RepoPath == "" {
		return ErrMissingRepoPath
	}

	switch c.Method {
	case MethodPop, MethodDiff, MethodDeepHist:
	default:
		return ErrInvalidMethod
	}

	switch c.EmptyChildStreamAction {
	case ChildActionMerge, ChildActionCherryPick:
	default:
		return ErrInvalidChildAction
	}

	if err := validateTxRef(c.StartTx); err != nil {
		return err
	}

	if err := validateTxRef(c.EndTx); err != nil {
		return err
	}

	if c.Retrieval.Workers < 0 {
		return ErrInvalidRetrievalWorkers
	}

	if c.Retrieval.RetryMax < 0 {
		return ErrInvalidRetrievalRetryMax
	}

	return c.validateUserMap()
}

func (c *Config) validateUserMap() error {
	for username, spec := range c.UserMap {
		if spec.Name == "" || spec.Email == "" {
			return fmt.Errorf("%w: %q", ErrInvalidUserMapEntry, username)
		}
	}

	return nil
}

// validateTxRef accepts an empty value (defaulted at load time), a
// positive decimal integer, or one of the recognized keywords.
func validateTxRef(ref string) error {
	if ref == "" {
		return nil
	}

	switch ref {
	case TxFirst, TxHighest, TxNow:
		return nil
	}

	nonZero := false

	for _, r := range ref {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %q", ErrInvalidTxRef, ref)
		}

		if r != '0' {
			nonZero = true
		}
	}

	if !nonZero {
		return fmt.Errorf("%w: %q", ErrInvalidTxRef, ref)
	}

	return nil
}
