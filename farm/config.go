package farm

import (
	"errors"
	"fmt"
	"slices"
)

// Ack modes decide how many of the recorded operations are sequenced before the revert.
const (
	AckNone = "none"
	AckSome = "some"
	AckAll  = "all"
)

// Operation names that can be generated.
const (
	OpInsert   = "insert"
	OpRemove   = "remove"
	OpAnnotate = "annotate"
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidRounds indicates the number of rounds is not positive.
	ErrInvalidRounds = errors.New("farm.rounds must be positive")
	// ErrInvalidMinLength indicates the minimum document length is not positive.
	ErrInvalidMinLength = errors.New("farm.min_length must be positive")
	// ErrInvalidOpCount indicates a negative operation count.
	ErrInvalidOpCount = errors.New("farm op counts must be non-negative")
	// ErrInvalidRevertOps indicates there are no operations to revert.
	ErrInvalidRevertOps = errors.New("farm.revert_ops must be positive")
	// ErrInvalidAckMode indicates an unknown ack mode.
	ErrInvalidAckMode = errors.New("farm.ack_modes must be one of none, some, all")
	// ErrInvalidOperation indicates an unknown operation name.
	ErrInvalidOperation = errors.New("farm.operations must be one of insert, remove, annotate")
)

// Config controls a farm run.
type Config struct {
	// Seed of the random generator. Each case derives its own stream from it.
	Seed uint64 `mapstructure:"seed" yaml:"seed"`
	// Rounds per case.
	Rounds int `mapstructure:"rounds" yaml:"rounds"`
	// MinLength is the document length below which only inserts are generated.
	MinLength int `mapstructure:"min_length" yaml:"min_length"`
	// InitialOps are applied by all replicas at the start of each round.
	InitialOps int `mapstructure:"initial_ops" yaml:"initial_ops"`
	// RevertOps are recorded on replica B and reverted.
	RevertOps int `mapstructure:"revert_ops" yaml:"revert_ops"`
	// ConcurrentOps are made by replica C before the revert. Zero disables them.
	ConcurrentOps int `mapstructure:"concurrent_ops" yaml:"concurrent_ops"`
	// AckModes to run, each as a separate case.
	AckModes []string `mapstructure:"ack_modes" yaml:"ack_modes"`
	// Operations to generate once the document reaches MinLength.
	Operations []string `mapstructure:"operations" yaml:"operations"`
	// Snapshot checks that a snapshot of each round reloads to the same text.
	Snapshot bool `mapstructure:"snapshot" yaml:"snapshot"`
}

// DefaultConfig returns the configuration used when nothing else is given.
func DefaultConfig() Config {
	return Config{
		Seed:          0xDEADBEEF,
		Rounds:        10,
		MinLength:     8,
		InitialOps:    10,
		RevertOps:     8,
		ConcurrentOps: 10,
		AckModes:      []string{AckNone, AckSome, AckAll},
		Operations:    []string{OpInsert, OpRemove, OpAnnotate},
		Snapshot:      true,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	switch {
	case c.Rounds <= 0:
		return ErrInvalidRounds
	case c.MinLength <= 0:
		return ErrInvalidMinLength
	case c.InitialOps < 0 || c.ConcurrentOps < 0:
		return ErrInvalidOpCount
	case c.RevertOps <= 0:
		return ErrInvalidRevertOps
	}
	for _, mode := range c.AckModes {
		if !slices.Contains([]string{AckNone, AckSome, AckAll}, mode) {
			return fmt.Errorf("%w: %q", ErrInvalidAckMode, mode)
		}
	}
	for _, op := range c.Operations {
		if !slices.Contains([]string{OpInsert, OpRemove, OpAnnotate}, op) {
			return fmt.Errorf("%w: %q", ErrInvalidOperation, op)
		}
	}
	return nil
}
