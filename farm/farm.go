// Package farm runs randomized scenarios where one replica reverts its own
// operations while others keep editing, and checks that all replicas converge.
package farm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/brunokim/merge-tree/mergetree"
)

// Report summarizes a successful run.
type Report struct {
	RunID ulid.ULID
	// Cases is the number of ack mode and concurrency combinations that ran.
	Cases int
	// Rounds is the total number of rounds over all cases.
	Rounds int
	// Ops is the number of sequenced messages.
	Ops int
	// Reverted is the number of revertibles that were reverted.
	Reverted int
	// SnapshotBytes is the total size of written snapshots.
	SnapshotBytes int
	Duration      time.Duration
}

// Run executes every case of cfg, stopping at the first divergence.
func Run(ctx context.Context, cfg Config, logger *slog.Logger) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	start := time.Now()
	report := &Report{RunID: ulid.Make()}
	logger = logger.With("run", report.RunID.String())

	modifyModes := []bool{false}
	if cfg.ConcurrentOps > 0 {
		modifyModes = append(modifyModes, true)
	}
	for _, ack := range cfg.AckModes {
		for _, modify := range modifyModes {
			c := &farmCase{
				cfg:    cfg,
				ack:    ack,
				modify: modify,
				rnd:    rand.New(rand.NewPCG(cfg.Seed, uint64(report.Cases))),
				logger: logger.With("ack", ack, "modify", modify),
				report: report,
			}
			report.Cases++
			if err := c.run(ctx); err != nil {
				report.Duration = time.Since(start)
				return report, fmt.Errorf("case ack=%s modify=%t: %w", ack, modify, err)
			}
		}
	}
	report.Duration = time.Since(start)
	logger.Info("farm finished", "cases", report.Cases, "rounds", report.Rounds, "ops", report.Ops, "duration", report.Duration)
	return report, nil
}

// +-----------+
// | Sequencer |
// +-----------+

// Stamps local operations with sequence numbers and applies them to every replica in order.
type sequencer struct {
	clients []*mergetree.Client
	seq     int
	pending []mergetree.SequencedMessage
	logger  *ReplicaLogger
	applied int
}

func (s *sequencer) submit(c *mergetree.Client, op *mergetree.Op) {
	s.seq++
	s.pending = append(s.pending, c.MakeOpMessage(op, s.seq))
}

// Applies the first n pending messages, or all of them if n < 0.
func (s *sequencer) flush(n int) error {
	if n < 0 || n > len(s.pending) {
		n = len(s.pending)
	}
	msgs := s.pending[:n]
	s.pending = s.pending[n:]
	for _, msg := range msgs {
		for _, c := range s.clients {
			if err := c.ApplyMsg(msg); err != nil {
				return fmt.Errorf("replica %s: %w", c.LongClientID(), err)
			}
		}
		s.applied++
		if s.logger != nil {
			s.logger.Log(msg)
		}
	}
	return nil
}

// +------+
// | Case |
// +------+

type farmCase struct {
	cfg    Config
	ack    string
	modify bool
	rnd    *rand.Rand
	logger *slog.Logger
	report *Report

	clients []*mergetree.Client
	seq     *sequencer
	gen     *opGenerator
}

func (c *farmCase) run(ctx context.Context) error {
	for _, name := range []string{"A", "B", "C"} {
		c.clients = append(c.clients, mergetree.NewClient(
			mergetree.WithLongClientID(name),
			mergetree.WithLogger(c.logger)))
	}
	c.seq = &sequencer{clients: c.clients}
	c.gen = &opGenerator{rnd: c.rnd, minLength: c.cfg.MinLength, operations: c.cfg.Operations}
	for round := range c.cfg.Rounds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.round(ctx, round); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		c.report.Rounds++
	}
	c.report.Ops += c.seq.applied
	return nil
}

// Acknowledges pending messages according to the ack mode.
func (c *farmCase) ackBeforeRevert() error {
	switch c.ack {
	case AckAll:
		return c.seq.flush(-1)
	case AckSome:
		return c.seq.flush(c.rnd.IntN(len(c.seq.pending) + 1))
	}
	return nil
}

func (c *farmCase) randomOps(clients []*mergetree.Client, n int) error {
	for range n {
		client := clients[c.rnd.IntN(len(clients))]
		op, err := c.gen.next(client)
		if err != nil {
			return fmt.Errorf("replica %s: %w", client.LongClientID(), err)
		}
		c.seq.submit(client, op)
	}
	return nil
}

func (c *farmCase) round(ctx context.Context, round int) error {
	rl := NewReplicaLogger(fmt.Sprintf("Round %d", round), c.clients...)
	c.seq.logger = rl

	if err := c.randomOps(c.clients, c.cfg.InitialOps); err != nil {
		return err
	}
	if err := c.seq.flush(-1); err != nil {
		return err
	}
	baseText, err := rl.Validate("after initial ops")
	if err != nil {
		return err
	}
	baseProps := PropertyRuns(c.clients[0])
	rl.Clear()

	b := c.clients[1]
	rc := mergetree.NewRevertContext(
		mergetree.NewClientDriver(b, func(op *mergetree.Op) { c.seq.submit(b, op) }),
		mergetree.WithRevertLogger(c.logger))
	var revertibles []mergetree.Revertible
	var recordErr error
	b.OnDelta(func(delta *mergetree.DeltaArgs) {
		if !delta.Local || recordErr != nil {
			return
		}
		revertibles, recordErr = rc.AppendToRevertibles(revertibles, delta)
	})
	err = c.randomOps([]*mergetree.Client{b}, c.cfg.RevertOps)
	if err == nil {
		err = c.ackBeforeRevert()
	}
	if err == nil && c.modify {
		err = c.randomOps([]*mergetree.Client{c.clients[2]}, c.cfg.ConcurrentOps)
		if err == nil {
			err = c.ackBeforeRevert()
		}
	}
	b.OnDelta(nil)
	if err != nil {
		return err
	}
	if recordErr != nil {
		return fmt.Errorf("recording revertibles: %w", recordErr)
	}

	if err := rc.Revert(revertibles); err != nil {
		return fmt.Errorf("revert: %w", err)
	}
	c.report.Reverted += len(revertibles)
	if err := c.seq.flush(-1); err != nil {
		return err
	}
	if _, err := rl.Validate("after revert"); err != nil {
		return err
	}
	if !c.modify {
		if err := rl.Expect("after revert", baseText); err != nil {
			return err
		}
		if err := rl.ExpectProperties("after revert", baseProps); err != nil {
			return err
		}
	}
	rl.Clear()

	for _, client := range c.clients {
		client.UpdateMinSeq(c.seq.seq)
	}
	text, err := rl.Validate("after zamboni")
	if err != nil {
		return err
	}
	c.logger.Debug("round done", "round", round, "revertibles", len(revertibles), "length", len([]rune(text)))

	if c.cfg.Snapshot {
		return c.checkSnapshot(ctx, text)
	}
	return nil
}

// Writes a snapshot of replica A and checks that it loads back to the same text.
func (c *farmCase) checkSnapshot(ctx context.Context, want string) error {
	storage := mergetree.NewMemoryStorage()
	if err := mergetree.WriteSnapshot(ctx, c.clients[0], storage, nil); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	loaded := mergetree.NewClient(mergetree.WithLongClientID("snapshot"), mergetree.WithLogger(c.logger))
	if _, err := mergetree.NewSnapshotLoader(loaded, nil).Load(ctx, storage); err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	if got := loaded.TextWithPlaceholders(); got != want {
		return fmt.Errorf("snapshot: %w: %s", ErrDiverged, explain(want, got))
	}
	c.report.SnapshotBytes += storage.Size()
	return nil
}
