package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brunokim/merge-tree/diff"
	"github.com/brunokim/merge-tree/farm"
	"github.com/brunokim/merge-tree/mergetree"
)

var (
	errNoClients     = errors.New("script has no clients")
	errUnknownClient = errors.New("unknown client")
)

// script is an editing session over a shared document.
//
// The initial text follows NewClientAtInitialState, so each '-' in it is a removed
// character. Each step sets the text of a client; the edits that produce it are derived with a
// diff. Steps are sequenced and delivered to every client immediately, unless marked
// concurrent, in which case they are delivered together with the next non-concurrent step.
type script struct {
	Initial string   `yaml:"initial"`
	Clients []string `yaml:"clients"`
	Steps   []step   `yaml:"steps"`
}

type step struct {
	Client     string `yaml:"client"`
	Text       string `yaml:"text"`
	Concurrent bool   `yaml:"concurrent"`
}

func replayCmd(load loader) *cobra.Command {
	var revert string

	cmd := &cobra.Command{
		Use:   "replay <file.yaml>",
		Short: "Replay an editing script over replicated documents",
		Long: `Replay an editing script over replicated documents, optionally reverting
every edit of one client at the end.

Script format:
  initial: "hello world"
  clients: [A, B]
  steps:
    - {client: A, text: "hello, world"}
    - {client: B, text: "hello there", concurrent: true}

Examples:
  mergetree replay session.yaml
  mergetree replay --revert B session.yaml
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := load()
			if err != nil {
				return err
			}
			s, err := readScript(args[0])
			if err != nil {
				return err
			}
			return replay(s, revert, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringVar(&revert, "revert", "", "client whose edits are reverted after the script")
	return cmd
}

func readScript(path string) (*script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &script{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

func (s *script) validate(revert string) error {
	if len(s.Clients) == 0 {
		return errNoClients
	}
	for i, st := range s.Steps {
		if !slices.Contains(s.Clients, st.Client) {
			return fmt.Errorf("step %d: %w %q", i, errUnknownClient, st.Client)
		}
	}
	if revert != "" && !slices.Contains(s.Clients, revert) {
		return fmt.Errorf("revert: %w %q", errUnknownClient, revert)
	}
	return nil
}

// replayer holds the replicas of a script and sequences their operations.
type replayer struct {
	clients map[string]*mergetree.Client
	list    []*mergetree.Client
	seq     int
	pending []mergetree.SequencedMessage
	log     *farm.ReplicaLogger
}

func (r *replayer) submit(c *mergetree.Client, op *mergetree.Op) {
	r.seq++
	r.pending = append(r.pending, c.MakeOpMessage(op, r.seq))
}

func (r *replayer) flush() error {
	for _, msg := range r.pending {
		for _, c := range r.list {
			if err := c.ApplyMsg(msg); err != nil {
				return fmt.Errorf("client %s: %w", c.LongClientID(), err)
			}
		}
		r.log.Log(msg)
	}
	r.pending = nil
	return nil
}

// Issues the operations that change the text of c into text.
func (r *replayer) edit(c *mergetree.Client, text string) error {
	edits, err := diff.Edits(c.GetText(), text)
	if err != nil {
		return err
	}
	for _, e := range edits {
		var op *mergetree.Op
		switch e.Op {
		case diff.Insert:
			op, err = c.InsertTextLocal(e.Pos, e.Text, nil)
		case diff.Delete:
			op, err = c.RemoveRangeLocal(e.Pos, e.Pos+e.Len)
		}
		if err != nil {
			return fmt.Errorf("%s at %d: %w", e.Op, e.Pos, err)
		}
		r.submit(c, op)
	}
	return nil
}

func replay(s *script, revert string, w io.Writer, logger *slog.Logger) error {
	if err := s.validate(revert); err != nil {
		return err
	}
	r := &replayer{clients: make(map[string]*mergetree.Client)}
	for _, name := range s.Clients {
		c := mergetree.NewClientAtInitialState(s.Initial,
			mergetree.WithLongClientID(name),
			mergetree.WithLogger(logger))
		r.clients[name] = c
		r.list = append(r.list, c)
	}
	r.log = farm.NewReplicaLogger("Replay", r.list...)

	var rc *mergetree.RevertContext
	var revertibles []mergetree.Revertible
	var recordErr error
	if revert != "" {
		c := r.clients[revert]
		rc = mergetree.NewRevertContext(
			mergetree.NewClientDriver(c, func(op *mergetree.Op) { r.submit(c, op) }),
			mergetree.WithRevertLogger(logger))
		c.OnDelta(func(delta *mergetree.DeltaArgs) {
			if !delta.Local || recordErr != nil {
				return
			}
			revertibles, recordErr = rc.AppendToRevertibles(revertibles, delta)
		})
	}

	for i, st := range s.Steps {
		if err := r.edit(r.clients[st.Client], st.Text); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if st.Concurrent {
			continue
		}
		if err := r.flush(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	if err := r.flush(); err != nil {
		return err
	}
	if recordErr != nil {
		return fmt.Errorf("recording revertibles: %w", recordErr)
	}
	edited, err := r.log.Validate("after script")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %q\n", color.New(color.Bold).Sprint("edited:"), edited)

	if rc != nil {
		r.clients[revert].OnDelta(nil)
		if err := rc.Revert(revertibles); err != nil {
			return fmt.Errorf("revert: %w", err)
		}
		if err := r.flush(); err != nil {
			return err
		}
		reverted, err := r.log.Validate("after revert")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %q\n", color.New(color.Bold).Sprint("reverted:"), reverted)
	}
	for _, c := range r.list {
		c.UpdateMinSeq(r.seq)
	}
	fmt.Fprintf(w, "%d ops, %d segments\n", r.seq, len(r.list[0].Segments()))
	return nil
}
