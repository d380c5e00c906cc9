package relay

import (
	"context"
	"fmt"

	"github.com/onnwee/cliprelay/discord"
)

// Sender posts one webhook message.
type Sender interface {
	Post(ctx context.Context, url string, msg discord.Message) error
}

// State is the progress of one delivery.
//
//	single phase: Init -> Phase2Sent | Phase2Failed
//	two phase:    Init -> Phase1Sent -> Phase2Sent | Phase2Failed
//	              Init -> Phase1Failed
//
// Only Phase2Sent may be committed to the posted-clip store.
type State int

const (
	StateInit State = iota
	StatePhase1Sent
	StatePhase2Sent
	StatePhase1Failed
	StatePhase2Failed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePhase1Sent:
		return "phase1_sent"
	case StatePhase2Sent:
		return "phase2_sent"
	case StatePhase1Failed:
		return "phase1_failed"
	case StatePhase2Failed:
		return "phase2_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further step is possible.
func (s State) Terminal() bool {
	return s == StatePhase2Sent || s == StatePhase1Failed || s == StatePhase2Failed
}

// Committable reports whether the delivery completed.
func (s State) Committable() bool { return s == StatePhase2Sent }

// phase labels the failing step for metrics.
func (s State) phase() string {
	if s == StatePhase1Failed {
		return "preview"
	}
	return "body"
}

type delivery struct {
	sender Sender
	url    string
	out    discord.Outbound
	state  State
}

func newDelivery(s Sender, url string, out discord.Outbound) *delivery {
	return &delivery{sender: s, url: url, out: out}
}

// run steps the machine until it reaches a terminal state.
func (d *delivery) run(ctx context.Context) error {
	for !d.state.Terminal() {
		if err := d.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *delivery) step(ctx context.Context) error {
	switch d.state {
	case StateInit:
		if d.out.Preview != nil {
			if err := d.sender.Post(ctx, d.url, *d.out.Preview); err != nil {
				d.state = StatePhase1Failed
				return fmt.Errorf("preview: %w", err)
			}
			d.state = StatePhase1Sent
			return nil
		}
		return d.sendBody(ctx)
	case StatePhase1Sent:
		return d.sendBody(ctx)
	default:
		return fmt.Errorf("step from terminal state %s", d.state)
	}
}

func (d *delivery) sendBody(ctx context.Context) error {
	if err := d.sender.Post(ctx, d.url, d.out.Body); err != nil {
		d.state = StatePhase2Failed
		return fmt.Errorf("body: %w", err)
	}
	d.state = StatePhase2Sent
	return nil
}
