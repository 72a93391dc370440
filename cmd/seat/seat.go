package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/DoyleJ11/trial-backend/internal/client"
	"github.com/DoyleJ11/trial-backend/internal/peer"
	"github.com/DoyleJ11/trial-backend/internal/trial"
)

const usage = `commands:
  advance                       move the trial to its next phase (adjudicator)
  argue <text>                  submit an argument
  evidence <title> | <details>  present evidence
  witness <name> | <question>   examine a witness
  say <text>                    send text to every linked peer
  peers                         list peer link states
  state                         print the current snapshot
  leave                         leave the session and exit
  quit                          exit without leaving`

// console writes one JSON object per line. Snapshot printing and peer
// receivers share it.
type console struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newConsole(w io.Writer) *console {
	return &console{enc: json.NewEncoder(w)}
}

type event struct {
	Kind string `json:"kind"`
	Data any    `json:"data,omitempty"`
}

type peerMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
}

func (c *console) emit(kind string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.enc.Encode(event{Kind: kind, Data: data})
}

// links is the part of the peer manager a seat drives directly.
type links interface {
	Send(ctx context.Context, payload []byte) int
	Peers() map[string]peer.State
}

type seat struct {
	orch      *trial.Orchestrator
	view      *client.Reconciler
	links     links
	out       *console
	sessionID string
	userID    string
}

// run executes commands until lines is closed, ctx ends, or the user quits.
// Command failures are reported on the console and do not stop the seat.
func (s *seat) run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.exec(ctx, line)
			if err != nil {
				s.out.emit("error", err.Error())
			}
			if quit {
				return nil
			}
		}
	}
}

func (s *seat) exec(ctx context.Context, line string) (quit bool, err error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "":
		return false, nil

	case "help":
		s.out.emit("help", usage)

	case "advance":
		phase, err := s.view.Advance(ctx)
		if err != nil {
			return false, err
		}
		s.out.emit("advanced", phase)

	case "argue":
		p, err := s.orch.SubmitArgument(ctx, s.sessionID, s.userID, rest)
		if err != nil {
			return false, err
		}
		s.out.emit("performance", p.Performance)

	case "evidence":
		title, details := split(rest)
		rec, err := s.orch.PresentEvidence(ctx, s.sessionID, s.userID, title, details)
		if err != nil {
			return false, err
		}
		s.out.emit("evaluation", rec)

	case "witness":
		name, question := split(rest)
		res, err := s.orch.ExamineWitness(ctx, s.sessionID, s.userID, name, question)
		if err != nil {
			return false, err
		}
		s.out.emit("testimony", res)

	case "say":
		if rest == "" {
			return false, fmt.Errorf("%w: nothing to say", trial.ErrInvalidInput)
		}
		s.out.emit("sent", s.links.Send(ctx, []byte(rest)))

	case "peers":
		s.out.emit("peers", s.links.Peers())

	case "state":
		snap, err := s.view.State(ctx)
		if err != nil {
			return false, err
		}
		s.out.emit("snapshot", snap)

	case "leave":
		if err := s.orch.LeaveSession(ctx, s.sessionID, s.userID); err != nil {
			return false, err
		}
		s.out.emit("left", s.sessionID)
		return true, nil

	case "quit", "exit":
		return true, nil

	default:
		return false, fmt.Errorf("%w: unknown command %q", trial.ErrInvalidInput, verb)
	}
	return false, nil
}

// split parses "a | b" into its trimmed halves.
func split(s string) (string, string) {
	a, b, _ := strings.Cut(s, "|")
	return strings.TrimSpace(a), strings.TrimSpace(b)
}
