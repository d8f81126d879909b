package checkpoint

import (
	"encoding/json"
	"slices"
	"time"
)

// Version is stamped on every checkpoint. Bump it whenever the envelope
// or the encoded pipeline state changes incompatibly.
const Version = 1

// Checkpoint is a thread's state as it stood after Step finished.
type Checkpoint struct {
	Version   int             `json:"version"`
	ThreadID  string          `json:"thread_id"`
	Step      string          `json:"step"`
	Sequence  int             `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	State     json.RawMessage `json:"state"`

	// NextStep is where a resume picks up. Empty once the thread is done.
	NextStep string `json:"next_step,omitempty"`
}

// New builds an unsaved checkpoint around already-encoded state.
// Sequence is assigned by the store.
func New(threadID, step string, state []byte, nextStep string, at time.Time) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		ThreadID:  threadID,
		Step:      step,
		Timestamp: at.UTC(),
		State:     state,
		NextStep:  nextStep,
	}
}

func (c *Checkpoint) Done() bool { return c.NextStep == "" }

func (c *Checkpoint) Marshal() ([]byte, error) { return json.Marshal(c) }

func Unmarshal(data []byte) (*Checkpoint, error) {
	c := new(Checkpoint)
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Checkpoint) clone() *Checkpoint {
	dup := *c
	dup.State = slices.Clone(c.State)
	return &dup
}

func (c *Checkpoint) info() Info {
	return Info{
		ThreadID:  c.ThreadID,
		Step:      c.Step,
		Sequence:  c.Sequence,
		Timestamp: c.Timestamp,
		Size:      int64(len(c.State)),
	}
}
