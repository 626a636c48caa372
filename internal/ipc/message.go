package ipc

import (
	"fmt"

	"github.com/ternarybob/transitwatch/internal/models"
)

// Kind identifies a frame on the result channel
type Kind string

const (
	// Orchestrator -> worker
	KindReconfigure Kind = "reconfigure"
	KindRecycle     Kind = "recycle"
	KindShutdown    Kind = "shutdown"

	// Worker -> orchestrator
	KindReady  Kind = "ready"
	KindResult Kind = "result"
	KindStatus Kind = "status"
	KindAck    Kind = "ack"
)

// IsCommand reports whether the kind flows from the orchestrator to the worker
func (k Kind) IsCommand() bool {
	switch k {
	case KindReconfigure, KindRecycle, KindShutdown:
		return true
	}
	return false
}

// IsEvent reports whether the kind flows from the worker to the orchestrator
func (k Kind) IsEvent() bool {
	switch k {
	case KindReady, KindResult, KindStatus, KindAck:
		return true
	}
	return false
}

// Message is one frame. Only the fields of its kind are set.
type Message struct {
	Kind Kind   `json:"kind"`
	Seq  uint64 `json:"seq,omitempty"` // Commands carry a sequence number echoed by their ack

	Targets []models.Target      `json:"targets,omitempty"`
	Result  *models.ScrapeResult `json:"result,omitempty"`
	Status  *models.StatusUpdate `json:"status,omitempty"`

	// Ack only
	Error    string `json:"error,omitempty"`
	Rejected bool   `json:"rejected,omitempty"` // The target set failed validation
}

// Validate checks that the frame has the fields its kind requires
func (m Message) Validate() error {
	switch m.Kind {
	case KindReconfigure, KindRecycle, KindShutdown, KindAck:
		if m.Seq == 0 {
			return fmt.Errorf("%s frame without seq", m.Kind)
		}
	case KindResult:
		if m.Result == nil || m.Result.TargetID == "" {
			return fmt.Errorf("result frame without target")
		}
	case KindStatus:
		if m.Status == nil || m.Status.TargetID == "" {
			return fmt.Errorf("status frame without target")
		}
	case KindReady:
	default:
		return fmt.Errorf("unknown frame kind %q", m.Kind)
	}
	return nil
}

// ackError rebuilds the error carried by an ack frame
func ackError(m Message) error {
	if m.Error == "" {
		return nil
	}
	if m.Rejected {
		return &models.ReconfigurationFailure{Reason: m.Error}
	}
	return fmt.Errorf("worker: %s", m.Error)
}

// newAck builds the ack for a command
func newAck(seq uint64, err error) Message {
	ack := Message{Kind: KindAck, Seq: seq}
	if err != nil {
		ack.Error = err.Error()
		ack.Rejected = models.IsReconfigurationFailure(err)
	}
	return ack
}
