// Package client holds the typed requests a user interface or host sends to
// the instrument. Each value checks its own payload in Validate and does its
// work in Apply on the serial context.
package client

import (
	"errors"
	"fmt"

	"github.com/cbegin/sampler-go/internal/engine"
	"github.com/cbegin/sampler-go/internal/messaging"
	"github.com/cbegin/sampler-go/internal/patchio"
	"github.com/cbegin/sampler-go/internal/tuning"
)

var (
	ErrKey       = errors.New("client: key out of range")
	ErrVelocity  = errors.New("client: velocity out of range")
	ErrPart      = errors.New("client: part out of range")
	ErrEmptyPath = errors.New("client: empty path")
	ErrStyle     = errors.New("client: unknown save style")
	ErrMode      = errors.New("client: unknown tuning mode")
	ErrPayload   = errors.New("client: empty state payload")
	ErrNoOutput  = errors.New("client: no output buffer")
)

func checkPart(part int) error {
	if part < 0 || part >= engine.NumParts {
		return fmt.Errorf("%w: %d", ErrPart, part)
	}
	return nil
}

func checkPath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	return nil
}

func checkStyle(s patchio.Style) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %v", ErrStyle, s)
	}
	return nil
}

// SetTuningMode switches how MIDI keys are retuned.
type SetTuningMode struct {
	Mode tuning.Mode
}

func (SetTuningMode) ID() string { return "SetTuningMode" }

func (m SetTuningMode) Validate() error {
	if !m.Mode.Valid() {
		return fmt.Errorf("%w: %v", ErrMode, m.Mode)
	}
	return nil
}

func (m SetTuningMode) Apply(c *messaging.Controller) error {
	mode := m.Mode
	c.ScheduleAudioThreadCallback(func(e *engine.Engine) {
		e.Retuner().SetTuningMode(mode)
	})
	return nil
}

// NoteFromGUI plays or releases a key on the selected part's channel.
type NoteFromGUI struct {
	Key      int
	Velocity float64
	On       bool
}

func (NoteFromGUI) ID() string { return "NoteFromGUI" }

func (n NoteFromGUI) Validate() error {
	if n.Key < 0 || n.Key > 127 {
		return fmt.Errorf("%w: %d", ErrKey, n.Key)
	}
	if n.Velocity < 0 || n.Velocity > 1 {
		return fmt.Errorf("%w: %v", ErrVelocity, n.Velocity)
	}
	return nil
}

func (n NoteFromGUI) Apply(c *messaging.Controller) error {
	c.ScheduleAudioThreadCallback(func(e *engine.Engine) {
		ch := 0
		if p := e.Patch().Parts[e.SelectedPart()]; p != nil && p.Configuration.Channel != engine.OmniChannel {
			ch = p.Configuration.Channel
		}
		vm := e.VoiceManager()
		if n.On {
			vm.ProcessNoteOnEvent(0, ch, n.Key, engine.AnyNoteID, n.Velocity, 0)
		} else {
			vm.ProcessNoteOffEvent(0, ch, n.Key, engine.AnyNoteID, n.Velocity)
		}
	})
	return nil
}

// RequestHostCallback asks the host to call back with Token on its own thread.
type RequestHostCallback struct {
	Token uint64
}

func (RequestHostCallback) ID() string      { return "RequestHostCallback" }
func (RequestHostCallback) Validate() error { return nil }

func (r RequestHostCallback) Apply(c *messaging.Controller) error {
	c.RequestHostCallback(r.Token)
	return nil
}

// ResetEngine replaces the instrument with an embedded init state. An empty
// Bundle selects the default one.
type ResetEngine struct {
	Bundle string
}

func (ResetEngine) ID() string      { return "ResetEngine" }
func (ResetEngine) Validate() error { return nil }

func (r ResetEngine) Apply(c *messaging.Controller) error {
	return patchio.InitFromResourceBundle(c, r.Bundle)
}

// RaiseDebugError sends a report straight to the client. It exists to test
// error display end to end.
type RaiseDebugError struct {
	Title  string
	Detail string
}

func (RaiseDebugError) ID() string      { return "RaiseDebugError" }
func (RaiseDebugError) Validate() error { return nil }

func (r RaiseDebugError) Apply(c *messaging.Controller) error {
	title, detail := r.Title, r.Detail
	if title == "" {
		title = "Debug error"
	}
	if detail == "" {
		detail = "raised on request"
	}
	c.ReportErrorToClient(title, detail)
	return nil
}

// UnstreamIntoEngine restores a payload produced by StreamState.
type UnstreamIntoEngine struct {
	Payload []byte
}

func (UnstreamIntoEngine) ID() string { return "UnstreamIntoEngine" }

func (u UnstreamIntoEngine) Validate() error {
	if len(u.Payload) == 0 {
		return ErrPayload
	}
	return nil
}

func (u UnstreamIntoEngine) Apply(c *messaging.Controller) error {
	return patchio.UnstreamIntoEngine(c, u.Payload)
}

// SelectPart changes the part GUI notes are played on.
type SelectPart struct {
	Part int
}

func (SelectPart) ID() string        { return "SelectPart" }
func (s SelectPart) Validate() error { return checkPart(s.Part) }

func (s SelectPart) Apply(c *messaging.Controller) error {
	part := s.Part
	c.ScheduleAudioThreadCallback(func(e *engine.Engine) {
		e.SelectPart(part)
	})
	return nil
}

type SaveMulti struct {
	Path  string
	Style patchio.Style
}

func (SaveMulti) ID() string { return "SaveMulti" }

func (s SaveMulti) Validate() error {
	if err := checkPath(s.Path); err != nil {
		return err
	}
	return checkStyle(s.Style)
}

func (s SaveMulti) Apply(c *messaging.Controller) error {
	return patchio.SaveMulti(c, s.Path, s.Style)
}

type SavePart struct {
	Path  string
	Part  int
	Style patchio.Style
}

func (SavePart) ID() string { return "SavePart" }

func (s SavePart) Validate() error {
	if err := checkPath(s.Path); err != nil {
		return err
	}
	if err := checkPart(s.Part); err != nil {
		return err
	}
	return checkStyle(s.Style)
}

func (s SavePart) Apply(c *messaging.Controller) error {
	return patchio.SavePart(c, s.Path, s.Part, s.Style)
}

type LoadMulti struct {
	Path string
}

func (LoadMulti) ID() string        { return "LoadMulti" }
func (l LoadMulti) Validate() error { return checkPath(l.Path) }

func (l LoadMulti) Apply(c *messaging.Controller) error {
	return patchio.LoadMulti(c, l.Path)
}

type LoadPartInto struct {
	Path string
	Part int
}

func (LoadPartInto) ID() string { return "LoadPartInto" }

func (l LoadPartInto) Validate() error {
	if err := checkPath(l.Path); err != nil {
		return err
	}
	return checkPart(l.Part)
}

func (l LoadPartInto) Apply(c *messaging.Controller) error {
	return patchio.LoadPartInto(c, l.Path, l.Part)
}

// StreamState stores the multi payload of the instrument in *Out.
type StreamState struct {
	Out *[]byte
}

func (StreamState) ID() string { return "StreamState" }

func (s StreamState) Validate() error {
	if s.Out == nil {
		return ErrNoOutput
	}
	return nil
}

func (s StreamState) Apply(c *messaging.Controller) error {
	payload, err := patchio.StreamState(c)
	if err != nil {
		return err
	}
	*s.Out = payload
	return nil
}

var (
	_ messaging.Command = SetTuningMode{}
	_ messaging.Command = NoteFromGUI{}
	_ messaging.Command = RequestHostCallback{}
	_ messaging.Command = ResetEngine{}
	_ messaging.Command = RaiseDebugError{}
	_ messaging.Command = UnstreamIntoEngine{}
	_ messaging.Command = SelectPart{}
	_ messaging.Command = SaveMulti{}
	_ messaging.Command = SavePart{}
	_ messaging.Command = LoadMulti{}
	_ messaging.Command = LoadPartInto{}
	_ messaging.Command = StreamState{}
)
