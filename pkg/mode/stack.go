package mode

import "errors"

// ErrBase is returned when popping the permanent Global frame.
var ErrBase = errors.New("global mode cannot be exited")

// Stack is the per-session mode stack. Global is the permanent base.
type Stack struct {
	frames []Mode
}

// NewStack returns a stack holding only Global.
func NewStack() *Stack {
	return &Stack{frames: []Mode{New(Global, "")}}
}

// Top returns the active mode.
func (s *Stack) Top() Mode {
	return s.frames[len(s.frames)-1]
}

// Depth returns the number of frames, Global included.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Parent returns the mode below the active one. ok is false at Global.
func (s *Stack) Parent() (Mode, bool) {
	if len(s.frames) < 2 {
		return Mode{}, false
	}
	return s.frames[len(s.frames)-2], true
}

// Push enters m. Entering a configuration sub-mode while already in a
// sibling sub-mode replaces the sibling, so "interface A" followed by
// "bridge B" leaves Configure as B's parent.
func (s *Stack) Push(m Mode) {
	top := s.Top()
	if top.Kind > Configure && m.Kind > Configure {
		s.frames[len(s.frames)-1] = m
		return
	}
	s.frames = append(s.frames, m)
}

// Exit pops exactly one level.
func (s *Stack) Exit() error {
	if len(s.frames) == 1 {
		return ErrBase
	}
	s.frames = s.frames[:len(s.frames)-1]
	return nil
}

// End returns to Configure from a sub-mode, or to Privileged when
// Configure is already the active mode.
func (s *Stack) End() {
	switch top := s.Top(); {
	case top.Kind > Configure:
		for s.Top().Kind > Configure {
			s.frames = s.frames[:len(s.frames)-1]
		}
	case top.Kind == Configure:
		s.frames = s.frames[:len(s.frames)-1]
	}
}

// ToConfigure pops sub-modes until Configure is active. It reports false
// when the stack is not in configuration mode at all.
func (s *Stack) ToConfigure() bool {
	for len(s.frames) > 1 && s.Top().Kind > Configure {
		s.frames = s.frames[:len(s.frames)-1]
	}
	return s.Top().Kind == Configure
}

// Path returns the frames from Global to the active mode.
func (s *Stack) Path() []Mode {
	return append([]Mode(nil), s.frames...)
}

// Reset drops everything above Global.
func (s *Stack) Reset() {
	s.frames = s.frames[:1]
}
