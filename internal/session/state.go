package session

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Session states. SOCKS4 skips greeting-sent, method-chosen and
// authenticating.
const (
	StateConnecting     = "connecting"
	StateGreetingSent   = "greeting-sent"
	StateMethodChosen   = "method-chosen"
	StateAuthenticating = "authenticating"
	StateRequestSent    = "request-sent"
	StateReplyReceived  = "reply-received"
	StateDone           = "done"
	StateFailed         = "failed"
	StateCancelled      = "cancelled"
)

const (
	eventGreet        = "greet"
	eventChooseMethod = "choose-method"
	eventAuthenticate = "authenticate"
	eventRequest      = "request"
	eventReply        = "reply"
	eventFinish       = "finish"
	eventFail         = "fail"
	eventCancel       = "cancel"
)

var inFlight = []string{
	StateConnecting,
	StateGreetingSent,
	StateMethodChosen,
	StateAuthenticating,
	StateRequestSent,
	StateReplyReceived,
}

var sessionEvents = fsm.Events{
	{Name: eventGreet, Src: []string{StateConnecting}, Dst: StateGreetingSent},
	{Name: eventChooseMethod, Src: []string{StateGreetingSent}, Dst: StateMethodChosen},
	{Name: eventAuthenticate, Src: []string{StateMethodChosen}, Dst: StateAuthenticating},
	{Name: eventRequest, Src: []string{StateConnecting, StateMethodChosen, StateAuthenticating}, Dst: StateRequestSent},
	{Name: eventReply, Src: []string{StateRequestSent}, Dst: StateReplyReceived},
	{Name: eventFinish, Src: []string{StateReplyReceived}, Dst: StateDone},
	{Name: eventFail, Src: inFlight, Dst: StateFailed},
	{Name: eventCancel, Src: inFlight, Dst: StateCancelled},
}

func newStateMachine(log *zap.Logger) *fsm.FSM {
	return fsm.NewFSM(StateConnecting, sessionEvents, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			log.Debug("socks session state", zap.String("from", e.Src), zap.String("to", e.Dst))
		},
	})
}

// event advances the state machine. Transitions are driven by the session
// itself, so a rejected event is a bug worth logging but not worth failing
// the connection over.
func (s *Session) event(ctx context.Context, name string) {
	if err := s.fsm.Event(context.WithoutCancel(ctx), name); err != nil {
		s.log.Warn("socks session state machine", zap.String("event", name), zap.String("state", s.fsm.Current()), zap.Error(err))
	}
}
