package app

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/realtime"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/session"
)

// changedMsg tells the model to re-read the session. Bursts of changes
// collapse into one message.
type changedMsg struct{}

// events forwards store, connection and credential change signals to
// the Bubble Tea runtime.
type events struct {
	ch     chan struct{}
	done   chan struct{}
	once   sync.Once
	cancel []func()
}

func watch(s *session.Session) *events {
	e := &events{
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	e.cancel = append(e.cancel,
		s.Notifications().Subscribe(e.signal),
		s.Manager().OnStateChange(func(realtime.State) { e.signal() }),
		s.Credentials().Subscribe(e.signal),
	)
	return e
}

// signal records a change without blocking the caller.
func (e *events) signal() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// wait returns a tea.Cmd that waits for the next change. It returns nil
// once the watcher is stopped.
func (e *events) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-e.ch:
			return changedMsg{}
		case <-e.done:
			return nil
		}
	}
}

func (e *events) stop() {
	e.once.Do(func() {
		for _, fn := range e.cancel {
			fn()
		}
		close(e.done)
	})
}
