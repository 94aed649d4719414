// Package collab терминальный участник совместного редактирования:
// строки ввода превращаются в правки документа, изменения других участников печатаются.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/iudanet/gophsync/internal/awareness"
	"github.com/iudanet/gophsync/internal/iocli"
	"github.com/iudanet/gophsync/internal/provider"
	"github.com/iudanet/gophsync/internal/replica"
)

// ErrQuit возвращается командой :quit
var ErrQuit = errors.New("quit")

const prompt = "> "

// Cursor позиция курсора в presence
type Cursor struct {
	Index int `json:"index"`
}

// Session связывает провайдер документа с терминалом.
type Session struct {
	provider *provider.Provider
	console  iocli.IO
	logger   *slog.Logger
	unwatch  []func()
}

// NewSession создает сессию. Провайдер подключает вызывающий код.
func NewSession(p *provider.Provider, console iocli.IO, logger *slog.Logger) *Session {
	return &Session{
		provider: p,
		console:  console,
		logger:   logger,
	}
}

// Watch подписывает терминал на события документа. Возвращает функцию отписки.
func (s *Session) Watch() func() {
	s.unwatch = append(s.unwatch,
		s.provider.Replica().Observe(func(u replica.Update) {
			if u.Origin == replica.OriginLocal {
				return
			}
			s.console.Printf("\n[%s] %s\n", u.Origin, s.provider.Replica().Text())
		}),
		s.provider.OnAwareness(func(c awareness.Change) {
			self := s.provider.Replica().ClientID()
			for _, id := range c.Added {
				if id != self {
					s.console.Printf("\n+ %s joined\n", s.peerName(id))
				}
			}
			for _, id := range c.Removed {
				if id != self {
					s.console.Printf("\n- client %d left\n", id)
				}
			}
		}),
		s.provider.OnStatus(func(ev provider.StatusEvent) {
			if ev.LocalOnly {
				s.console.Printf("\n* %s (local-only)\n", ev.Status)
				return
			}
			s.console.Printf("\n* %s\n", ev.Status)
		}),
		s.provider.OnSync(func(synced bool) {
			if synced {
				s.console.Printf("\n* synced: %s\n", s.provider.Replica().Text())
			}
		}),
		s.provider.OnError(func(ev provider.ErrorEvent) {
			s.logger.Warn("provider error", "kind", ev.Kind, "error", ev.Err)
		}),
	)

	return func() {
		for _, fn := range s.unwatch {
			fn()
		}
		s.unwatch = nil
	}
}

// Run читает команды до :quit, конца ввода или отмены ctx.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errC := make(chan error, 1)

	go func() {
		defer close(lines)
		for {
			line, err := s.console.ReadInput(prompt)
			if err != nil {
				errC <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-errC; !errors.Is(err, io.EOF) {
					return fmt.Errorf("failed to read input: %w", err)
				}
				return nil
			}
			err := s.Execute(line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				s.console.Printf("Error: %v\n", err)
			}
		}
	}
}

// Execute выполняет одну строку ввода.
func (s *Session) Execute(line string) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, ":") {
		r := s.provider.Replica()
		return r.Insert(r.Len(), line+"\n")
	}

	command, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "quit", "q":
		return ErrQuit
	case "show":
		s.console.Println(s.provider.Replica().Text())
	case "del":
		return s.deleteTail(arg)
	case "cursor":
		return s.moveCursor(arg)
	case "who":
		s.printPeers()
	case "status":
		s.printStatus()
	case "help":
		PrintCommands(s.console)
	default:
		return fmt.Errorf("unknown command %q, type :help", command)
	}
	return nil
}

// deleteTail удаляет n последних символов
func (s *Session) deleteTail(arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return fmt.Errorf("usage: :del N")
	}

	r := s.provider.Replica()
	n = min(n, r.Len())
	if n == 0 {
		return nil
	}
	return r.Delete(r.Len()-n, n)
}

func (s *Session) moveCursor(arg string) error {
	index, err := strconv.Atoi(arg)
	if err != nil || index < 0 {
		return fmt.Errorf("usage: :cursor N")
	}

	cursor, err := json.Marshal(Cursor{Index: min(index, s.provider.Replica().Len())})
	if err != nil {
		return fmt.Errorf("failed to encode cursor: %w", err)
	}
	s.provider.UpdateCursor(cursor)
	return nil
}

func (s *Session) printPeers() {
	states := s.provider.Awareness().States()
	ids := slices.Sorted(maps.Keys(states))

	self := s.provider.Replica().ClientID()
	for _, id := range ids {
		state := states[id]
		marker := " "
		if id == self {
			marker = "*"
		}
		cursor := "-"
		var c Cursor
		if len(state.Cursor) > 0 && json.Unmarshal(state.Cursor, &c) == nil {
			cursor = strconv.Itoa(c.Index)
		}
		s.console.Printf("%s %-20s %-8s cursor=%s active=%t\n", marker, state.User.Name, state.User.Color, cursor, state.Active)
	}
}

func (s *Session) printStatus() {
	s.console.Printf("status=%s synced=%t local-only=%t\n",
		s.provider.Status(), s.provider.Synced(), s.provider.LocalOnly())
	if stats, ok := s.provider.PersistenceStats(); ok {
		s.console.Printf("saves=%d failures=%d\n", stats.Saves, stats.Failures)
		if stats.LastError != nil {
			s.console.Printf("last save error: %v\n", stats.LastError)
		}
	}
}

func (s *Session) peerName(clientID uint64) string {
	if state, ok := s.provider.Awareness().State(clientID); ok && state.User.Name != "" {
		return state.User.Name
	}
	return fmt.Sprintf("client %d", clientID)
}

// PrintCommands печатает список команд сессии
func PrintCommands(console iocli.IO) {
	console.Println("Commands:")
	console.Println("  <text>        Append a line to the document")
	console.Println("  :del N        Delete the last N characters")
	console.Println("  :cursor N     Move your cursor to position N")
	console.Println("  :who          Show who is in the document")
	console.Println("  :show         Print the document")
	console.Println("  :status       Show connection and persistence status")
	console.Println("  :help         Show this help")
	console.Println("  :quit         Leave the document")
}
