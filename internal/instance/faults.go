package instance

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/script"
	"github.com/roach88/scriptengine/internal/world"
)

// InitError reports an API that could not be bound during Load. The
// instance never starts.
type InitError struct {
	Api string
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize api %q: %v", e.Api, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// IsInitError reports whether err is an API initialization failure.
func IsInitError(err error) bool {
	var ie *InitError
	return errors.As(err, &ie)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// reportFault logs a runtime error in full and reports a truncated
// message in-world: to the owner for owner-scoped errors, otherwise on
// the debug channel.
func (i *Instance) reportFault(rec event.Record, err error) {
	i.mu.Lock()
	i.stats.Faults++
	i.mu.Unlock()

	fields := []zap.Field{zap.String("event", rec.Name()), zap.Error(err)}
	var st stackTracer
	if errors.As(err, &st) {
		fields = append(fields, zap.String("stack", fmt.Sprintf("%+v", st.StackTrace())))
	}
	i.logger.Warn("runtime error in script", fields...)

	text := i.faultText(rec, err)
	w := i.engine.World()
	if script.IsOwnerOnly(err) {
		w.InstantMessage(i.part.OwnerID, i.part, text)
		return
	}
	w.SimChat(world.ChatMessage{
		Channel:  world.DebugChannel,
		Type:     world.ChatDebug,
		FromID:   i.part.ID,
		FromName: i.part.Name,
		Position: i.part.Position,
		Text:     text,
	})
}

func (i *Instance) faultText(rec event.Record, err error) string {
	msg := err.Error()
	var re *script.RuntimeError
	if errors.As(err, &re) {
		msg = re.Error()
	}
	text := fmt.Sprintf("Script %q, event %s: %s", i.item.Name, rec.Name(), msg)
	return truncateText(norm.NFC.String(text), i.maxErrorLength)
}

// truncateText cuts s to at most n characters without splitting a rune.
func truncateText(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for idx := range s {
		if count == n {
			return s[:idx]
		}
		count++
	}
	return s
}
