package historianvalkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/anoncred-broker/internal/historian"
)

const objectTypeHistory = "history"

// Sink appends events to a ValKey list, one JSON element per event.
type Sink struct {
	valkey valkey.Client
	prefix string
}

var _ = historian.Sink(&Sink{})

func NewSink(valkeyClient valkey.Client, prefix string) *Sink {
	return &Sink{
		valkey: valkeyClient,
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

// Key returns the list key the events are pushed to.
func (s *Sink) Key() string {
	return fmt.Sprintf("%s:%s", s.prefix, objectTypeHistory)
}

func (s *Sink) Deliver(ctx context.Context, events []historian.Event) error {
	if len(events) == 0 {
		return nil
	}

	elems := make([]string, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling json: %w", err)
		}
		elems = append(elems, string(b))
	}

	if err := s.valkey.Do(ctx, s.valkey.B().Rpush().Key(s.Key()).Element(elems...).Build()).Error(); err != nil {
		return fmt.Errorf("executing rpush command: %w", err)
	}

	return nil
}

// Trim drops the oldest events so that at most maxLen remain.
func (s *Sink) Trim(ctx context.Context, maxLen int64) error {
	if maxLen <= 0 {
		return nil
	}

	if err := s.valkey.Do(ctx, s.valkey.B().Ltrim().Key(s.Key()).Start(-maxLen).Stop(-1).Build()).Error(); err != nil {
		return fmt.Errorf("executing ltrim command: %w", err)
	}

	return nil
}
