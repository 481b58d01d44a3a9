package progress

import (
	"context"
	"time"
)

// Sink consumes batches of progress events.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it.
type Emitter interface {
	Emit(evt Event)
}

// Reporter stamps events with a run id and timestamp before handing them to
// an Emitter. A zero Reporter discards everything.
type Reporter struct {
	RunID   [16]byte
	Emitter Emitter
	Now     func() time.Time
}

// Report fills RunID and TS on evt and emits it.
func (r Reporter) Report(evt Event) {
	if r.Emitter == nil {
		return
	}
	evt.RunID = r.RunID
	if r.Now != nil {
		evt.TS = r.Now()
	} else {
		evt.TS = time.Now().UTC()
	}
	r.Emitter.Emit(evt)
}
