package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleLineCounter struct {
	lines map[string]int
}

func (s *exampleLineCounter) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage == StageManifestLine {
			s.lines[evt.Category]++
		}
	}
	return nil
}

func (s *exampleLineCounter) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting manifest progress and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleLineCounter{lines: map[string]int{}}
	hub := NewHub(Config{MaxBatchEvents: 1, MaxBatchWait: time.Second}, sink)

	r := Reporter{RunID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")), Emitter: hub}
	for i := 1; i <= 3; i++ {
		r.Report(Event{Stage: StageManifestLine, Item: "a", Category: "imgs", Count: i, Total: 3})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("imgs lines: %d\n", sink.lines["imgs"])
	// Output:
	// imgs lines: 3
}
