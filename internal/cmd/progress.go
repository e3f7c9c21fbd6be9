package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/operator"
)

// progressEvents selects the events printed during a run.
const progressEvents = "{task,attempt,session}.*"

// progressPrinter returns a bus handler that prints progress lines to w.
func progressPrinter(w io.Writer) event.Handler {
	var mu sync.Mutex
	return func(e event.Event) {
		line, ok := operator.RenderEvent(e)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line)
	}
}
