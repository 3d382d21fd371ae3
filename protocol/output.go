package protocol

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"sigs.k8s.io/yaml"

	"github.com/datazip-inc/olake-mssql-cdc/types"
)

// writeOutput prints value in the format chosen with --format.
func writeOutput(w io.Writer, format string, value any) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(format) {
	case "yaml", "yml":
		data, err = yaml.Marshal(value)
	case "json", "":
		data, err = json.MarshalIndent(value, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unsupported output format %q, expected json or yaml", format)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %s", value, err)
	}
	_, err = w.Write(data)
	return err
}

// eventWriter writes emitted events as JSON lines of record messages.
type eventWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	written int64
}

func newEventWriter(w io.Writer) *eventWriter {
	return &eventWriter{encoder: json.NewEncoder(w)}
}

// Emit implements abstract.CDCMsgFn.
func (w *eventWriter) Emit(_ context.Context, event types.ChangeEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.encoder.Encode(types.Message{Type: types.RecordMessage, Record: &event}); err != nil {
		return fmt.Errorf("failed to write event of table %s at %s: %s", event.Table, event.Position, err)
	}
	w.written++
	return nil
}

// WriteMessage writes a non record message in line with the events.
func (w *eventWriter) WriteMessage(message types.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(message)
}

func (w *eventWriter) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}
