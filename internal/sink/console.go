package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/oremus-labs/lookout-stream/internal/events"
	"sigs.k8s.io/yaml"
)

// Console prints each event payload to a writer as indented JSON or YAML.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	format string
}

// NewConsole returns a console sink. format is "json" (default) or "yaml".
func NewConsole(out io.Writer, format string) (*Console, error) {
	format = strings.ToLower(format)
	switch format {
	case "", "json":
		format = "json"
	case "yaml":
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	return &Console{out: out, format: format}, nil
}

func (c *Console) Name() string { return "stdout" }

func (c *Console) Write(ctx context.Context, evt events.Event) error {
	data, err := json.MarshalIndent(evt.Data, "", "  ")
	if err != nil {
		return err
	}
	if c.format == "yaml" {
		if data, err = yaml.JSONToYAML(data); err != nil {
			return err
		}
		data = append([]byte("---\n"), data...)
	} else {
		data = append(data, '\n')
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.out.Write(data)
	return err
}

func (c *Console) Close() error { return nil }
