package sink

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/LdDl/mot-presence/presence"
	"github.com/pkg/errors"
)

// ConsoleReporter prints new, missing and reappeared objects in human-readable form
type ConsoleReporter struct {
	out io.Writer
	// Print reappeared objects too
	reappeared bool
}

// NewConsoleReporter creates reporter writing to out. Nil out means os.Stdout
func NewConsoleReporter(out io.Writer, reappeared bool) *ConsoleReporter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleReporter{
		out:        out,
		reappeared: reappeared,
	}
}

// Report implements Reporter
func (c *ConsoleReporter) Report(_ context.Context, result *presence.FrameResult) error {
	if len(result.Missing) > 0 {
		if _, err := fmt.Fprintln(c.out, "\nMissing Objects:"); err != nil {
			return errors.Wrap(err, "write missing objects")
		}
		for _, obj := range result.Missing {
			_, err := fmt.Fprintf(c.out, "ID: %d, Class: %s, Duration: %s, Frames: %d\n", obj.ID, obj.ClassName, obj.DurationText(), obj.TotalFrames)
			if err != nil {
				return errors.Wrap(err, "write missing objects")
			}
		}
	}
	if len(result.New) > 0 {
		if _, err := fmt.Fprintln(c.out, "\nNew Objects:"); err != nil {
			return errors.Wrap(err, "write new objects")
		}
		for _, obj := range result.New {
			_, err := fmt.Fprintf(c.out, "ID: %d, Class: %s, First Seen: %s\n", obj.ID, obj.ClassName, obj.FirstSeenText())
			if err != nil {
				return errors.Wrap(err, "write new objects")
			}
		}
	}
	if c.reappeared && len(result.Reappeared) > 0 {
		if _, err := fmt.Fprintln(c.out, "\nReappeared Objects:"); err != nil {
			return errors.Wrap(err, "write reappeared objects")
		}
		for _, obj := range result.Reappeared {
			_, err := fmt.Fprintf(c.out, "ID: %d, Class: %s, Absent: %s, Frames: %d\n", obj.ID, obj.ClassName, obj.AbsentForText(), obj.Gap)
			if err != nil {
				return errors.Wrap(err, "write reappeared objects")
			}
		}
	}
	return nil
}
