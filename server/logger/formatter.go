package logger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
)

// Message is a single log entry handed to the Formatter.
type Message struct {
	Timestamp time.Time
	Level     Level
	Namespace string
	Body      string
	Err       error
	Ctx       Ctx
}

// Formatter formats a log Message into the written entry.
type Formatter interface {
	Format(message Message) ([]byte, error)
}

// StringFormatterParams configures a StringFormatter.
type StringFormatterParams struct {
	// DateLayout defaults to time.RFC3339. Set to "-" to omit timestamps.
	DateLayout string
	// DisableContextKeySorting keeps Ctx entries in map order.
	DisableContextKeySorting bool
}

type stringFormatter struct {
	params StringFormatterParams
}

func NewStringFormatter(params StringFormatterParams) Formatter {
	if params.DateLayout == "" {
		params.DateLayout = time.RFC3339
	}

	return &stringFormatter{params: params}
}

func (f *stringFormatter) Format(message Message) ([]byte, error) {
	var b strings.Builder

	if layout := f.params.DateLayout; layout != "-" {
		b.WriteString(message.Timestamp.Format(layout))
		b.WriteString(" ")
	}

	fmt.Fprintf(&b, "%-5s %s %s", message.Level, message.Namespace, message.Body)

	if len(message.Ctx) > 0 {
		keys := make([]string, 0, len(message.Ctx))
		for k := range message.Ctx {
			keys = append(keys, k)
		}

		if !f.params.DisableContextKeySorting {
			sort.Strings(keys)
		}

		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, message.Ctx[k])
		}
	}

	if message.Err != nil {
		b.WriteString("\n")
		b.WriteString(errors.ErrorStack(message.Err))
	}

	b.WriteString("\n")

	return []byte(b.String()), nil
}
