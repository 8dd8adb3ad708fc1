package railway

import (
	"context"
	"io"
	"io/ioutil"

	"github.com/casualjim/railway/internal"
	"github.com/sirupsen/logrus"
)

// NopLogger drops every entry on the floor.
var NopLogger logrus.FieldLogger

func init() {
	l := logrus.New()
	l.Out = ioutil.Discard
	l.Level = logrus.PanicLevel
	NopLogger = l
}

// GoLog creates a text logger that writes to the provided writer.
// Every entry is prefixed with the given prefix, a nil writer discards the output.
func GoLog(w io.Writer, prefix string) logrus.FieldLogger {
	if w == nil {
		w = ioutil.Discard
	}
	l := logrus.New()
	l.Out = w
	l.Level = logrus.DebugLevel
	l.Formatter = &prefixFormatter{
		prefix: prefix,
		next:   &logrus.TextFormatter{DisableColors: true, DisableTimestamp: true},
	}
	return l
}

type prefixFormatter struct {
	prefix string
	next   logrus.Formatter
}

func (p *prefixFormatter) Format(e *logrus.Entry) ([]byte, error) {
	b, err := p.next.Format(e)
	if err != nil || p.prefix == "" {
		return b, err
	}
	return append([]byte(p.prefix), b...), nil
}

// SetLogger on the context so steps can log with the fields of the running operation
func SetLogger(ctx context.Context, logger logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, internal.LoggerKey, logger)
}

// ContextLogger gets the logger from the context, falls back to the NopLogger
func ContextLogger(ctx context.Context) logrus.FieldLogger {
	if ctx == nil {
		return NopLogger
	}
	l, ok := ctx.Value(internal.LoggerKey).(logrus.FieldLogger)
	if !ok || l == nil {
		return NopLogger
	}
	return l
}
