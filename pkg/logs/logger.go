// Package logs holds the process-wide logrus logger and the field sets the daemon
// and the agent attach to pass and request logs.
package logs

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is usable before Init with logrus defaults.
var Logger = logrus.StandardLogger()

// Options configure the logger.
type Options struct {
	Level     string // logrus level name; unknown names fall back to info
	Format    string // text|json
	Component string // added as "component" to every entry, e.g. syncd or agent
	Output    io.Writer
}

// Init replaces Logger. It reports an unknown level after installing the logger at info.
func Init(opts Options) error {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	}
	if strings.EqualFold(opts.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if opts.Component != "" {
		l.AddHook(componentHook(opts.Component))
	}

	var err error
	level, perr := logrus.ParseLevel(strings.TrimSpace(opts.Level))
	if perr != nil {
		level = logrus.InfoLevel
		if opts.Level != "" {
			err = fmt.Errorf("log level %q: %w", opts.Level, perr)
		}
	}
	l.SetLevel(level)
	Logger = l
	return err
}

// ForPass tags reconciliation pass logs with direction and conflict policy.
func ForPass(direction, policy string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{"direction": direction, "policy": policy})
}

// ForRequest tags HTTP access logs with the request id.
func ForRequest(reqID, method, uri string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{"reqid": reqID, "method": method, "uri": uri})
}

type componentHook string

func (componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["component"]; !ok {
		e.Data["component"] = string(h)
	}
	return nil
}
