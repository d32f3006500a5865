package logger

import (
	"fmt"
	"io"
	"time"
)

// osSink is the default LogSink, writing leveled messages to an io.Writer
// (typically os.Stderr) as single lines.
type osSink struct {
	w io.Writer
}

func newOSSink(w io.Writer) *osSink {
	return &osSink{w: w}
}

func (s *osSink) Info(level int, msg string, keysAndValues ...interface{}) {
	line := fmt.Sprintf("%s level=%d msg=%q", time.Now().UTC().Format(time.RFC3339Nano), level, msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		line += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	fmt.Fprintln(s.w, line)
}
