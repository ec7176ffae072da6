package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
)

type zapOutput struct {
	enc zapcore.Encoder
	ws  zapcore.WriteSyncer
}

// ZapOutput returns a log.Output that encodes each message as a single-line
// JSON document using the zapcore production encoder. It is selected by
// LOG_FORMAT=json and is meant for log collectors that ingest structured
// streams.
//
// Logger-level fields are already folded into the message text by Logger, so
// the resulting document carries level, ts and msg keys only.
func ZapOutput(w io.Writer) Output {
	cfg := zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		TimeKey:     "ts",
		EncodeTime:  zapcore.ISO8601TimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return &zapOutput{
		enc: zapcore.NewJSONEncoder(cfg),
		ws:  zapcore.AddSync(w),
	}
}

func (z *zapOutput) Write(stamp time.Time, debug bool, msg string) {
	lvl := zapcore.InfoLevel
	if debug {
		lvl = zapcore.DebugLevel
	}
	buf, err := z.enc.EncodeEntry(zapcore.Entry{
		Level:   lvl,
		Time:    stamp,
		Message: msg,
	}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "!!! Failed to encode log message: %v\n", err)
		return
	}
	_, err = z.ws.Write(buf.Bytes())
	buf.Free()
	if err != nil {
		fmt.Fprintf(os.Stderr, "!!! Failed to write message to log: %v\n", err)
	}
}

func (z *zapOutput) Close() error {
	return z.ws.Sync()
}
