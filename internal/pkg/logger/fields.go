package logger

import (
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Field helpers shared by the archiving components so every log line uses the same keys.

func Node(node string) zap.Field {
	return zap.String("node", node)
}

func Archive(name string) zap.Field {
	return zap.String("archive", name)
}

func Entry(name string) zap.Field {
	return zap.String("entry", name)
}

func Key(key string) zap.Field {
	return zap.String("key", key)
}

func LockName(name string) zap.Field {
	return zap.String("lock", name)
}

// Size logs a byte count in IEC units (e.g. "1.5 MiB")
func Size(n int64) zap.Field {
	if n < 0 {
		return zap.Int64("size", n)
	}
	return zap.String("size", humanize.IBytes(uint64(n)))
}

func Elapsed(start time.Time) zap.Field {
	return zap.Duration("duration", time.Since(start))
}
