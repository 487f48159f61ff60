package logger

import (
	"log/slog"
	"os"
	"sync"
)

var (
	log  *slog.Logger
	once sync.Once
)

// Init configures the process-wide JSON logger. Safe to call more than once;
// only the first call takes effect.
func Init() {
	once.Do(func() {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	})
}

func Info(event string, fields map[string]interface{}) {
	Init()
	log.Info(event, attrs(fields)...)
}

func Warn(event string, fields map[string]interface{}) {
	Init()
	log.Warn(event, attrs(fields)...)
}

func Error(event string, err error, fields map[string]interface{}) {
	Init()
	args := attrs(fields)
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	log.Error(event, args...)
}

func attrs(fields map[string]interface{}) []any {
	args := make([]any, 0, len(fields))
	for key, value := range fields {
		args = append(args, slog.Any(key, value))
	}
	return args
}
