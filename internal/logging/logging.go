package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var levelMap = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

var (
	logger *zap.Logger
	sugar  *zap.SugaredLogger
)

// Init builds the process-wide logger. When file is non-empty, output also
// goes to a size-rotated log file.
func Init(level string, file string) error {
	zapLevel, ok := levelMap[level]
	if !ok {
		return fmt.Errorf("illegal log level: %s", level)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	sink := zapcore.AddSync(os.Stderr)
	if file != "" {
		rotated := zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
		sink = zapcore.NewMultiWriteSyncer(sink, rotated)
	}

	logger = zap.New(zapcore.NewCore(encoder, sink, zapLevel), zap.AddCaller())
	sugar = logger.Sugar()
	return nil
}

// L returns the sugared logger, initializing a default one if Init was never
// called (keeps tests and tools working without setup).
func L() *zap.SugaredLogger {
	if sugar == nil {
		if err := Init("info", ""); err != nil {
			panic(err)
		}
	}
	return sugar
}

func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
