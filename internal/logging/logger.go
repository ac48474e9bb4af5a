// Package logging builds the zap loggers used by the server and simulator.
package logging

import (
	"os"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// New creates a logger for cfg. Development mode logs to the console with
// caller info; production mode logs JSON. When cfg.File is set output goes to
// a rotating file, mirrored to stderr if cfg.Console is true.
func New(cfg model.LoggingConfig) (*zap.Logger, error) {
	zcfg := buildConfig(cfg.Mode)
	if cfg.Level != "" {
		if err := zcfg.Level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, errors.Wrapf(err, "parse log level %q", cfg.Level)
		}
	}

	enc, err := getEncoder(zcfg)
	if err != nil {
		return nil, err
	}

	ws := zapcore.Lock(zapcore.AddSync(os.Stderr))
	if cfg.File != "" {
		ws = getWriteSyncer(cfg.File)
		if cfg.Console {
			ws = zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stderr), ws)
		}
	}

	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(zapcore.AddSync(os.Stderr)))}
	if !zcfg.DisableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if zcfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	}
	return zap.New(zapcore.NewCore(enc, ws, zcfg.Level), opts...), nil
}

func buildConfig(mode string) zap.Config {
	var cfg zap.Config
	if mode != ModeDevelopment {
		cfg = zap.NewProductionConfig()
		cfg.DisableCaller = true
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.NameKey = "name"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.EncoderConfig.StacktraceKey = "stacktrace"
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func getEncoder(conf zap.Config) (zapcore.Encoder, error) {
	switch conf.Encoding {
	case "json":
		return zapcore.NewJSONEncoder(conf.EncoderConfig), nil
	case "console":
		return zapcore.NewConsoleEncoder(conf.EncoderConfig), nil
	default:
		return nil, errors.Errorf("unknown encoding %q", conf.Encoding)
	}
}

func getWriteSyncer(path string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // MB
		MaxBackups: 5,
		MaxAge:     28, // days
	})
}
