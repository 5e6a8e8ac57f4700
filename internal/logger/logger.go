package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	instance *zap.SugaredLogger
	once     sync.Once
)

type Config struct {
	Development bool
	Level       string
}

// New builds the process logger once; later calls return the same instance.
func New(cfg Config) (*zap.SugaredLogger, error) {
	var err error
	once.Do(func() {
		var zc zap.Config
		if cfg.Development {
			zc = zap.NewDevelopmentConfig()
		} else {
			zc = zap.NewProductionConfig()
		}
		if cfg.Level != "" {
			lvl, perr := zapcore.ParseLevel(cfg.Level)
			if perr != nil {
				err = perr
				return
			}
			zc.Level = zap.NewAtomicLevelAt(lvl)
		}
		var l *zap.Logger
		l, err = zc.Build()
		if err != nil {
			return
		}
		instance = l.Sugar()
	})
	return instance, err
}

// Nop is used by tests and optional components.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
