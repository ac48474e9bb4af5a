package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/surety/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     model.LoggingConfig
		level   zapcore.Level
		wantErr bool
	}{
		{name: "production default", cfg: model.LoggingConfig{Mode: ModeProduction}, level: zapcore.InfoLevel},
		{name: "development debug", cfg: model.LoggingConfig{Mode: ModeDevelopment}, level: zapcore.DebugLevel},
		{name: "explicit level", cfg: model.LoggingConfig{Mode: ModeProduction, Level: "warn"}, level: zapcore.WarnLevel},
		{name: "bad level", cfg: model.LoggingConfig{Level: "loud"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.level))
			if tt.level > zapcore.DebugLevel {
				assert.False(t, l.Core().Enabled(tt.level-1))
			}
		})
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "surety.log")
	l, err := New(model.LoggingConfig{Mode: ModeProduction, File: path})
	require.NoError(t, err)

	l.Info("request resolved", zap.String("request", "4:airline-1/ND1309@1"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"request resolved"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func Test_getEncoder(t *testing.T) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = ""
	_, err := getEncoder(cfg)
	assert.Error(t, err)

	cfg.Encoding = "console"
	enc, err := getEncoder(cfg)
	require.NoError(t, err)
	assert.NotNil(t, enc)
}
