package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	require.NoError(t, cfg.Validate())

	_, err = FromAppConfig(config.LogConfig{Level: "nope"})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Stdout = false
	assert.Error(t, cfg.Validate())
}

func TestContextFields(t *testing.T) {
	ctx := WithRequestID(WithWorkspace(context.Background(), "research"), "req-1")

	tl := NewTestLogger()
	tl.Info(ctx, "asked")

	tl.AssertField(t, "asked", "workspace", "research")
	tl.AssertField(t, "asked", "request.id", "req-1")
	assert.Empty(t, ContextFields(context.Background()))
}

func TestFromContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	out, err := enc.EncodeEntry(zapcore.Entry{Message: "call"}, []zap.Field{
		zap.String("api_key", "sk-live-value"),
		zap.String("header", "Bearer abc.def"),
		zap.String("model", "llama3.2:3b"),
	})
	require.NoError(t, err)
	buf.Write(out.Bytes())

	s := buf.String()
	assert.NotContains(t, s, "sk-live-value")
	assert.NotContains(t, s, "abc.def")
	assert.Contains(t, s, "llama3.2:3b")
}

func TestRedactingEncoder_BadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), RedactionConfig{
		Enabled:  true,
		Patterns: []string{"("},
	})
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("api_key", config.Secret("abcd"))
	assert.Equal(t, "[REDACTED:4]", f.String)
}

func TestSampledCore_ErrorsAlwaysPass(t *testing.T) {
	tl := NewTestLogger()
	core := newSampledCore(tl.Underlying().Core(), SamplingConfig{Enabled: true, Tick: 1e9, Initial: 1, Thereafter: 0})
	l := zap.New(core)
	for i := 0; i < 5; i++ {
		l.Info("repeat")
		l.Error("boom")
	}
	assert.Len(t, tl.FilterMessage("repeat").All(), 1)
	assert.Len(t, tl.FilterMessage("boom").All(), 5)
}
