package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"

	"github.com/copp1723/team-crm-sub000/config"
)

// saveAndRestoreGlobalProviders snapshots the current global OTel providers
// and restores them via t.Cleanup so tests don't leak state.
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.traces, "trace provider should be nil when disabled")
	assert.Nil(t, p.metrics, "meter provider should be nil when disabled")
}

func TestInit_Enabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	cfg := config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "teamcrm-test",
		SampleRate:   0.5,
	}

	p, err := Init(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotNil(t, p.traces, "trace provider should be set when enabled")
	assert.NotNil(t, p.metrics, "meter provider should be set when enabled")

	// 全局 provider 应替换为 SDK 实现,不再是 noop
	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK, "global TracerProvider should be *sdktrace.TracerProvider")
	assert.True(t, mpIsSDK, "global MeterProvider should be *sdkmetric.MeterProvider")

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}

func TestInit_SampleRateClamped(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	// 配错采样率不应让 Init 失败,夹到合法区间即可
	for _, rate := range []float64{-0.5, 2.0} {
		cfg := config.TelemetryConfig{
			Enabled:      true,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "teamcrm-clamp-test",
			SampleRate:   rate,
		}
		p, err := Init(cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, p.traces)

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		_ = p.Shutdown(ctx)
		cancel()
	}
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	// nil *Providers 上调 Shutdown 不能 panic
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProviders_Shutdown_Noop(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProviders_Shutdown_Real(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	cfg := config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "teamcrm-shutdown-test",
		SampleRate:   1.0,
	}

	p, err := Init(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p.traces)
	require.NotNil(t, p.metrics)

	// 测试环境没有 collector,导出器可能报连接错误;
	// 只验证 Shutdown 在限期内返回且不 panic。
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	assert.NotPanics(t, func() {
		_ = p.Shutdown(ctx)
	})
}

func TestModuleVersion(t *testing.T) {
	v := moduleVersion()
	assert.NotEmpty(t, v)
	// 测试二进制里 ReadBuildInfo 通常报 "(devel)",应回落 "dev"
	assert.Equal(t, "dev", v)
}
