package chrome

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewPool(t *testing.T) {
	config := DefaultConfig()
	config.PoolSize = "3"
	config.WarmupURL = "about:blank"
	logger := zaptest.NewLogger(t)

	pool, err := NewPool(config, nil, logger)
	require.NoError(t, err)
	require.NotNil(t, pool)
	defer pool.Shutdown()

	assert.Equal(t, 3, pool.PoolSize())
	assert.Equal(t, 3, pool.AvailableInstances())
}

func TestPool_AcquireRelease(t *testing.T) {
	config := DefaultConfig()
	config.PoolSize = "2"
	config.WarmupURL = "about:blank"
	logger := zaptest.NewLogger(t)

	pool, err := NewPool(config, nil, logger)
	require.NoError(t, err)
	defer pool.Shutdown()

	instance, err := pool.Acquire("test-job-1")
	require.NoError(t, err)
	require.NotNil(t, instance)

	assert.Equal(t, 1, pool.AvailableInstances())
	assert.Equal(t, StatusCapturing, instance.GetStatus())

	pool.Release(instance)
	assert.Equal(t, 2, pool.AvailableInstances())
	assert.Equal(t, StatusIdle, instance.GetStatus())
}

func TestPool_ConcurrentAccess(t *testing.T) {
	config := DefaultConfig()
	config.PoolSize = "5"
	config.WarmupURL = "about:blank"
	logger := zaptest.NewLogger(t)

	pool, err := NewPool(config, nil, logger)
	require.NoError(t, err)
	defer pool.Shutdown()

	var wg sync.WaitGroup
	numGoroutines := 20
	acquisitionsPerGoroutine := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()

			for j := 0; j < acquisitionsPerGoroutine; j++ {
				instance, err := pool.Acquire("test-job")
				if err != nil {
					t.Logf("failed to acquire: %v", err)
					continue
				}

				time.Sleep(10 * time.Millisecond)

				pool.Release(instance)
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 5, pool.AvailableInstances())

	stats := pool.GetStats()
	assert.Equal(t, int64(numGoroutines*acquisitionsPerGoroutine), stats.TotalCaptures)
}

func TestPool_GetStats(t *testing.T) {
	config := DefaultConfig()
	config.PoolSize = "3"
	config.WarmupURL = "about:blank"
	logger := zaptest.NewLogger(t)

	pool, err := NewPool(config, nil, logger)
	require.NoError(t, err)
	defer pool.Shutdown()

	stats := pool.GetStats()
	assert.Equal(t, 3, stats.TotalInstances)
	assert.Equal(t, 3, stats.AvailableInstances)
	assert.Equal(t, 0, stats.ActiveInstances)
	assert.Equal(t, int64(0), stats.TotalCaptures)

	instance, err := pool.Acquire("test-job-stats")
	require.NoError(t, err)

	stats = pool.GetStats()
	assert.Equal(t, 2, stats.AvailableInstances)
	assert.Equal(t, 1, stats.ActiveInstances)

	pool.Release(instance)

	stats = pool.GetStats()
	assert.Equal(t, 3, stats.AvailableInstances)
	assert.Equal(t, 0, stats.ActiveInstances)
	assert.Equal(t, int64(1), stats.TotalCaptures)
}

func TestPool_AutoRestart(t *testing.T) {
	config := DefaultConfig()
	config.PoolSize = "1"
	config.WarmupURL = "about:blank"
	config.RestartAfterCount = 3
	logger := zaptest.NewLogger(t)

	pool, err := NewPool(config, nil, logger)
	require.NoError(t, err)
	defer pool.Shutdown()

	for i := 0; i < 4; i++ {
		instance, err := pool.Acquire("test-job-restart")
		require.NoError(t, err)

		if i == 3 {
			assert.Equal(t, int32(0), instance.GetCapturesDone(), "instance should have been restarted")
		}

		pool.Release(instance)
	}

	stats := pool.GetStats()
	assert.Greater(t, stats.TotalRestarts, int64(0), "should have at least one restart")
}

func TestPool_Shutdown(t *testing.T) {
	config := DefaultConfig()
	config.PoolSize = "3"
	config.WarmupURL = "about:blank"
	logger := zaptest.NewLogger(t)

	pool, err := NewPool(config, nil, logger)
	require.NoError(t, err)

	stats := pool.GetStats()
	assert.Equal(t, 3, stats.TotalInstances)
	assert.Equal(t, 3, pool.AvailableInstances())

	err = pool.Shutdown()
	assert.NoError(t, err)

	select {
	case <-pool.ctx.Done():
	default:
		t.Fatal("pool context should be cancelled after shutdown")
	}

	pool.mu.RLock()
	for i, instance := range pool.instances {
		assert.Equal(t, StatusDead, instance.GetStatus(), "instance %d should be dead", i)
	}
	pool.mu.RUnlock()
}

func TestPool_ShutdownWithActiveCaptures(t *testing.T) {
	config := DefaultConfig()
	config.PoolSize = "2"
	config.WarmupURL = "about:blank"
	config.ShutdownTimeout = 2 * time.Second
	logger := zaptest.NewLogger(t)

	pool, err := NewPool(config, nil, logger)
	require.NoError(t, err)

	instance1, err := pool.Acquire("test-job-shutdown-1")
	require.NoError(t, err)
	instance2, err := pool.Acquire("test-job-shutdown-2")
	require.NoError(t, err)

	assert.Equal(t, int32(2), pool.activeWorkers.Load())

	shutdownDone := make(chan error)
	go func() {
		shutdownDone <- pool.Shutdown()
	}()

	time.Sleep(100 * time.Millisecond)

	_, err = pool.Acquire("test-job-shutdown-fail")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "shutting down")

	pool.Release(instance1)
	pool.Release(instance2)

	err = <-shutdownDone
	assert.NoError(t, err)

	assert.Equal(t, int32(0), pool.activeWorkers.Load())
}

func TestPool_ShutdownTimeout(t *testing.T) {
	config := DefaultConfig()
	config.PoolSize = "1"
	config.WarmupURL = "about:blank"
	config.ShutdownTimeout = 500 * time.Millisecond
	logger := zaptest.NewLogger(t)

	pool, err := NewPool(config, nil, logger)
	require.NoError(t, err)

	instance, err := pool.Acquire("test-job-timeout")
	require.NoError(t, err)
	_ = instance

	start := time.Now()
	err = pool.Shutdown()
	duration := time.Since(start)

	assert.InDelta(t, config.ShutdownTimeout.Seconds(), duration.Seconds(), 0.2)
	assert.NoError(t, err)

	pool.mu.RLock()
	assert.Equal(t, StatusDead, pool.instances[0].GetStatus())
	pool.mu.RUnlock()
}

func TestPool_AcquireAfterShutdown(t *testing.T) {
	config := DefaultConfig()
	config.PoolSize = "2"
	config.WarmupURL = "about:blank"
	logger := zaptest.NewLogger(t)

	pool, err := NewPool(config, nil, logger)
	require.NoError(t, err)

	err = pool.Shutdown()
	require.NoError(t, err)

	_, err = pool.Acquire("test-job-after-shutdown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "shutting down")
}

func TestPool_ReleaseDuringShutdown(t *testing.T) {
	config := DefaultConfig()
	config.PoolSize = "2"
	config.WarmupURL = "about:blank"
	config.ShutdownTimeout = 1 * time.Second
	logger := zaptest.NewLogger(t)

	pool, err := NewPool(config, nil, logger)
	require.NoError(t, err)

	instance, err := pool.Acquire("test-job-release-during-shutdown")
	require.NoError(t, err)

	shutdownDone := make(chan error)
	go func() {
		shutdownDone <- pool.Shutdown()
	}()

	time.Sleep(100 * time.Millisecond)

	pool.Release(instance)

	err = <-shutdownDone
	assert.NoError(t, err)
}

func TestPool_ConcurrentShutdown(t *testing.T) {
	config := DefaultConfig()
	config.PoolSize = "2"
	config.WarmupURL = "about:blank"
	logger := zaptest.NewLogger(t)

	pool, err := NewPool(config, nil, logger)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = pool.Shutdown()
		}(i)
	}

	wg.Wait()

	successCount := 0
	for _, err := range errs {
		if err == nil {
			successCount++
		}
	}
	assert.GreaterOrEqual(t, successCount, 1, "at least one shutdown should succeed")
}

func TestConfig_CalculatePoolSize(t *testing.T) {
	config := DefaultConfig()

	config.PoolSize = "10"
	assert.Equal(t, 10, config.CalculatePoolSize())

	config.PoolSize = "auto"
	autoSize := config.CalculatePoolSize()
	assert.GreaterOrEqual(t, autoSize, 2, "should have at least 2 instances")
	assert.LessOrEqual(t, autoSize, 50, "should not exceed 50 instances")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		expectErr bool
	}{
		{
			name:      "valid config",
			modifyFn:  func(c *Config) {},
			expectErr: false,
		},
		{
			name: "negative pool size",
			modifyFn: func(c *Config) {
				c.PoolSize = "-1"
			},
			expectErr: true,
		},
		{
			name: "zero restart count",
			modifyFn: func(c *Config) {
				c.RestartAfterCount = 0
			},
			expectErr: true,
		},
		{
			name: "empty warmup URL",
			modifyFn: func(c *Config) {
				c.WarmupURL = ""
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modifyFn(config)

			err := config.Validate()
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
