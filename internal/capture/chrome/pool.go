package chrome

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/archivore/mirror/internal/telemetry"
)

// Pool manages a pool of browser instances with a simple FIFO queue.
type Pool struct {
	config        *Config
	logger        *zap.Logger
	instances     []*Instance
	queue         chan int // FIFO queue of available instance IDs
	mu            sync.RWMutex
	activeWorkers atomic.Int32
	totalCaptures atomic.Int64
	totalRestarts atomic.Int64
	createdAt     time.Time
	ctx           context.Context
	cancel        context.CancelFunc
	metrics       *telemetry.Collector
	poolSize      int

	// acquiredBy tracks which job currently occupies each instance.
	acquiredBy   map[int]string
	acquiredByMu sync.Mutex
}

// NewPool creates a new capture worker pool with the given configuration.
func NewPool(config *Config, metrics *telemetry.Collector, logger *zap.Logger) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poolSize := config.CalculatePoolSize()
	logger.Info("initializing capture worker pool", zap.Int("pool_size", poolSize))

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		config:     config,
		logger:     logger,
		instances:  make([]*Instance, poolSize),
		queue:      make(chan int, poolSize),
		createdAt:  time.Now().UTC(),
		ctx:        ctx,
		cancel:     cancel,
		metrics:    metrics,
		poolSize:   poolSize,
		acquiredBy: make(map[int]string),
	}

	for i := 0; i < poolSize; i++ {
		instance, err := NewInstance(i, config, logger)
		if err != nil {
			pool.Shutdown()
			return nil, fmt.Errorf("failed to create instance %d: %w", i, err)
		}

		pool.instances[i] = instance
		pool.queue <- i
	}

	pool.reportGauges()
	logger.Info("capture worker pool initialized", zap.Int("instances", poolSize))

	return pool, nil
}

// Acquire acquires a browser instance from the pool (blocking).
func (p *Pool) Acquire(jobID string) (*Instance, error) {
	select {
	case <-p.ctx.Done():
		return nil, ErrPoolShutdown
	case instanceID := <-p.queue:
		select {
		case <-p.ctx.Done():
			select {
			case p.queue <- instanceID:
			default:
			}
			return nil, ErrPoolShutdown
		default:
		}

		p.activeWorkers.Add(1)

		p.acquiredByMu.Lock()
		p.acquiredBy[instanceID] = jobID
		p.acquiredByMu.Unlock()

		p.mu.RLock()
		instance := p.instances[instanceID]
		p.mu.RUnlock()

		if !instance.IsAlive() {
			p.logger.Warn("browser instance is dead, restarting",
				zap.String("job_id", jobID),
				zap.Int("instance_id", instanceID),
				zap.Int32("captures_done", instance.GetCapturesDone()))

			if err := instance.Restart(p.config); err != nil {
				p.logger.Error("failed to restart dead instance",
					zap.String("job_id", jobID),
					zap.Int("instance_id", instanceID),
					zap.Error(err))
				select {
				case p.queue <- instanceID:
				case <-p.ctx.Done():
				}
				p.activeWorkers.Add(-1)
				return nil, fmt.Errorf("%w: instance %d", ErrInstanceDead, instanceID)
			}
			p.totalRestarts.Add(1)
		}

		if instance.ShouldRestart(p.config) {
			p.logger.Info("browser instance needs restart based on policy",
				zap.String("job_id", jobID),
				zap.Int("instance_id", instanceID),
				zap.Int32("captures_done", instance.GetCapturesDone()),
				zap.Duration("age", instance.Age()))

			if err := instance.Restart(p.config); err != nil {
				p.logger.Error("failed to restart instance",
					zap.String("job_id", jobID),
					zap.Int("instance_id", instanceID),
					zap.Error(err))
			} else {
				p.totalRestarts.Add(1)
			}
		}

		instance.SetStatus(StatusCapturing)
		instance.currentJobID = jobID

		p.reportGauges()

		p.logger.Debug("browser instance acquired",
			zap.String("job_id", jobID),
			zap.Int("instance_id", instanceID),
			zap.Int32("active_workers", p.activeWorkers.Load()),
			zap.Int("pool_size", p.poolSize))

		return instance, nil
	}
}

// Release returns a browser instance back to the pool.
func (p *Pool) Release(instance *Instance) {
	jobID := instance.currentJobID
	instance.SetStatus(StatusIdle)
	instance.IncrementCaptures()
	p.totalCaptures.Add(1)

	instance.currentJobID = ""

	p.acquiredByMu.Lock()
	delete(p.acquiredBy, instance.ID)
	p.acquiredByMu.Unlock()

	p.activeWorkers.Add(-1)
	p.reportGauges()

	select {
	case p.queue <- instance.ID:
		p.logger.Debug("browser instance released",
			zap.String("job_id", jobID),
			zap.Int("instance_id", instance.ID),
			zap.Int32("captures_done", instance.GetCapturesDone()),
			zap.Int32("active_workers", p.activeWorkers.Load()))
	case <-p.ctx.Done():
		p.logger.Debug("discarding instance during shutdown",
			zap.String("job_id", jobID),
			zap.Int("instance_id", instance.ID))
	default:
		p.logger.Error("queue full when returning instance - possible leak",
			zap.String("job_id", jobID),
			zap.Int("instance_id", instance.ID),
			zap.Int("queue_len", len(p.queue)))
	}
}

func (p *Pool) reportGauges() {
	if p.metrics == nil {
		return
	}
	stats := p.GetStats()
	p.metrics.UpdatePoolSize(stats.TotalInstances)
	p.metrics.UpdatePoolAvailable(stats.AvailableInstances)
}

// GetStats returns current pool statistics.
func (p *Pool) GetStats() PoolStats {
	p.mu.RLock()
	totalInstances := len(p.instances)
	p.mu.RUnlock()

	return PoolStats{
		TotalInstances:     totalInstances,
		AvailableInstances: len(p.queue),
		ActiveInstances:    int(p.activeWorkers.Load()),
		QueueDepth:         totalInstances - len(p.queue),
		TotalCaptures:      p.totalCaptures.Load(),
		TotalRestarts:      p.totalRestarts.Load(),
		Uptime:             time.Since(p.createdAt),
	}
}

// Shutdown gracefully shuts down all browser instances with the configured
// default timeout.
func (p *Pool) Shutdown() error {
	return p.ShutdownWithTimeout(p.config.ShutdownTimeout)
}

// ShutdownWithTimeout gracefully shuts down all browser instances, draining
// in-flight captures for up to timeout before forcing termination.
func (p *Pool) ShutdownWithTimeout(timeout time.Duration) error {
	p.logger.Info("initiating capture worker pool shutdown",
		zap.Duration("timeout", timeout),
		zap.Int32("active_workers", p.activeWorkers.Load()))

	p.cancel()

	stats := p.GetStats()
	p.logger.Info("shutdown initiated - waiting for active captures to complete",
		zap.Int("active_workers", stats.ActiveInstances),
		zap.Int("total_instances", stats.TotalInstances))

	if p.waitForActiveCaptures(timeout) {
		p.logger.Info("all active captures completed gracefully")
	} else {
		p.logger.Warn("shutdown timeout exceeded, forcing termination",
			zap.Int32("stuck_workers", p.activeWorkers.Load()))
	}

	p.mu.Lock()
	var errs []error
	for i, instance := range p.instances {
		if instance == nil {
			continue
		}
		if err := instance.Terminate(); err != nil {
			p.logger.Error("error terminating instance", zap.Int("instance_id", i), zap.Error(err))
			errs = append(errs, err)
		}
	}
	p.mu.Unlock()

	finalStats := p.GetStats()
	p.logger.Info("capture worker pool shut down",
		zap.Int64("total_captures", finalStats.TotalCaptures),
		zap.Int64("total_restarts", finalStats.TotalRestarts),
		zap.Duration("uptime", finalStats.Uptime))

	if len(errs) > 0 {
		return fmt.Errorf("encountered %d errors during shutdown", len(errs))
	}
	return nil
}

// waitForActiveCaptures waits for all active captures to complete with a
// timeout. Returns true if all captures completed, false if the timeout was
// reached.
func (p *Pool) waitForActiveCaptures(timeout time.Duration) bool {
	deadline := time.Now().UTC().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.activeWorkers.Load() == 0 {
			return true
		}
		<-ticker.C
		if time.Now().UTC().After(deadline) {
			return false
		}
	}
}

// PoolSize returns the total number of instances in the pool.
func (p *Pool) PoolSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.instances)
}

// AvailableInstances returns the number of idle instances.
func (p *Pool) AvailableInstances() int {
	return len(p.queue)
}
