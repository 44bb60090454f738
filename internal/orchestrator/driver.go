package orchestrator

import (
	"time"

	"github.com/archivore/mirror/internal/capture"
	"github.com/archivore/mirror/internal/capture/chrome"
)

// pooledDriver wraps a chrome.Driver so that Close both cancels the tab
// and returns the underlying browser instance to the pool. Only the tab is
// closed: a later Acquire hands the same instance out for another URL.
type pooledDriver struct {
	*chrome.Driver
	pool     *chrome.Pool
	instance *chrome.Instance
}

func newPooledDriver(pool *chrome.Pool, jobID string, navTimeout time.Duration) (capture.Driver, error) {
	instance, err := pool.Acquire(jobID)
	if err != nil {
		return nil, err
	}

	d, err := chrome.NewDriver(instance, navTimeout)
	if err != nil {
		pool.Release(instance)
		return nil, err
	}

	return &pooledDriver{Driver: d, pool: pool, instance: instance}, nil
}

func (d *pooledDriver) Close() error {
	err := d.Driver.Close()
	d.pool.Release(d.instance)
	return err
}
