/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package swapflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/swapflow/config"
	"github.com/jerry-enebeli/swapflow/model"
	"github.com/jerry-enebeli/swapflow/queue"
)

// RecoveryProcessor re-enqueues orders left in pending, for instance when
// the process stopped between recording an order and queueing its job. An
// order whose job is still known to the queue is left alone.
type RecoveryProcessor struct {
	swapflow       *Swapflow
	batchSize      int
	maxWorkers     int
	pollInterval   time.Duration
	stuckThreshold time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

func NewRecoveryProcessor(s *Swapflow, cnf config.QueueConfig) *RecoveryProcessor {
	maxWorkers := cnf.Concurrency
	if maxWorkers <= 0 {
		maxWorkers = config.DEFAULT_CONCURRENCY
	}
	threshold := time.Duration(cnf.RecoveryThresholdSec) * time.Second
	if threshold <= 0 {
		threshold = config.DEFAULT_RECOVERY_THRESHOLD * time.Second
	}

	return &RecoveryProcessor{
		swapflow:       s,
		batchSize:      maxWorkers * 100,
		maxWorkers:     maxWorkers,
		pollInterval:   30 * time.Second,
		stuckThreshold: threshold,
		stopCh:         make(chan struct{}),
	}
}

func (p *RecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Pending order recovery processor started")
}

func (p *RecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Pending order recovery processor stopped")
}

func (p *RecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Recover(ctx, p.stuckThreshold)
		}
	}
}

// Recover enqueues every order pending for longer than threshold and returns
// how many were queued.
func (p *RecoveryProcessor) Recover(ctx context.Context, threshold time.Duration) int {
	stuck, err := p.swapflow.store.GetStaleOrders(ctx, model.StatusPending, threshold, p.batchSize)
	if err != nil {
		logrus.Errorf("failed to get stale pending orders: %v", err)
		return 0
	}
	if len(stuck) == 0 {
		return 0
	}

	logrus.Infof("Processing %d stale pending orders with %d workers (threshold=%v)", len(stuck), p.maxWorkers, threshold)

	sem := make(chan struct{}, p.maxWorkers)
	var (
		batchWg   sync.WaitGroup
		recovered int
		countMu   sync.Mutex
	)

	for _, order := range stuck {
		sem <- struct{}{}
		batchWg.Add(1)
		go func(o *model.Order) {
			defer batchWg.Done()
			defer func() { <-sem }()

			err := p.swapflow.enqueue(ctx, o)
			switch {
			case errors.Is(err, queue.ErrDuplicateJob):
				logrus.Debugf("order %s still has a job, skipping", o.OrderID)
			case err != nil:
				logrus.Errorf("failed to recover order %s: %v", o.OrderID, err)
			default:
				logrus.Infof("Recovered pending order %s", o.OrderID)
				countMu.Lock()
				recovered++
				countMu.Unlock()
			}
		}(order)
	}

	batchWg.Wait()
	return recovered
}
