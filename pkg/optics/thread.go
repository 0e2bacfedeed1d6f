// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

import (
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
)

// Thread runs a poller on a fixed frequency in the background. It merely
// calls Poll on a timer; all harvest logic lives in the poller itself.
type Thread struct {
	scheduler gocron.Scheduler
}

// StartThread schedules a poll cycle every freq and starts the scheduler.
func StartThread(poller *Poller, freq time.Duration) (*Thread, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = s.NewJob(gocron.DurationJob(freq),
		gocron.NewTask(
			func() {
				if !poller.Poll() {
					cclog.Warn("optics poll cycle failed")
				}
			}))
	if err != nil {
		_ = s.Shutdown()
		return nil, err
	}

	s.Start()
	return &Thread{scheduler: s}, nil
}

// Stop shuts the scheduler down, waiting for a running cycle to finish.
func (t *Thread) Stop() error {
	return t.scheduler.Shutdown()
}
