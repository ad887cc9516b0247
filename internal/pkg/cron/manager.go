package cron

import (
	"TelegramMini/internal/job"
	"fmt"
	log "log/slog"

	"github.com/robfig/cron/v3"
)

type Manager struct {
	engine    *cron.Cron
	sweepJob  *job.PresenceSweepJob
	sweepSpec string
}

// NewCronManager sweepInterval 单位秒
func NewCronManager(sweepJob *job.PresenceSweepJob, sweepInterval int) *Manager {
	if sweepInterval <= 0 {
		sweepInterval = 30
	}
	return &Manager{
		engine:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sweepJob:  sweepJob,
		sweepSpec: fmt.Sprintf("@every %ds", sweepInterval),
	}
}

// RegisterJobs 注册定时任务
func (s *Manager) RegisterJobs() error {
	if _, err := s.engine.AddJob(s.sweepSpec, s.sweepJob); err != nil {
		return err
	}
	return nil
}

func (s *Manager) Start() {
	log.Info("Cron 定时任务引擎启动", "presence_sweep", s.sweepSpec)
	s.engine.Start()
}

// Stop 等待正在执行的任务结束
func (s *Manager) Stop() {
	log.Info("Cron 定时任务引擎停止")
	<-s.engine.Stop().Done()
}
