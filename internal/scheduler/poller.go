package scheduler

import (
	"context"
	"sync"
	"time"

	"blog_migrator/internal/logger"

	"github.com/robfig/cron/v3"
)

// Job выполняется на каждом тике с текущим временем.
type Job func(ctx context.Context, now time.Time) error

// Poller запускает Job по cron-расписанию. Тики не перекрываются:
// если предыдущий прогон ещё идёт, следующий пропускается.
type Poller struct {
	cron     *cron.Cron
	schedule string
	job      Job
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

func NewPoller(schedule string, job Job) *Poller {
	return &Poller{
		cron:     cron.New(),
		schedule: schedule,
		job:      job,
		now:      time.Now,
	}
}

// Start регистрирует задачу и запускает cron. Остановка по ctx или Stop.
func (p *Poller) Start(ctx context.Context) error {
	log := logger.Service("poller").WithField("schedule", p.schedule)

	_, err := p.cron.AddFunc(p.schedule, func() { p.Tick(ctx) })
	if err != nil {
		return err
	}
	p.cron.Start()
	log.Info("Due-post poller started")

	go func() {
		<-ctx.Done()
		log.Info("Stopping poller by context")
		p.Stop()
	}()
	return nil
}

// Tick выполняет один прогон; возвращает false, если прошлый ещё не закончился.
func (p *Poller) Tick(ctx context.Context) bool {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		logger.Service("poller").Debug("Previous cycle still running, skipping")
		return false
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	log := logger.Service("poller")
	log.Debug("Starting new polling cycle")
	if err := p.job(ctx, p.now()); err != nil {
		log.Errorf("Polling cycle failed: %v", err)
	}
	return true
}

// Stop ждёт завершения текущего прогона.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}
