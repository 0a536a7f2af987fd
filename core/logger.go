package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"lessonlift/models"
)

// attemptRetention 数据库中保留的最新尝试记录条数
const attemptRetention = 500

// AsyncAttemptLogger 异步记录探测/生成结果，实现 AttemptRecorder
type AsyncAttemptLogger struct {
	db        *gorm.DB
	logChan   chan *models.ProviderAttempt
	logger    *logrus.Logger
	batchSize int
	flushTime time.Duration
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
}

// NewAsyncAttemptLogger 创建并启动后台写入 Worker
func NewAsyncAttemptLogger(db *gorm.DB, logger *logrus.Logger) *AsyncAttemptLogger {
	l := &AsyncAttemptLogger{
		db:        db,
		logChan:   make(chan *models.ProviderAttempt, 1000),
		logger:    logger,
		batchSize: 100,
		flushTime: 5 * time.Second,
		quit:      make(chan struct{}),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.workerLoop()
	}()
	return l
}

// Record 提交到队列，队列满时丢弃以免阻塞选择器
func (l *AsyncAttemptLogger) Record(a *models.ProviderAttempt) {
	select {
	case l.logChan <- a:
	default:
		l.logger.Warn("Attempt log channel full, dropping provider attempt")
	}
}

func (l *AsyncAttemptLogger) workerLoop() {
	var batch []*models.ProviderAttempt
	ticker := time.NewTicker(l.flushTime)
	defer ticker.Stop()

	for {
		select {
		case a := <-l.logChan:
			batch = append(batch, a)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = nil
			}
		case <-l.quit:
			// 退出前取完队列中剩余的记录
			for {
				select {
				case a := <-l.logChan:
					batch = append(batch, a)
				default:
					l.flush(batch)
					return
				}
			}
		}
	}
}

type statKey struct {
	fingerprint string
	model       string
}

type statDelta struct {
	success int
	errors  int
	latency float64
	total   int64
}

func (l *AsyncAttemptLogger) flush(batch []*models.ProviderAttempt) {
	if len(batch) == 0 {
		return
	}
	l.logger.Debugf("[AttemptLogger] Flushing %d attempts to DB", len(batch))

	if err := l.db.CreateInBatches(batch, len(batch)).Error; err != nil {
		l.logger.Errorf("[AttemptLogger] Failed to flush attempts: %v", err)
	}
	l.prune()

	deltas := make(map[statKey]*statDelta)
	for _, a := range batch {
		k := statKey{fingerprint: a.Fingerprint, model: a.Model}
		d, ok := deltas[k]
		if !ok {
			d = &statDelta{}
			deltas[k] = d
		}
		d.total++
		d.latency += float64(a.Duration)
		if a.Success {
			d.success++
		} else {
			d.errors++
		}
	}

	for k, d := range deltas {
		var stat models.ProviderStats
		err := l.db.Where("fingerprint = ? AND model_name = ?", k.fingerprint, k.model).First(&stat).Error
		if err == nil {
			stat.Success += d.success
			stat.Error += d.errors
			stat.TotalLatency += d.latency
			stat.TotalRequests += d.total
			err = l.db.Save(&stat).Error
		} else {
			err = l.db.Create(&models.ProviderStats{
				Fingerprint:   k.fingerprint,
				ModelName:     k.model,
				Success:       d.success,
				Error:         d.errors,
				TotalLatency:  d.latency,
				TotalRequests: d.total,
			}).Error
		}
		if err != nil {
			l.logger.Errorf("[AttemptLogger] Failed to update stats for %s/%s: %v", k.fingerprint, k.model, err)
		}
	}
}

// prune 只保留最新的 attemptRetention 条
func (l *AsyncAttemptLogger) prune() {
	var count int64
	if err := l.db.Model(&models.ProviderAttempt{}).Count(&count).Error; err != nil {
		l.logger.Errorf("[AttemptLogger] Failed to count attempts for pruning: %v", err)
		return
	}
	if count <= attemptRetention {
		return
	}
	var pivotID uint
	if err := l.db.Model(&models.ProviderAttempt{}).Select("id").Order("id desc").Offset(attemptRetention).Limit(1).Scan(&pivotID).Error; err != nil {
		l.logger.Errorf("[AttemptLogger] Failed to locate prune pivot: %v", err)
		return
	}
	if pivotID == 0 {
		return
	}
	if err := l.db.Where("id <= ?", pivotID).Delete(&models.ProviderAttempt{}).Error; err != nil {
		l.logger.Errorf("[AttemptLogger] Failed to prune attempts: %v", err)
	}
}

// Close 刷新剩余记录并停止 Worker，可重复调用
func (l *AsyncAttemptLogger) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
		l.wg.Wait()
	})
}

// ListProviderStats 按总请求数降序返回统计
func ListProviderStats(db *gorm.DB) ([]models.ProviderStats, error) {
	var stats []models.ProviderStats
	err := db.Order("total_requests desc").Find(&stats).Error
	return stats, err
}

// ListRecentAttempts 返回最近的尝试记录
func ListRecentAttempts(db *gorm.DB, limit int) ([]models.ProviderAttempt, error) {
	var attempts []models.ProviderAttempt
	err := db.Order("id desc").Limit(limit).Find(&attempts).Error
	return attempts, err
}
