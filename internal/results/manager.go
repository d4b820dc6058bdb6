package results

import (
	"bb-rsi-backtest-go/internal/models"
	"bb-rsi-backtest-go/internal/persistence"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Manager 异步持久化回测结果。HTTP 请求只负责投递，写库在后台串行完成，
// 因此刚完成的运行在写入前查询可能返回未找到。
type Manager struct {
	repo            persistence.ResultRepository
	persistenceChan chan *models.RunResult
	stopChan        chan struct{}
	done            chan struct{}
	started         atomic.Bool
	stopOnce        sync.Once
	logger          *zap.Logger
}

// NewManager creates a new Manager.
func NewManager(repo persistence.ResultRepository, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		repo:            repo,
		persistenceChan: make(chan *models.RunResult, 64), // Buffered channel for results to be persisted
		stopChan:        make(chan struct{}),
		done:            make(chan struct{}),
		logger:          logger,
	}
}

// Start begins the persistence loop.
func (m *Manager) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.persistenceLoop()
	m.logger.Sugar().Info("ResultManager started.")
}

// Stop 停止后台循环，已投递的结果会先写完
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		if m.started.Load() {
			<-m.done
		}
		m.logger.Sugar().Info("ResultManager stopped.")
	})
}

// Submit 投递一个结果。停止后调用不会阻塞，结果可能不会被写入。
func (m *Manager) Submit(res *models.RunResult) {
	if res == nil {
		return
	}
	select {
	case m.persistenceChan <- res:
	case <-m.stopChan:
		m.logger.Warn("ResultManager 已停止，丢弃回测结果", zap.String("run_id", res.ID))
	}
}

// Get 按运行 ID 读取已持久化的结果
func (m *Manager) Get(id string) (*models.RunResult, bool, error) {
	return m.repo.LoadResult(id)
}

// persistenceLoop handles the asynchronous saving of results.
func (m *Manager) persistenceLoop() {
	defer close(m.done)
	for {
		select {
		case res := <-m.persistenceChan:
			m.save(res)
		case <-m.stopChan:
			// 写完缓冲区中剩余的结果
			for {
				select {
				case res := <-m.persistenceChan:
					m.save(res)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) save(res *models.RunResult) {
	if err := m.repo.SaveResult(res); err != nil {
		m.logger.Error("保存回测结果失败", zap.String("run_id", res.ID), zap.Error(err))
		return
	}
	m.logger.Debug("回测结果已保存", zap.String("run_id", res.ID), zap.Int("trades", len(res.Trades)))
}
