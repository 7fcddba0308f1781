package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/metrics"
	"github.com/betbot/signaltrader/internal/risk"
)

var engineLog = logrus.WithField("component", "engine")

var (
	// ErrLifecycleInFlight 该交易对已有订单生命周期在运行，新信号被拒绝（不排队）
	ErrLifecycleInFlight = errors.New("lifecycle in flight")
	// ErrEngineStopped Engine 已停止
	ErrEngineStopped = errors.New("engine stopped")
)

// TradeResult 异步交易结果
type TradeResult struct {
	Outcome Outcome
	Err     error
}

// Snapshot Engine 的只读状态
type Snapshot struct {
	StateView
	Busy              bool
	Halted            bool
	ConsecutiveErrors int64
	LastOutcome       *Outcome
	LastError         string
	LastRefresh       time.Time
}

// EngineConfig Engine 配置
type EngineConfig struct {
	// BalanceRefreshInterval 周期性带外余额刷新（之后尝试 ReinforcePosition），0 表示关闭
	BalanceRefreshInterval time.Duration
	// Breaker 可选的断路器
	Breaker *risk.CircuitBreaker
	// QueueSize 命令通道容量
	QueueSize int
}

// EngineCommand 命令
type EngineCommand interface {
	CommandType() EngineCommandType
}

// EngineCommandType 命令类型
type EngineCommandType string

const (
	CmdTrade         EngineCommandType = "trade"
	CmdRefresh       EngineCommandType = "refresh"
	CmdQueryState    EngineCommandType = "query_state"
	CmdLifecycleDone EngineCommandType = "lifecycle_done"
)

type tradeCommand struct {
	side     domain.Side
	accepted chan error
	result   chan TradeResult
}

func (*tradeCommand) CommandType() EngineCommandType { return CmdTrade }

type refreshCommand struct {
	reply chan error
}

func (*refreshCommand) CommandType() EngineCommandType { return CmdRefresh }

type queryStateCommand struct {
	reply chan Snapshot
}

func (*queryStateCommand) CommandType() EngineCommandType { return CmdQueryState }

type lifecycleDoneCommand struct {
	res       TradeResult
	reinforce bool
	traded    bool
	result    chan TradeResult
}

func (*lifecycleDoneCommand) CommandType() EngineCommandType { return CmdLifecycleDone }

// Engine 单个交易对的 actor：一个 goroutine 处理全部命令，
// 订单生命周期在独立 goroutine 中运行，同一时间最多一个（busy 只在循环内读写）。
type Engine struct {
	coord   *Coordinator
	cfg     EngineConfig
	breaker *risk.CircuitBreaker
	pairKey string

	cmdChan chan EngineCommand
	stopped chan struct{}
	wg      sync.WaitGroup
	ctx     context.Context

	// 以下字段只在 Run 的 goroutine 中访问
	busy        bool
	stopping    bool // ctx 已结束，等待在途生命周期交回结果
	lastOutcome *Outcome
	lastError   string
	lastRefresh time.Time
}

// NewEngine 创建 Engine
func NewEngine(coord *Coordinator, cfg EngineConfig) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Engine{
		coord:   coord,
		cfg:     cfg,
		breaker: cfg.Breaker,
		pairKey: coord.Pair().String(),
		cmdChan: make(chan EngineCommand, cfg.QueueSize),
		stopped: make(chan struct{}),
		ctx:     context.Background(),
	}
}

// Coordinator 底层协调器
func (e *Engine) Coordinator() *Coordinator { return e.coord }

// Run 运行命令循环直到 ctx 结束。已开始的生命周期不会被打断：
// ctx 结束后循环继续运行（拒绝新信号），直到在途生命周期的结果交给调用方才返回。
func (e *Engine) Run(ctx context.Context) {
	e.ctx = ctx
	defer close(e.stopped)

	var tick <-chan time.Time
	if e.cfg.BalanceRefreshInterval > 0 {
		t := time.NewTicker(e.cfg.BalanceRefreshInterval)
		defer t.Stop()
		tick = t.C
	}

	engineLog.WithField("pair", e.pairKey).Info("Engine 启动")
	ctxDone := ctx.Done()
	for {
		select {
		case cmd := <-e.cmdChan:
			e.handleCommand(cmd)
			if e.stopping && !e.busy {
				engineLog.WithField("pair", e.pairKey).Info("Engine 停止")
				return
			}
		case <-tick:
			if err := e.refreshAndReinforce(); err != nil {
				engineLog.WithField("pair", e.pairKey).Warnf("周期余额刷新失败: %v", err)
			}
		case <-ctxDone:
			if !e.busy {
				engineLog.WithField("pair", e.pairKey).Info("Engine 停止")
				return
			}
			e.stopping = true
			ctxDone, tick = nil, nil
			engineLog.WithField("pair", e.pairKey).Info("Engine 停止中，等待在途订单生命周期结束")
		}
	}
}

// Wait 等待在途的生命周期结束
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) handleCommand(cmd EngineCommand) {
	defer func() {
		if r := recover(); r != nil {
			metrics.EnginePanics.Add(1)
			engineLog.Errorf("处理命令 panic: %s %v", cmd.CommandType(), r)
		}
	}()

	switch c := cmd.(type) {
	case *tradeCommand:
		c.accepted <- e.startLifecycle(c.side, false, c.result)
	case *refreshCommand:
		if e.stopping {
			c.reply <- ErrEngineStopped
			return
		}
		c.reply <- e.refreshAndReinforce()
	case *queryStateCommand:
		c.reply <- e.snapshot()
	case *lifecycleDoneCommand:
		e.handleDone(c)
	}
}

// startLifecycle 检查断路器并置 busy，然后在新 goroutine 中运行生命周期
func (e *Engine) startLifecycle(side domain.Side, reinforce bool, result chan TradeResult) error {
	if e.stopping {
		return ErrEngineStopped
	}
	if err := e.breaker.AllowTrading(); err != nil {
		metrics.TradesRejected.Add(1)
		return err
	}
	if e.busy {
		metrics.TradesRejected.Add(1)
		return fmt.Errorf("%w: %s", ErrLifecycleInFlight, e.pairKey)
	}
	e.busy = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		done := &lifecycleDoneCommand{reinforce: reinforce, traded: true, result: result}
		func() {
			defer func() {
				if r := recover(); r != nil {
					metrics.EnginePanics.Add(1)
					done.res.Err = fmt.Errorf("lifecycle panic: %v", r)
					engineLog.Errorf("生命周期 panic: %v", r)
				}
			}()
			if reinforce {
				done.res.Outcome, done.traded, done.res.Err = e.coord.ReinforcePosition(e.ctx)
			} else {
				done.res.Outcome, done.res.Err = e.coord.Trade(e.ctx, side)
			}
		}()
		// 结果在循环里清除 busy 之后再交给调用方，调用方收到结果时即可提交下一个信号。
		// busy 期间循环不会退出，所以 done 总会被处理；循环从未启动时直接交付。
		if !e.send(done) && result != nil {
			result <- done.res
		}
	}()
	return nil
}

func (e *Engine) handleDone(c *lifecycleDoneCommand) {
	e.busy = false
	if c.result != nil {
		defer func() { c.result <- c.res }()
	}
	if !c.traded {
		return
	}
	if c.res.Err != nil {
		e.lastError = c.res.Err.Error()
		if errors.Is(c.res.Err, domain.ErrExchangeUnavailable) {
			e.breaker.OnError()
		}
		engineLog.WithField("pair", e.pairKey).Errorf("交易失败: %v", c.res.Err)
		return
	}
	out := c.res.Outcome
	e.lastOutcome = &out
	e.lastError = ""
	e.breaker.OnSuccess()
}

// refreshAndReinforce 带外刷新余额；上一次动作是 BUY 且空闲时触发加仓
func (e *Engine) refreshAndReinforce() error {
	ev, err := e.coord.RefreshBalances(e.ctx)
	if err != nil {
		e.breaker.OnError()
		return err
	}
	e.breaker.OnSuccess()
	e.lastRefresh = ev.Timestamp

	if e.busy || e.coord.TradeContext().LastAction != domain.SideBuy {
		return nil
	}
	if err := e.startLifecycle(domain.SideBuy, true, nil); err != nil {
		engineLog.WithField("pair", e.pairKey).Debugf("跳过加仓: %v", err)
	}
	return nil
}

func (e *Engine) snapshot() Snapshot {
	return Snapshot{
		StateView:         e.coord.State(),
		Busy:              e.busy,
		Halted:            e.breaker.Halted(),
		ConsecutiveErrors: e.breaker.ConsecutiveErrors(),
		LastOutcome:       e.lastOutcome,
		LastError:         e.lastError,
		LastRefresh:       e.lastRefresh,
	}
}

func (e *Engine) send(cmd EngineCommand) bool {
	select {
	case e.cmdChan <- cmd:
		return true
	case <-e.stopped:
		return false
	}
}

// submit 把命令交给循环；ctx 取消或 Engine 停止时返回错误
func (e *Engine) submit(ctx context.Context, cmd EngineCommand) error {
	select {
	case e.cmdChan <- cmd:
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit 提交交易信号并立即返回。被接受时返回结果通道（生命周期结束后收到一条结果）；
// 已有生命周期在运行时返回 ErrLifecycleInFlight，断路器打开时返回 risk.ErrCircuitBreakerOpen。
func (e *Engine) Submit(ctx context.Context, side domain.Side) (<-chan TradeResult, error) {
	cmd := &tradeCommand{
		side:     side,
		accepted: make(chan error, 1),
		result:   make(chan TradeResult, 1),
	}
	if err := e.submit(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case err := <-cmd.accepted:
		if err != nil {
			return nil, err
		}
		return cmd.result, nil
	case <-e.stopped:
		return nil, ErrEngineStopped
	}
}

// Trade 提交交易信号并等待生命周期结束。
// ctx 取消只会让调用方停止等待，已开始的生命周期仍会完成。
func (e *Engine) Trade(ctx context.Context, side domain.Side) (Outcome, error) {
	ch, err := e.Submit(ctx, side)
	if err != nil {
		return Outcome{}, err
	}
	select {
	case res := <-ch:
		return res.Outcome, res.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Refresh 立即执行一次带外余额刷新（及可能的加仓）
func (e *Engine) Refresh(ctx context.Context) error {
	cmd := &refreshCommand{reply: make(chan error, 1)}
	if err := e.submit(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-e.stopped:
		return ErrEngineStopped
	}
}

// State 查询只读状态
func (e *Engine) State(ctx context.Context) (Snapshot, error) {
	cmd := &queryStateCommand{reply: make(chan Snapshot, 1)}
	if err := e.submit(ctx, cmd); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-cmd.reply:
		return s, nil
	case <-e.stopped:
		return Snapshot{}, ErrEngineStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
