package game

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/target-gallery/internal/config"
	"github.com/wfunc/target-gallery/internal/errors"
)

const (
	inboxSize     = 1024
	countdownStep = time.Second
	recordTimeout = 5 * time.Second
)

// 会话命令，全部在会话goroutine中按到达顺序逐个处理
type command interface{}

type connectCmd struct{ playerID string }

type joinCmd struct {
	playerID string
	username string
}

type readyCmd struct{ playerID string }

type restartCmd struct{ playerID string }

type shotCmd struct{ playerID string }

type hitCmd struct {
	playerID string
	report   HitReport
}

type disconnectCmd struct{ playerID string }

type countdownTickCmd struct{ epoch uint64 }

type deadlineCmd struct{ key TurnKey }

type resultsElapsedCmd struct{ epoch uint64 }

type settingsCmd struct{ cfg config.GameConfig }

type snapshotCmd struct{ reply chan Snapshot }

// Session 射击对局会话
//
// 所有状态只在Run所在的goroutine中修改；公开方法只负责投递命令，定时器回调也只投递命令。
type Session struct {
	cfg     config.GameConfig
	pending *config.GameConfig
	logger  *zap.Logger

	sched       Scheduler
	broadcaster Broadcaster
	recorder    MatchRecorder

	sm       *StateMachine
	roster   *Roster
	sim      *Simulator
	turns    *TurnScheduler
	resolver *HitResolver

	// 每次阶段转换加一，倒计时与结算定时器携带它
	epoch          uint64
	countdownValue int
	countdownTimer Timer
	resultsTimer   Timer

	matchID   string
	startedAt time.Time
	// 本局参赛者及最后得分，离开的玩家也保留
	participants []MatchPlayer

	inbox     chan command
	done      chan struct{}
	recording sync.WaitGroup
}

// NewSession 创建会话；sched为nil时使用真实时间，rng为nil时按当前时间播种
func NewSession(cfg config.GameConfig, broadcaster Broadcaster, sched Scheduler, rng *rand.Rand, logger *zap.Logger) *Session {
	if sched == nil {
		sched = NewRealScheduler()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	s := &Session{
		cfg:         cfg,
		logger:      logger,
		sched:       sched,
		broadcaster: broadcaster,
		sm:          NewStateMachine(logger),
		roster:      NewRoster(),
		inbox:       make(chan command, inboxSize),
		done:        make(chan struct{}),
	}

	s.sm.OnStateChange(func(from, to GameState, event string) {
		s.epoch++
	})
	s.sim = NewSimulator(cfg, rng, func() bool { return s.sm.Is(StatePlaying) }, logger)
	s.turns = NewTurnScheduler(cfg, sched, func(key TurnKey) {
		s.post(deadlineCmd{key: key})
	}, logger)
	s.resolver = NewHitResolver(cfg, s.sim, s.roster, logger)

	return s
}

// SetRecorder 设置对局记录器，需在Run之前调用
func (s *Session) SetRecorder(recorder MatchRecorder) {
	s.recorder = recorder
}

// Run 运行会话主循环，直到ctx取消
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)

	interval := s.cfg.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("会话已启动",
		zap.Int("tick_rate", s.cfg.TickRate),
		zap.Int("max_targets", s.cfg.MaxTargets))

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return

		case cmd := <-s.inbox:
			s.handle(cmd)

		case <-ticker.C:
			s.tick(interval.Seconds())
		}

		// 配置替换后调整模拟帧率
		if next := s.cfg.TickInterval(); next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

// Done 会话主循环退出后关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Connect 新连接建立，单播当前快照
func (s *Session) Connect(playerID string) { s.post(connectCmd{playerID: playerID}) }

// Join 加入对局
func (s *Session) Join(playerID, username string) {
	s.post(joinCmd{playerID: playerID, username: username})
}

// Ready 玩家准备
func (s *Session) Ready(playerID string) { s.post(readyCmd{playerID: playerID}) }

// RequestRestart 请求重开
func (s *Session) RequestRestart(playerID string) { s.post(restartCmd{playerID: playerID}) }

// ShotFired 玩家开枪
func (s *Session) ShotFired(playerID string) { s.post(shotCmd{playerID: playerID}) }

// ProjectileHit 玩家上报命中
func (s *Session) ProjectileHit(playerID string, report HitReport) {
	s.post(hitCmd{playerID: playerID, report: report})
}

// Disconnect 连接断开，立即移除玩家
func (s *Session) Disconnect(playerID string) { s.post(disconnectCmd{playerID: playerID}) }

// ApplySettings 替换对局配置，会话处于WAITING时立即生效，否则等下一次回到WAITING
func (s *Session) ApplySettings(cfg config.GameConfig) { s.post(settingsCmd{cfg: cfg}) }

// Snapshot 查询当前状态快照
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case s.inbox <- snapshotCmd{reply: reply}:
	case <-s.done:
		return Snapshot{}, errors.New(errors.ErrCanceled, "会话已停止")
	case <-ctx.Done():
		return Snapshot{}, errors.Wrap(ctx.Err(), errors.ErrTimeout)
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-s.done:
		return Snapshot{}, errors.New(errors.ErrCanceled, "会话已停止")
	case <-ctx.Done():
		return Snapshot{}, errors.Wrap(ctx.Err(), errors.ErrTimeout)
	}
}

// post 投递命令
func (s *Session) post(cmd command) {
	select {
	case s.inbox <- cmd:
	case <-s.done:
	}
}

// handle 处理单个命令
func (s *Session) handle(cmd command) {
	switch c := cmd.(type) {
	case connectCmd:
		s.sendSnapshot(c.playerID)

	case joinCmd:
		if err := s.join(c.playerID, c.username); err != nil {
			s.sendError(c.playerID, err)
		}

	case readyCmd:
		if err := s.markReady(c.playerID); err != nil {
			s.reply(c.playerID, err)
		}

	case restartCmd:
		if err := s.restart(c.playerID); err != nil {
			s.sendError(c.playerID, err)
		}

	case shotCmd:
		if err := s.shotFired(c.playerID); err != nil {
			s.sendFeedback(c.playerID, err)
		}

	case hitCmd:
		if err := s.projectileHit(c.playerID, c.report); err != nil {
			s.sendFeedback(c.playerID, err)
		}

	case disconnectCmd:
		s.disconnect(c.playerID)

	case countdownTickCmd:
		s.countdownTick(c.epoch)

	case deadlineCmd:
		s.turnDeadline(c.key)

	case resultsElapsedCmd:
		s.resultsElapsed(c.epoch)

	case settingsCmd:
		s.applySettings(c.cfg)

	case snapshotCmd:
		c.reply <- Snapshot{State: s.buildGameState(), Targets: s.buildTargets()}

	default:
		s.logger.Warn("未知的会话命令", zap.Any("command", cmd))
	}
}

// join 加入对局：WAITING/ENDED阶段进入大厅，倒计时或对局中加入的玩家观战
func (s *Session) join(playerID, username string) error {
	name, err := NormalizeUsername(username)
	if err != nil {
		return err
	}

	status := StatusWaiting
	if s.sm.Is(StateCountdown) || s.sm.Is(StatePlaying) {
		status = StatusSpectating
	}
	if _, err := s.roster.Add(playerID, name, status, s.sched.Now()); err != nil {
		return err
	}

	s.logger.Info("玩家加入",
		zap.String("player_id", playerID),
		zap.String("username", name),
		zap.String("status", string(status)))

	s.broadcastState()
	return nil
}

// markReady 玩家准备，大厅全员准备后进入倒计时
func (s *Session) markReady(playerID string) error {
	p, ok := s.roster.Get(playerID)
	if !ok {
		return errors.New(errors.ErrPlayerNotFound, playerID)
	}
	if p.Status != StatusWaiting {
		return errors.New(errors.ErrNotWaiting, string(p.Status))
	}

	p.Status = StatusReady
	s.logger.Debug("玩家准备", zap.String("player_id", playerID))

	s.broadcastState()
	s.maybeStartCountdown()
	return nil
}

// maybeStartCountdown 大厅非空且全员准备时开始倒计时
func (s *Session) maybeStartCountdown() {
	if !s.sm.CanTransition(EventAllReady) || !s.roster.AllReady() {
		return
	}
	if err := s.trigger(EventAllReady); err != nil {
		return
	}

	s.countdownValue = s.cfg.CountdownSeconds
	s.broadcastState()
	s.armCountdown()
}

// armCountdown 布置下一次倒计时
func (s *Session) armCountdown() {
	epoch := s.epoch
	s.countdownTimer = s.sched.AfterFunc(countdownStep, func() {
		s.post(countdownTickCmd{epoch: epoch})
	})
}

// countdownTick 倒计时减一，到0时开局
func (s *Session) countdownTick(epoch uint64) {
	if !s.sm.Is(StateCountdown) || epoch != s.epoch {
		s.logger.Debug("忽略过期的倒计时", zap.Uint64("epoch", epoch), zap.Uint64("current", s.epoch))
		return
	}

	s.countdownTimer = nil
	s.countdownValue--
	s.broadcastState()

	if s.countdownValue > 0 {
		s.armCountdown()
		return
	}
	s.startPlaying()
}

// startPlaying 大厅玩家按原顺序成为回合顺序
func (s *Session) startPlaying() {
	if s.roster.LobbyLen() == 0 {
		s.abortCountdown()
		return
	}
	if err := s.trigger(EventCountdownDone); err != nil {
		return
	}

	order := s.roster.TakeLobby()
	s.roster.SetStatus(order, StatusPlaying)
	s.participants = s.participants[:0]
	for _, id := range order {
		if p, ok := s.roster.Get(id); ok {
			s.participants = append(s.participants, MatchPlayer{PlayerID: p.ID, Username: p.Username, Score: p.Score})
		}
	}
	s.countdownValue = 0
	s.turns.Start(order, s.epoch)

	s.sim.Clear()
	spawned := s.sim.Seed()

	s.matchID = uuid.NewString()
	s.startedAt = s.sched.Now()

	s.logger.Info("对局开始",
		zap.String("match_id", s.matchID),
		zap.Strings("turn_order", order),
		zap.Int("targets", spawned))

	s.broadcastTargets()
	s.broadcastState()
}

// abortCountdown 倒计时期间大厅清空，回到WAITING
func (s *Session) abortCountdown() {
	if err := s.trigger(EventLobbyEmpty); err != nil {
		return
	}

	stopTimer(s.countdownTimer)
	s.countdownTimer = nil
	s.countdownValue = 0
	s.roster.ReturnToLobby(nil)
	s.roster.UnreadyLobby()
	s.applyPending()

	s.logger.Info("大厅已空，倒计时中止")
	s.broadcastState()
}

// shotFired 消耗当前玩家一次射击
func (s *Session) shotFired(playerID string) error {
	if !s.sm.Is(StatePlaying) {
		return errors.New(errors.ErrNotYourTurn, "对局未进行")
	}

	result, err := s.turns.ConsumeShot(playerID)
	if err != nil {
		return err
	}
	s.afterTurn(result)
	return nil
}

// projectileHit 结算命中；未命中返回ErrTargetNotFound，由调用方反馈给玩家
func (s *Session) projectileHit(playerID string, report HitReport) error {
	if !s.sm.Is(StatePlaying) {
		s.logger.Debug("对局未进行，忽略命中", zap.String("player_id", playerID))
		return nil
	}

	result, err := s.resolver.Resolve(playerID, report)
	if err != nil {
		if errors.Is(err, errors.ErrPlayerNotFound) {
			s.logger.Debug("未加入的连接的命中被忽略", zap.String("player_id", playerID))
			return nil
		}
		s.logger.Debug("命中无效",
			zap.String("player_id", playerID),
			zap.String("target_id", report.TargetID),
			zap.Error(err))
		return err
	}

	s.logger.Info("命中",
		zap.String("player_id", playerID),
		zap.String("target_id", result.TargetID),
		zap.Int("points", result.Points),
		zap.Int("score", result.Score))

	if p, ok := s.roster.Get(playerID); ok {
		s.noteScore(p)
	}

	s.broadcastTargets()
	s.broadcaster.SendTo(playerID, MsgHitFeedback, HitFeedback{Points: result.Points, TargetID: result.TargetID})
	s.broadcastState()
	return nil
}

// turnDeadline 回合超时，过期的key直接忽略
func (s *Session) turnDeadline(key TurnKey) {
	if !s.sm.Is(StatePlaying) || key.Epoch != s.epoch {
		s.logger.Debug("忽略过期的回合超时", zap.Uint64("epoch", key.Epoch))
		return
	}

	result, ok := s.turns.OnDeadline(key)
	if !ok {
		s.logger.Debug("忽略过期的回合超时", zap.Uint64("serial", key.Serial))
		return
	}

	s.logger.Info("回合超时", zap.String("player_id", result.PreviousPlayer))
	s.sendFeedback(result.PreviousPlayer, errors.New(errors.ErrTurnTimedOut))
	s.afterTurn(result)
}

// afterTurn 回合操作之后广播或结束对局
func (s *Session) afterTurn(result TurnResult) {
	if result.Outcome == TurnSessionOver {
		s.endGame()
		return
	}
	s.broadcastState()
}

// endGame 进入ENDED：取消定时器、清空靶子、参赛玩家回到大厅
func (s *Session) endGame() {
	reason := EndReasonCompleted
	if !s.turns.Active() {
		reason = EndReasonAbandoned
	}
	summary := s.summarize(reason)
	order := s.turns.Order()

	if err := s.trigger(EventGameOver); err != nil {
		return
	}

	s.turns.Stop()
	s.sim.Clear()
	s.roster.ReturnToLobby(order)

	s.logger.Info("对局结束",
		zap.String("match_id", s.matchID),
		zap.String("reason", reason),
		zap.Int("players", len(summary.Players)))

	s.broadcastTargets()
	s.broadcastState()
	s.record(summary)

	if s.cfg.ResultsHold > 0 {
		epoch := s.epoch
		s.resultsTimer = s.sched.AfterFunc(s.cfg.ResultsHold, func() {
			s.post(resultsElapsedCmd{epoch: epoch})
		})
	}
}

// resultsElapsed 结算展示时间结束，重置回WAITING
func (s *Session) resultsElapsed(epoch uint64) {
	if !s.sm.Is(StateEnded) || epoch != s.epoch {
		return
	}
	s.resultsTimer = nil
	if err := s.trigger(EventResultsElapsed); err != nil {
		return
	}
	s.resetAll()
}

// restart 任意阶段、任意连接都可以强制重置
func (s *Session) restart(playerID string) error {
	if err := s.trigger(EventRestart); err != nil {
		return err
	}

	s.logger.Info("重置对局", zap.String("requested_by", playerID))
	s.resetAll()
	return nil
}

// resetAll 分数清零、所有玩家回到大厅、取消全部定时器
func (s *Session) resetAll() {
	stopTimer(s.countdownTimer)
	stopTimer(s.resultsTimer)
	s.countdownTimer = nil
	s.resultsTimer = nil
	s.countdownValue = 0

	s.turns.Stop()
	s.sim.Clear()
	s.participants = nil
	s.roster.ResetAll()
	s.applyPending()

	s.broadcastTargets()
	s.broadcastState()
}

// disconnect 连接断开：立即移除玩家并修正大厅或回合顺序
func (s *Session) disconnect(playerID string) {
	p, inLobby := s.roster.Remove(playerID)
	if p == nil {
		return
	}
	if s.sm.Is(StatePlaying) {
		s.noteScore(p)
	}

	s.logger.Info("玩家离开",
		zap.String("player_id", playerID),
		zap.String("username", p.Username),
		zap.String("status", string(p.Status)))

	switch s.sm.GetState() {
	case StatePlaying:
		result, inOrder := s.turns.RemovePlayer(playerID)
		if inOrder && result.Outcome == TurnSessionOver {
			s.endGame()
			return
		}

	case StateCountdown:
		if inLobby && s.roster.LobbyLen() == 0 {
			s.abortCountdown()
			return
		}

	case StateWaiting:
		s.broadcastState()
		s.maybeStartCountdown()
		return
	}

	s.broadcastState()
}

// applySettings 替换配置
func (s *Session) applySettings(cfg config.GameConfig) {
	if !s.sm.Is(StateWaiting) {
		s.pending = &cfg
		s.logger.Info("对局配置已排队，回到大厅后生效")
		return
	}
	s.apply(cfg)
	s.broadcastState()
}

// applyPending 应用排队中的配置
func (s *Session) applyPending() {
	if s.pending == nil {
		return
	}
	cfg := *s.pending
	s.pending = nil
	s.apply(cfg)
}

func (s *Session) apply(cfg config.GameConfig) {
	s.cfg = cfg
	s.sim.SetConfig(cfg)
	s.turns.SetConfig(cfg)
	s.resolver.SetConfig(cfg)
	s.logger.Info("对局配置已生效",
		zap.Int("shots_per_turn", cfg.ShotsPerTurn),
		zap.Int("major_turns_per_round", cfg.MajorTurnsPerRound),
		zap.Int("total_rounds", cfg.TotalRounds),
		zap.String("hit_validation", cfg.HitValidation))
}

// tick 模拟一帧：补充靶子并移动
func (s *Session) tick(dt float64) {
	if !s.sm.Is(StatePlaying) {
		return
	}
	if _, err := s.sim.TrySpawn(); err != nil {
		s.logger.Debug("本帧未能生成靶子", zap.Error(err))
	}
	if s.sim.Tick(dt) {
		s.broadcastTargets()
	}
}

// summarize 生成对局摘要，离开的参赛者保留离开时的得分
func (s *Session) summarize(reason string) *MatchSummary {
	round := s.turns.Round()
	if round > s.cfg.TotalRounds {
		round = s.cfg.TotalRounds
	}

	summary := &MatchSummary{
		MatchID:    s.matchID,
		StartedAt:  s.startedAt,
		EndedAt:    s.sched.Now(),
		Rounds:     round,
		MajorTurns: s.cfg.MajorTurnsPerRound,
		Reason:     reason,
	}
	for _, entry := range s.participants {
		if p, ok := s.roster.Get(entry.PlayerID); ok {
			entry.Score = p.Score
		}
		summary.Players = append(summary.Players, entry)
	}
	return summary
}

// noteScore 更新参赛记录中的得分，本局观战者得分后也计入
func (s *Session) noteScore(p *Player) {
	for i := range s.participants {
		if s.participants[i].PlayerID == p.ID {
			s.participants[i].Score = p.Score
			return
		}
	}
	s.participants = append(s.participants, MatchPlayer{PlayerID: p.ID, Username: p.Username, Score: p.Score})
}

// trigger 触发阶段转换，非法时记录当前阶段可用的事件
func (s *Session) trigger(event string) error {
	if !s.sm.CanTransition(event) {
		s.logger.Warn("非法的阶段转换",
			zap.String("state", string(s.sm.GetState())),
			zap.String("event", event),
			zap.Strings("valid_events", s.sm.GetValidEvents()))
	}
	return s.sm.Trigger(event)
}

// record 在独立goroutine中保存对局
func (s *Session) record(summary *MatchSummary) {
	if s.recorder == nil || len(summary.Players) == 0 {
		return
	}

	s.recording.Add(1)
	go func() {
		defer s.recording.Done()

		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		if err := s.recorder.RecordMatch(ctx, summary); err != nil {
			s.logger.Error("保存对局记录失败",
				zap.String("match_id", summary.MatchID),
				zap.Error(err))
		}
	}()
}

// shutdown 停止全部定时器并等待对局记录写完
func (s *Session) shutdown() {
	stopTimer(s.countdownTimer)
	stopTimer(s.resultsTimer)
	s.turns.Stop()
	s.recording.Wait()
	s.logger.Info("会话已停止")
}

func (s *Session) broadcastState() {
	s.broadcaster.Broadcast(MsgGameStateUpdate, s.buildGameState())
}

func (s *Session) broadcastTargets() {
	s.broadcaster.Broadcast(MsgTargetUpdate, s.buildTargets())
}

func (s *Session) sendSnapshot(playerID string) {
	s.broadcaster.SendTo(playerID, MsgGameStateUpdate, s.buildGameState())
	s.broadcaster.SendTo(playerID, MsgTargetUpdate, s.buildTargets())
}

// sendFeedback 以feedback消息单播玩家可见的提示
func (s *Session) sendFeedback(playerID string, err error) {
	s.broadcaster.SendTo(playerID, MsgFeedback, Feedback{Message: errors.Message(err)})
}

// sendError 以error消息单播请求被拒绝的原因
func (s *Session) sendError(playerID string, err error) {
	s.logger.Debug("请求被拒绝", zap.String("player_id", playerID), zap.Error(err))
	s.broadcaster.SendTo(playerID, MsgError, ErrorPayload{Error: errors.Message(err)})
}

// reply 未加入的连接收到error，其余情况收到feedback
func (s *Session) reply(playerID string, err error) {
	if errors.Is(err, errors.ErrPlayerNotFound) {
		s.sendError(playerID, err)
		return
	}
	s.sendFeedback(playerID, err)
}
