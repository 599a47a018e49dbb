package game

import "time"

// Timer 可取消的定时器
type Timer interface {
	Stop() bool
}

// Scheduler 定时器调度器，会话内所有倒计时与回合超时都经由它创建
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

// realScheduler 基于标准库time的调度器
type realScheduler struct{}

// NewRealScheduler 创建真实时间调度器
func NewRealScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realScheduler) Now() time.Time {
	return time.Now()
}

// stopTimer 停止定时器，nil安全
func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
