package server

import "time"

// StartTicker 启动房间的 Tick 循环（单线程推进世界）
func (r *Room) StartTicker(interval time.Duration) {
	if r.tickerStarted {
		return
	}
	r.tickerStarted = true
	go r.run(interval)
}

func (r *Room) run(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			// 核心循环：处理输入 → 更新世界 → 广播结果
			r.Tick()
		}
	}
}

// Stop 停止 Tick 循环；进行中的 Tick 会先完成
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
	if r.tickerStarted {
		<-r.done
	}
}
