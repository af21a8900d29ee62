package persist

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options 刷写节奏与批量
type Options struct {
	BatchSize       int
	Interval        time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          *zap.SugaredLogger
}

func (o Options) normalized() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 25
	}
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 2 * time.Second
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Stats 刷写统计
type Stats struct {
	Pending int   `json:"pending"`
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Flushes int64 `json:"flushes"`
}

// Outbox 脏集合 + 批量异步刷写，与 Tick 循环解耦。
// Tick 暂存记录的值副本，刷写时不再回读世界状态。
// 标识只有在写入成功后才会被清除（至少一次，后写覆盖）。
type Outbox struct {
	store Store
	opts  Options
	log   *zap.SugaredLogger
	now   func() time.Time

	mu    sync.Mutex
	dirty map[string]staged
	gen   uint64

	flushMu sync.Mutex

	written atomic.Int64
	failed  atomic.Int64
	flushes atomic.Int64
}

// staged 待写记录及其标记代数
type staged struct {
	gen uint64
	rec Record
}

func NewOutbox(store Store, opts Options) *Outbox {
	opts = opts.normalized()
	return &Outbox{
		store: store,
		opts:  opts,
		log:   opts.Logger,
		now:   time.Now,
		dirty: make(map[string]staged),
	}
}

// Stage 暂存最新状态；同一标识后到的记录覆盖先到的
func (o *Outbox) Stage(recs ...Record) {
	if len(recs) == 0 {
		return
	}
	o.mu.Lock()
	for _, rec := range recs {
		o.gen++
		o.dirty[rec.PlayerID] = staged{gen: o.gen, rec: rec}
	}
	o.mu.Unlock()
}

// Forget 不再需要写入该标识
func (o *Outbox) Forget(id string) {
	o.mu.Lock()
	delete(o.dirty, id)
	o.mu.Unlock()
}

// Pending 当前脏标识数量
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.dirty)
}

func (o *Outbox) Stats() Stats {
	return Stats{
		Pending: o.Pending(),
		Written: o.written.Load(),
		Failed:  o.failed.Load(),
		Flushes: o.flushes.Load(),
	}
}

// clear 只有在写入期间未被重新标记时才清除
func (o *Outbox) clear(id string, gen uint64) {
	o.mu.Lock()
	if cur, ok := o.dirty[id]; ok && cur.gen == gen {
		delete(o.dirty, id)
	}
	o.mu.Unlock()
}

// pending 按标识排序的待写副本
func (o *Outbox) pending() []staged {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]staged, 0, len(o.dirty))
	for _, st := range o.dirty {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b staged) int { return strings.Compare(a.rec.PlayerID, b.rec.PlayerID) })
	return out
}

// Flush 分批写出全部脏标识；批内并发写，批间串行。
// 返回本轮所有失败的合并错误。
func (o *Outbox) Flush(ctx context.Context) error {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()
	o.flushes.Add(1)

	all := o.pending()
	var errs error
	for start := 0; start < len(all); start += o.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		end := min(start+o.opts.BatchSize, len(all))
		errs = multierr.Append(errs, o.writeBatch(ctx, all[start:end]))
	}
	return errs
}

func (o *Outbox) writeBatch(ctx context.Context, batch []staged) error {
	errs := make([]error, len(batch))
	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := batch[i]
			if err := o.write(ctx, st.rec); err != nil {
				errs[i] = err
				return
			}
			o.clear(st.rec.PlayerID, st.gen)
		}(i)
	}
	wg.Wait()
	return multierr.Combine(errs...)
}

func (o *Outbox) write(ctx context.Context, rec Record) error {
	wctx, cancel := context.WithTimeout(ctx, o.opts.WriteTimeout)
	defer cancel()
	rec.UpdatedAt = o.now()
	if err := o.store.Upsert(wctx, rec); err != nil {
		o.failed.Add(1)
		o.log.Warnw("upsert failed, will retry", "player", rec.PlayerID, "error", err)
		return err
	}
	o.written.Add(1)
	return nil
}

// FlushRecord 断线路径：尽力同步写出单个玩家。
// 失败时若没有更新的暂存记录，则留给下一轮刷写重试
func (o *Outbox) FlushRecord(ctx context.Context, rec Record) error {
	o.Forget(rec.PlayerID)
	err := o.write(ctx, rec)
	if err != nil {
		o.mu.Lock()
		if _, ok := o.dirty[rec.PlayerID]; !ok {
			o.gen++
			o.dirty[rec.PlayerID] = staged{gen: o.gen, rec: rec}
		}
		o.mu.Unlock()
	}
	return err
}

// Run 按固定节奏刷写，直到 ctx 结束；退出前在限定时间内做最后一次刷写
func (o *Outbox) Run(ctx context.Context) {
	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.finalFlush()
			return
		case <-ticker.C:
			if err := o.Flush(ctx); err != nil {
				o.log.Warnf("flush: %d failures, pending=%d", len(multierr.Errors(err)), o.Pending())
			}
		}
	}
}

func (o *Outbox) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.ShutdownTimeout)
	defer cancel()
	if err := o.Flush(ctx); err != nil {
		o.log.Errorf("final flush incomplete: pending=%d err=%v", o.Pending(), err)
		return
	}
	o.log.Infof("final flush done")
}
