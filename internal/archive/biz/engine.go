package biz

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/lk2023060901/glacier-archiver/internal/archive/lockkey"
	apperrors "github.com/lk2023060901/glacier-archiver/internal/pkg/errors"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/lock"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/workerpool"
	"go.uber.org/zap"
)

// task 一个文件(或一个归档目录)的处理单元
type task struct {
	op     lockkey.Op
	target lockkey.Target
	label  string
	// staged 为 true 时 run 自行分阶段加锁
	staged bool
	// run 在持有锁时执行, 成功结果由 run 自己上报
	run func(ctx context.Context) error
	// fail 上报 run 未能上报的失败: 锁超时、panic、取消
	fail func(err error)
}

// newRun tags ctx with a fresh run id for one batch or sweep.
func newRun(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return logger.WithRunID(ctx, id), id
}

// dispatch 在 worker pool 上并行执行任务并等待全部结束
func (a *Archiver) dispatch(ctx context.Context, tasks []task) {
	if len(tasks) == 0 {
		return
	}
	fns := make([]func(ctx context.Context), len(tasks))
	for i := range tasks {
		t := tasks[i]
		fns[i] = func(ctx context.Context) { a.execute(ctx, t) }
	}
	for _, i := range a.pool.Run(ctx, fns) {
		cause := ctx.Err()
		if cause == nil {
			cause = workerpool.ErrPoolClosed
		}
		tasks[i].fail(apperrors.Wrap(cause, apperrors.ErrCanceled, tasks[i].label))
	}
}

// execute runs one task under its lock names. Nothing escapes: errors and panics become a
// failure report for the task.
func (a *Archiver) execute(ctx context.Context, t task) {
	log := a.logger.WithContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked",
				zap.String("op", t.op.String()),
				zap.String("task", t.label),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			t.fail(apperrors.New(apperrors.ErrTaskPanic, fmt.Sprintf("%s: %v", t.label, r)))
		}
	}()

	run := func(ctx context.Context) error { return a.withLocks(ctx, t.op, t.target, t.run) }
	if t.staged {
		run = t.run
	}
	if err := run(ctx); err != nil {
		err = classify(err)
		log.Warn("task failed", zap.String("op", t.op.String()), zap.String("task", t.label), zap.Error(err))
		t.fail(err)
	}
}

// withLocks runs fn holding the lock names op needs on target, outermost first.
func (a *Archiver) withLocks(ctx context.Context, op lockkey.Op, target lockkey.Target, fn func(ctx context.Context) error) error {
	target.Root = a.cfg.RootPath
	names, err := lockkey.For(op, target)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInvalidParams)
	}
	return a.locks.RunWithLocks(ctx, names, fn)
}

// classify turns any error into an AppError, keeping the code of one already classified.
func classify(err error) error {
	var appErr *apperrors.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, lock.ErrLockTimeout):
		return apperrors.Wrap(err, apperrors.ErrLockTimeout)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.ErrCanceled)
	default:
		return apperrors.Wrap(err, apperrors.ErrInternal)
	}
}

func fileSize(p string) (int64, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
