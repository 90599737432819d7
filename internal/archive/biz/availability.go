package biz

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	"github.com/lk2023060901/glacier-archiver/internal/archive/workspace"
	apperrors "github.com/lk2023060901/glacier-archiver/internal/pkg/errors"
)

// CheckAvailability 查询文件是否可直接读取, 只读且不加锁
//
// 仍在 building 目录或缓存中的小文件为 AVAILABLE; 否则返回冷存储中对象的恢复状态。
func (a *Archiver) CheckAvailability(ctx context.Context, location string) (types.Availability, error) {
	out := types.Availability{Location: location}
	loc, err := a.parseLocation(location)
	if err != nil {
		return out, apperrors.Wrap(err, apperrors.ErrInvalidParams)
	}

	if loc.Small() {
		dir, err := a.ws.FindBuildingDir(loc.Node, loc.Timestamp)
		if err != nil {
			return out, apperrors.Wrap(err, apperrors.ErrLocalIO)
		}
		if dir != nil {
			if real, err := workspace.RealPath(*dir); err == nil {
				if size, err := fileSize(filepath.Join(real, loc.Entry)); err == nil {
					out.Status, out.Available, out.Size, out.Local = types.StatusAvailable, true, size, !dir.Symlink
					return out, nil
				}
			}
		}
		extracted := filepath.Join(a.ws.CacheExtractDir(loc.Node, loc.Timestamp), loc.Entry)
		if size, err := fileSize(extracted); err == nil {
			out.Status, out.Available, out.Size = types.StatusAvailable, true, size
			return out, nil
		}
	}

	st, err := a.store.Status(ctx, loc.Key)
	if errors.Is(err, ErrNotFound) {
		return out, apperrors.Wrap(err, apperrors.ErrRemoteNotFound, loc.Key)
	}
	if err != nil {
		return out, apperrors.Wrap(err, apperrors.ErrStorageUnreachable, loc.Key)
	}
	out.Status = st.Status
	out.Available = st.Status == types.StatusAvailable
	out.Size = st.Size
	out.ExpiresAt = st.ExpiresAt
	return out, nil
}

// CheckAvailabilities 批量查询, 单个失败以 NOT_AVAILABLE 返回并附带错误
func (a *Archiver) CheckAvailabilities(ctx context.Context, locations []string) ([]types.Availability, []error) {
	out := make([]types.Availability, len(locations))
	errs := make([]error, len(locations))
	fns := make([]func(ctx context.Context), len(locations))
	for i, l := range locations {
		i, l := i, l
		fns[i] = func(ctx context.Context) {
			av, err := a.CheckAvailability(ctx, l)
			if err != nil {
				av.Status = types.StatusNotAvailable
			}
			out[i], errs[i] = av, err
		}
	}
	for _, i := range a.pool.Run(ctx, fns) {
		out[i] = types.Availability{Location: locations[i], Status: types.StatusNotAvailable}
		errs[i] = apperrors.New(apperrors.ErrCanceled, locations[i])
	}
	return out, errs
}
