package biz

import "errors"

// 对象存储相关错误, ObjectStore 实现需返回(或包装)这些哨兵错误
var (
	ErrNotFound           = errors.New("object not found")
	ErrInvalidObjectState = errors.New("object is not in an archive storage class")
	ErrRestoreInProgress  = errors.New("object restore already in progress")
)

// 请求相关错误
var (
	ErrInvalidLocation = errors.New("invalid storage location")
	ErrMissingOrigin   = errors.New("file origin is required")
)
