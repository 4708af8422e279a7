package models

import "errors"

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// ErrVersionConflict 乐观写入时版本已变化
var ErrVersionConflict = errors.New("version conflict")

// ErrDuplicate 唯一约束冲突
var ErrDuplicate = errors.New("duplicate")
