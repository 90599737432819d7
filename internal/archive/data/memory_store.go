package data

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/biz"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
)

// 操作名, 用于调用计数和错误注入
const (
	OpPut     = "put"
	OpGet     = "get"
	OpDelete  = "delete"
	OpStatus  = "status"
	OpRestore = "restore"
)

// MemoryOptions 内存存储的行为参数
type MemoryOptions struct {
	Archived     bool          // 新对象进入归档层, 读取前需要恢复
	RestorePolls int           // 发起恢复后, Status 返回 RESTORE_PENDING 的次数
	RestoreTTL   time.Duration // 恢复副本有效期, 0 表示一天
}

type memObject struct {
	data        []byte
	archived    bool
	restoring   bool
	pendingLeft int
	expiresAt   time.Time
}

// MemoryStore 内存冷存储, 模拟归档层的恢复流程, 供单机部署和测试使用
type MemoryStore struct {
	mu      sync.Mutex
	opts    MemoryOptions
	objects map[string]*memObject
	calls   map[string]int
	errs    map[string]error
	now     func() time.Time
}

var _ biz.ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	if opts.RestoreTTL <= 0 {
		opts.RestoreTTL = 24 * time.Hour
	}
	return &MemoryStore{
		opts:    opts,
		objects: make(map[string]*memObject),
		calls:   make(map[string]int),
		errs:    make(map[string]error),
		now:     time.Now,
	}
}

// SetClock 替换时钟
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailWith 让后续的 op 调用返回 err, err 为 nil 时恢复正常
func (s *MemoryStore) FailWith(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, op)
		return
	}
	s.errs[op] = err
}

// Calls 返回 op 的调用次数, 不传参数时返回全部调用次数之和
func (s *MemoryStore) Calls(ops ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ops) == 0 {
		total := 0
		for _, n := range s.calls {
			total += n
		}
		return total
	}
	total := 0
	for _, op := range ops {
		total += s.calls[op]
	}
	return total
}

// ResetCalls 清空调用计数
func (s *MemoryStore) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

// Seed 直接写入对象, 不计入调用次数
func (s *MemoryStore) Seed(key string, data []byte, archived bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &memObject{data: bytes.Clone(data), archived: archived}
}

// Object 返回对象内容
func (s *MemoryStore) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(o.data), true
}

// Keys 返回排序后的全部键
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *MemoryStore) enter(op string) error {
	s.calls[op]++
	return s.errs[op]
}

func (s *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, sum string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read payload for %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpPut); err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("size mismatch for %s: declared %d, got %d", key, size, len(data))
	}
	if sum != "" {
		d := md5.Sum(data)
		if got := hex.EncodeToString(d[:]); got != sum {
			return fmt.Errorf("bad digest for %s: declared %s, got %s", key, sum, got)
		}
	}
	s.objects[key] = &memObject{data: data, archived: s.opts.Archived}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGet); err != nil {
		return nil, err
	}
	o, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", biz.ErrNotFound, key)
	}
	if s.status(o).Status != types.StatusAvailable {
		return nil, fmt.Errorf("%w: %s must be restored before reading", biz.ErrInvalidObjectState, key)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(o.data))), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDelete); err != nil {
		return err
	}
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) Status(ctx context.Context, key string) (types.ObjectStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpStatus); err != nil {
		return types.ObjectStatus{}, err
	}
	o, ok := s.objects[key]
	if !ok {
		return types.ObjectStatus{}, fmt.Errorf("%w: %s", biz.ErrNotFound, key)
	}
	st := s.status(o)
	if st.Status == types.StatusRestorePending {
		o.pendingLeft--
		if o.pendingLeft <= 0 {
			o.restoring = false
		}
	}
	return st, nil
}

func (s *MemoryStore) Restore(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpRestore); err != nil {
		return err
	}
	o, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("%w: %s", biz.ErrNotFound, key)
	}
	if !o.archived {
		return fmt.Errorf("%w: %s", biz.ErrInvalidObjectState, key)
	}
	if o.restoring {
		return fmt.Errorf("%w: %s", biz.ErrRestoreInProgress, key)
	}
	o.restoring = s.opts.RestorePolls > 0
	o.pendingLeft = s.opts.RestorePolls
	o.expiresAt = s.now().Add(s.opts.RestoreTTL)
	return nil
}

// status must be called with mu held.
func (s *MemoryStore) status(o *memObject) types.ObjectStatus {
	class := "STANDARD"
	if o.archived {
		class = "GLACIER"
	}
	r := restoreState{}
	if !o.expiresAt.IsZero() {
		r = restoreState{present: true, ongoing: o.restoring, expiry: o.expiresAt}
	}
	return objectStatus(class, int64(len(o.data)), r, s.now())
}
