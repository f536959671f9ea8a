package downloader

import (
	"fmt"
	"sync"
)

// FileStat 目标文件在准入判断时的状态
type FileStat struct {
	Exists bool
	Size   int64
}

type trackEntry struct {
	state    State
	size     int64 // 最近一次完成时的文件大小
	attempts int
	path     string // 分配给该请求的目标路径
}

// Candidate 一次准入去重判断的输入
type Candidate struct {
	ID           RequestID
	DeclaredSize int64
	Path         string // 按文件名确定的目标路径
	Stat         FileStat
	AltPath      string // Path 已被其他请求占用时改用的路径
	AltStat      FileStat
}

// Admission 准入去重判断的结果，Reason 为空表示准入
type Admission struct {
	Reason    Reason
	Path      string
	Resumable bool // 路径上已有的部分文件由同一请求写入
}

// Tracker 请求跟踪表（id -> 状态），是去重不变式的唯一依据
// 所有读写都在同一把锁内完成，外部不能拿到底层 map
type Tracker struct {
	mu      sync.Mutex
	entries map[RequestID]*trackEntry
	// 目标路径 -> 写入它的请求；失败后保留，部分文件只续传给原请求
	owners map[string]RequestID

	completed int64
	failed    int64
}

// NewTracker 创建跟踪表
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[RequestID]*trackEntry),
		owners:  make(map[string]RequestID),
	}
}

// decide 准入去重判断，是 (跟踪表条目, 目标文件状态) 的纯函数
// 返回空原因表示准入
func decide(entry *trackEntry, declaredSize int64, stat FileStat) Reason {
	if entry != nil {
		switch entry.state {
		case StateAdmitted, StateInProgress:
			return ReasonAlreadyInFlight
		case StateCompleted:
			if stat.Exists && stat.Size >= entry.size {
				return ReasonAlreadyDownloaded
			}
			// 文件被外部移动或截断，作为新一次尝试重新准入
			return ""
		}
		return ""
	}

	// 无记录但同名文件已存在且不小于声明大小
	if stat.Exists && declaredSize > 0 && stat.Size >= declaredSize {
		return ReasonAlreadyDownloaded
	}
	return ""
}

// choosePath 在锁内为请求选择目标路径
// 已分配过路径的请求沿用原路径；文件名被其他请求占用时改用 AltPath
func (t *Tracker) choosePath(c Candidate, entry *trackEntry) (string, FileStat, bool) {
	if entry != nil && entry.path != "" {
		switch entry.path {
		case c.Path:
			return c.Path, c.Stat, true
		case c.AltPath:
			return c.AltPath, c.AltStat, true
		}
	}

	if owner, taken := t.owners[c.Path]; !taken || owner == c.ID {
		return c.Path, c.Stat, true
	}
	if c.AltPath == "" {
		return "", FileStat{}, false
	}
	if owner, taken := t.owners[c.AltPath]; taken && owner != c.ID {
		return "", FileStat{}, false
	}
	return c.AltPath, c.AltStat, true
}

// TryAdmit 原子地完成单个请求的去重判断与占位
func (t *Tracker) TryAdmit(c Candidate) Admission {
	return t.AdmitBatch([]Candidate{c})[0]
}

// AdmitBatch 在一个临界区内对一批请求做去重判断并分配目标路径
// 同一媒体组的成员一起判断，不会与其他批次交错
// 成员各自判断去重：部分成员已完成时其余成员照常准入，相册可以补全
func (t *Tracker) AdmitBatch(candidates []Candidate) []Admission {
	results := make([]Admission, len(candidates))

	t.mu.Lock()
	defer t.mu.Unlock()

	for i, c := range candidates {
		entry := t.entries[c.ID]
		path, stat, ok := t.choosePath(c, entry)
		if !ok {
			results[i] = Admission{Reason: ReasonAlreadyInFlight}
			continue
		}

		if reason := decide(entry, c.DeclaredSize, stat); reason != "" {
			results[i] = Admission{Reason: reason, Path: path}
			continue
		}

		// 同一批次中重复的 id 会在 decide 中被拦下
		owner, owned := t.owners[path]
		if entry == nil {
			entry = &trackEntry{}
			t.entries[c.ID] = entry
		}
		entry.state = StateAdmitted
		entry.attempts++
		entry.path = path
		t.owners[path] = c.ID

		results[i] = Admission{Path: path, Resumable: owned && owner == c.ID}
	}

	return results
}

// MarkInProgress 准入 -> 传输中
func (t *Tracker) MarkInProgress(id RequestID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok || entry.state != StateAdmitted {
		return fmt.Errorf("%w: %s is not admitted", ErrInvalidTransition, id)
	}
	entry.state = StateInProgress
	return nil
}

// MarkCompleted 记录完成及最终大小，记录在进程生命周期内保留
func (t *Tracker) MarkCompleted(id RequestID, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		entry = &trackEntry{}
		t.entries[id] = entry
	}
	entry.state = StateCompleted
	entry.size = size
	t.completed++
}

// MarkFailed 失败的请求从跟踪表移除，后续重复触发可重新准入
func (t *Tracker) MarkFailed(id RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, id)
	t.failed++
}

// Release 撤销尚未开始传输的占位（引擎停止时丢弃排队请求）
func (t *Tracker) Release(id RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[id]; ok && entry.state == StateAdmitted {
		delete(t.entries, id)
	}
}

// Restore 从持久化记录恢复已完成的请求及其目标路径
func (t *Tracker) Restore(id RequestID, size int64, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[id]; ok && entry.state != StateCompleted {
		return
	}
	t.entries[id] = &trackEntry{state: StateCompleted, size: size, path: path}
	if path != "" {
		if _, taken := t.owners[path]; !taken {
			t.owners[path] = id
		}
	}
}

// Lookup 返回请求当前记录的状态
func (t *Tracker) Lookup(id RequestID) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return "", false
	}
	return entry.state, true
}

// TrackerStats 跟踪表统计
type TrackerStats struct {
	Tracked   int
	Completed int64
	Failed    int64
}

// Stats 返回统计信息
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TrackerStats{
		Tracked:   len(t.entries),
		Completed: t.completed,
		Failed:    t.failed,
	}
}
