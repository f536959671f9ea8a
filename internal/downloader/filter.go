package downloader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"tg_downloader/internal/logger"
)

// StatFunc 查询目标文件状态，作为准入判断的显式输入
type StatFunc func(path string) (FileStat, error)

// OSStat 基于本地文件系统的 StatFunc
func OSStat(path string) (FileStat, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileStat{}, nil
		}
		return FileStat{}, err
	}
	if info.IsDir() {
		return FileStat{}, nil
	}
	return FileStat{Exists: true, Size: info.Size()}, nil
}

// FilterConfig 准入过滤配置
type FilterConfig struct {
	MonitoredChats []string // 数字 ID 或 @username，为空表示全部
	Extensions     []string // 为空表示全部
	MaxFileSize    int64    // 字节，<=0 表示不限制
	DownloadDir    string
}

// Filter 准入过滤器
// 依次检查聊天白名单、扩展名、大小上限、去重，第一个失败的检查决定结果
type Filter struct {
	chatIDs     map[int64]struct{}
	chatHandles map[string]struct{}
	extensions  map[string]struct{}
	maxSize     int64
	dir         string
	tracker     *Tracker
	stat        StatFunc
}

// NewFilter 创建准入过滤器
func NewFilter(cfg FilterConfig, tracker *Tracker, stat StatFunc) *Filter {
	f := &Filter{
		chatIDs:     make(map[int64]struct{}),
		chatHandles: make(map[string]struct{}),
		extensions:  make(map[string]struct{}),
		maxSize:     cfg.MaxFileSize,
		dir:         cfg.DownloadDir,
		tracker:     tracker,
		stat:        stat,
	}
	if f.stat == nil {
		f.stat = OSStat
	}

	for _, chat := range cfg.MonitoredChats {
		chat = strings.TrimSpace(chat)
		if chat == "" {
			continue
		}
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			f.chatIDs[id] = struct{}{}
			continue
		}
		f.chatHandles[normalizeHandle(chat)] = struct{}{}
	}

	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.extensions[ext] = struct{}{}
	}

	return f
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// MonitorsChat 聊天是否在白名单内（白名单为空时总是 true）
func (f *Filter) MonitorsChat(chatID int64, username string) bool {
	if len(f.chatIDs) == 0 && len(f.chatHandles) == 0 {
		return true
	}
	if _, ok := f.chatIDs[chatID]; ok {
		return true
	}
	if username != "" {
		if _, ok := f.chatHandles[normalizeHandle(username)]; ok {
			return true
		}
	}
	return false
}

// precheck 不依赖跟踪表的检查：聊天、扩展名、大小
func (f *Filter) precheck(req *Request) Reason {
	if !f.MonitorsChat(req.ChatID, req.ChatUsername) {
		return ReasonChatNotMonitored
	}
	if len(f.extensions) > 0 {
		if _, ok := f.extensions[req.Extension()]; !ok {
			return ReasonExtensionFiltered
		}
	}
	if f.maxSize > 0 && req.DeclaredSize > f.maxSize {
		return ReasonTooLarge
	}
	return ""
}

// AdmitBatch 对同一条消息展开的一批请求做准入判断
// 每个成员独立做扩展名/大小检查，通过的成员在一个临界区内完成去重判断
func (f *Filter) AdmitBatch(batch []*Request) (admitted, rejected []*Request) {
	candidates := make([]*Request, 0, len(batch))

	for _, req := range batch {
		if req.State != StatePending {
			if req.State == StateRejected {
				rejected = append(rejected, req)
			}
			continue
		}
		if reason := f.precheck(req); reason != "" {
			_ = req.reject(reason, "")
			rejected = append(rejected, req)
			continue
		}
		req.DestinationPath = Destination(f.dir, req)
		candidates = append(candidates, req)
	}

	if len(candidates) == 0 {
		return admitted, rejected
	}

	checks := make([]Candidate, len(candidates))
	for i, req := range candidates {
		alt := AlternateDestination(f.dir, req)
		checks[i] = Candidate{
			ID:           req.ID,
			DeclaredSize: req.DeclaredSize,
			Path:         req.DestinationPath,
			Stat:         f.statPath(req.DestinationPath),
			AltPath:      alt,
			AltStat:      f.statPath(alt),
		}
	}

	results := f.tracker.AdmitBatch(checks)
	for i, req := range candidates {
		if results[i].Path != "" {
			req.DestinationPath = results[i].Path
		}
		if results[i].Reason != "" {
			_ = req.reject(results[i].Reason, "")
			rejected = append(rejected, req)
			continue
		}
		if req.DestinationPath != checks[i].Path {
			logger.L().Infof("Destination %s is taken by another request, using %s for id=%s",
				checks[i].Path, req.DestinationPath, req.ID)
		}
		req.Resumable = results[i].Resumable
		_ = req.admit()
		admitted = append(admitted, req)
	}

	return admitted, rejected
}

func (f *Filter) statPath(path string) FileStat {
	stat, err := f.stat(path)
	if err != nil {
		logger.L().Warnf("Failed to stat destination %s: %v", path, err)
	}
	return stat
}

var (
	invalidFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots     = regexp.MustCompile(`[.\s]+$`)
	repeatedSpaces   = regexp.MustCompile(`\s+`)
)

// SanitizeFileName 替换文件名中的非法字符
func SanitizeFileName(name string) string {
	name = invalidFileChars.ReplaceAllString(name, "_")
	name = repeatedSpaces.ReplaceAllString(name, " ")
	name = trailingDots.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

func idSuffix(id RequestID) string {
	return strings.ReplaceAll(id.String(), ":", "_")
}

// Destination 目标路径由文件名和下载目录唯一确定
func Destination(dir string, req *Request) string {
	name := SanitizeFileName(req.FileName)
	if name == "" {
		name = "telegram_file_" + idSuffix(req.ID)
	}
	return filepath.Join(dir, name)
}

// AlternateDestination 同名文件已属于其他请求时使用的路径，形如 name (chat_msg_idx).ext
func AlternateDestination(dir string, req *Request) string {
	primary := Destination(dir, req)
	ext := filepath.Ext(primary)
	base := strings.TrimSuffix(primary, ext)
	return fmt.Sprintf("%s (%s)%s", base, idSuffix(req.ID), ext)
}
