package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

type messageKey struct {
	chatID    int64
	messageID int
}

type fakeFetcher struct {
	mu       sync.Mutex
	messages map[messageKey]*SourceMessage
	chats    map[string]int64
	fetches  int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		messages: make(map[messageKey]*SourceMessage),
		chats:    make(map[string]int64),
	}
}

func (f *fakeFetcher) add(msg *SourceMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[messageKey{msg.ChatID, msg.MessageID}] = msg
}

func (f *fakeFetcher) FetchMessage(ctx context.Context, chatID int64, messageID int) (*SourceMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++

	msg, ok := f.messages[messageKey{chatID, messageID}]
	if !ok {
		return nil, fmt.Errorf("message %d not found in chat %d", messageID, chatID)
	}
	// 返回副本，调用方可能修改
	cp := *msg
	return &cp, nil
}

func (f *fakeFetcher) ResolveChat(ctx context.Context, username string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.chats[username]
	if !ok {
		return 0, fmt.Errorf("chat @%s not found", username)
	}
	return id, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type fakeFile struct {
	content     []byte
	ignoreRange bool  // 模拟不支持 Range 的服务端
	cutAt       int   // >0 时读到该字节数后返回错误
	total       int64 // 非 0 时覆盖报告的总大小
	hideTotal   bool  // 不报告总大小
	openErr     error
}

type openCall struct {
	fileID string
	offset int64
}

type fakeSource struct {
	mu    sync.Mutex
	files map[string]*fakeFile
	opens []openCall
	block chan struct{} // 非 nil 时 Open 阻塞直到关闭
}

func newFakeSource() *fakeSource {
	return &fakeSource{files: make(map[string]*fakeFile)}
}

func (s *fakeSource) add(fileID string, f *fakeFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileID] = f
}

func (s *fakeSource) Open(ctx context.Context, ref FileRef, offset int64) (*Stream, error) {
	s.mu.Lock()
	s.opens = append(s.opens, openCall{fileID: ref.FileID, offset: offset})
	f, ok := s.files[ref.FileID]
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !ok {
		return nil, errors.New("file not found")
	}
	if f.openErr != nil {
		return nil, f.openErr
	}

	total := int64(len(f.content))
	if f.total != 0 {
		total = f.total
	}
	if f.hideTotal {
		total = 0
	}

	start := offset
	if f.ignoreRange {
		start = 0
	}
	if start > int64(len(f.content)) {
		start = int64(len(f.content))
	}

	var body io.Reader = bytes.NewReader(f.content[start:])
	if f.cutAt > 0 {
		body = &cutReader{r: body, remaining: f.cutAt}
	}

	return &Stream{Body: io.NopCloser(body), Offset: start, Total: total}, nil
}

func (s *fakeSource) openCalls() []openCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]openCall(nil), s.opens...)
}

// cutReader 读出 remaining 字节后模拟连接中断
type cutReader struct {
	r         io.Reader
	remaining int
}

func (c *cutReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		return 0, errors.New("connection reset by peer")
	}
	if len(p) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= n
	return n, err
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return n.err
}

func (n *fakeNotifier) notifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

func (n *fakeNotifier) count(kind NotificationKind) int {
	total := 0
	for _, note := range n.notifications() {
		if note.Kind == kind {
			total++
		}
	}
	return total
}

type fakeOrganizer struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (o *fakeOrganizer) TriggerScan(ctx context.Context, path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, path)
	return o.err
}

func (o *fakeOrganizer) calls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.paths...)
}

type fakeStore struct {
	mu       sync.Mutex
	outcomes []Request
}

func (s *fakeStore) SaveOutcome(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, *req)
	return nil
}

func (s *fakeStore) saved() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.outcomes...)
}

func pendingRequest(chatID int64, messageID, index int, name string, size int64) *Request {
	return &Request{
		ID:           RequestID{ChatID: chatID, MessageID: messageID, FileIndex: index},
		Origin:       OriginReaction,
		ChatID:       chatID,
		MessageID:    messageID,
		FileName:     name,
		DeclaredSize: size,
		File:         FileRef{FileID: fmt.Sprintf("file-%d-%d-%d", chatID, messageID, index)},
		State:        StatePending,
	}
}
