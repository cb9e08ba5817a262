package storage

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

const fileCompactEvery = 500

// fileStore keeps every tenant in memory and persists to two files:
//   - <prefix>.snapshot.json (full state, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only ops since the last snapshot)
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	writes       int

	tenants map[int64]tenant.Tenant
	logs    map[int64][]LogEntry
}

type fileSnapshot struct {
	Tenants []record             `json:"tenants"`
	Logs    map[int64][]LogEntry `json:"logs,omitempty"`
}

type journalOp struct {
	Op    string          `json:"op"` // ensure | set | log
	ID    int64           `json:"id"`
	Field tenant.Field    `json:"field,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	At    time.Time       `json:"at"`
	Line  string          `json:"line,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./data/fwdbot"
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		tenants:      map[int64]tenant.Tenant{},
		logs:         map[int64][]LogEntry{},
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	if err := s.replay(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("tenants", len(s.tenants)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) Ensure(_ context.Context, id int64) (tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return tenant.Tenant{}, ErrClosed
	}
	if t, ok := s.tenants[id]; ok {
		return t.Clone(), nil
	}
	now := time.Now().UTC()
	if err := s.appendLocked(journalOp{Op: "ensure", ID: id, At: now}); err != nil {
		return tenant.Tenant{}, err
	}
	t := tenant.New(id, now)
	s.tenants[id] = t
	return t.Clone(), nil
}

func (s *fileStore) Get(_ context.Context, id int64) (tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return tenant.Tenant{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *fileStore) Set(_ context.Context, id int64, f tenant.Field, v any) error {
	raw, err := encodeValue(f, v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	t, ok := s.tenants[id]
	if !ok {
		return ErrNotFound
	}
	if err := s.appendLocked(journalOp{Op: "set", ID: id, Field: f, Value: raw, At: time.Now().UTC()}); err != nil {
		return err
	}
	if err := t.Apply(f, v); err != nil {
		return err
	}
	s.tenants[id] = t
	return nil
}

func (s *fileStore) List(_ context.Context) ([]tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tenant.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t.Clone())
	}
	slices.SortFunc(out, func(a, b tenant.Tenant) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *fileStore) AppendLog(_ context.Context, id int64, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	e := LogEntry{At: time.Now().UTC(), Line: line}
	if err := s.appendLocked(journalOp{Op: "log", ID: id, At: e.At, Line: line}); err != nil {
		return err
	}
	s.pushLog(id, e)
	return nil
}

func (s *fileStore) Logs(_ context.Context, id int64, n int) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tailLogs(s.logs[id], n), nil
}

func (s *fileStore) pushLog(id int64, e LogEntry) {
	l := append(s.logs[id], e)
	if len(l) > MaxLogEntries {
		l = slices.Clone(l[len(l)-MaxLogEntries:])
	}
	s.logs[id] = l
}

func (s *fileStore) appendLocked(op journalOp) error {
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("file store compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) apply(op journalOp) error {
	switch op.Op {
	case "ensure":
		if _, ok := s.tenants[op.ID]; !ok {
			s.tenants[op.ID] = tenant.New(op.ID, op.At)
		}
	case "set":
		t, ok := s.tenants[op.ID]
		if !ok {
			return nil
		}
		v, err := decodeValue(op.Field, op.Value)
		if err != nil {
			return err
		}
		if err := t.Apply(op.Field, v); err != nil {
			return err
		}
		s.tenants[op.ID] = t
	case "log":
		s.pushLog(op.ID, LogEntry{At: op.At, Line: op.Line})
	}
	return nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, r := range snap.Tenants {
		t, err := r.tenant()
		if err != nil {
			return err
		}
		s.tenants[t.ID] = t
	}
	for id, l := range snap.Logs {
		s.logs[id] = l
	}
	return nil
}

// replay applies journal ops on top of the snapshot. A torn final line is
// ignored.
func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			s.log.Warn("skipping unreadable journal line", logx.Err(err))
			continue
		}
		if err := s.apply(op); err != nil {
			s.log.Warn("skipping journal op", logx.Int64("id", op.ID), logx.String("op", op.Op), logx.Err(err))
		}
	}
	return sc.Err()
}

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{Logs: s.logs}
	for _, t := range s.tenants {
		snap.Tenants = append(snap.Tenants, toRecord(t))
	}
	slices.SortFunc(snap.Tenants, func(a, b record) int { return cmp.Compare(a.ID, b.ID) })

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}
