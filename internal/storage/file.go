package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "postrelay/pkg/logx"
)

// fileDeliveries is a dependency-free delivery record backend.
//
// Files:
//   - <prefix>.deliveries.snapshot.json (periodic snapshot)
//   - <prefix>.deliveries.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileDeliveries struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	claimed      map[string]struct{}

	writes int
}

type journalRecord struct {
	Op  string `json:"op"`
	Key string `json:"key"`
}

const (
	opClaim   = "claim"
	opUnclaim = "unclaim"

	compactEvery = 1000
)

func openFileDeliveries(cfg DeliveryConfig, log logx.Logger) (*fileDeliveries, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.delivery.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".deliveries.snapshot.json"
	journalPath := prefix + ".deliveries.journal.jsonl"

	claimed := map[string]struct{}{}
	if err := loadSnapshot(snapPath, claimed); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("delivery snapshot load failed", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, claimed); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("delivery journal replay failed", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileDeliveries{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		claimed:      claimed,
	}, nil
}

func (s *fileDeliveries) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileDeliveries) Exists(ctx context.Context, k DeliveryKey) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.claimed[k.String()]
	return ok, nil
}

func (s *fileDeliveries) Claim(ctx context.Context, k DeliveryKey) error {
	_ = ctx
	key := k.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claimed[key]; ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: opClaim, Key: key}); err != nil {
		return err
	}
	s.claimed[key] = struct{}{}
	return nil
}

func (s *fileDeliveries) Unclaim(ctx context.Context, k DeliveryKey) error {
	_ = ctx
	key := k.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claimed[key]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: opUnclaim, Key: key}); err != nil {
		return err
	}
	delete(s.claimed, key)
	return nil
}

func (s *fileDeliveries) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return errors.New("delivery journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// The record is already journaled; a failed compact only delays truncation.
		if err := s.compactLocked(r); err != nil {
			s.log.Debug("delivery compact failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked writes a snapshot that includes pending, the record just
// journaled but not yet applied to the map.
func (s *fileDeliveries) compactLocked(pending journalRecord) error {
	keys := make([]string, 0, len(s.claimed)+1)
	for k := range s.claimed {
		if pending.Op == opUnclaim && k == pending.Key {
			continue
		}
		keys = append(keys, k)
	}
	if pending.Op == opClaim {
		keys = append(keys, pending.Key)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(keys); err != nil {
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
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var keys []string
	if err := json.NewDecoder(f).Decode(&keys); err != nil {
		return err
	}
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return nil
}

func replayJournal(path string, out map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		switch r.Op {
		case opClaim:
			out[r.Key] = struct{}{}
		case opUnclaim:
			delete(out, r.Key)
		}
	}
	return sc.Err()
}
