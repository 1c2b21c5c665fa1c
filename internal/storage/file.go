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
	"time"

	logx "schedscaler/pkg/logx"
)

const compactEvery = 200

// fileStore keeps everything in plain files next to cfg.Path:
//   - <prefix>.scale.jsonl          scale actions, append-only
//   - <prefix>.dedup.json           dedup snapshot
//   - <prefix>.dedup.journal.jsonl  dedup writes since the snapshot
type fileStore struct {
	log logx.Logger

	mu       sync.Mutex
	scaleLog *os.File
	enc      *json.Encoder

	snapPath string
	journal  *os.File
	dedup    map[string]int64 // key -> until, unix milli
	writes   int
}

type dedupLine struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	prefix := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

	sf, err := os.OpenFile(prefix+".scale.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		log:      log,
		scaleLog: sf,
		enc:      json.NewEncoder(sf),
		snapPath: prefix + ".dedup.json",
		dedup:    map[string]int64{},
	}
	if err := s.loadDedup(prefix + ".dedup.journal.jsonl"); err != nil {
		log.Warn("dedup state not restored", logx.Err(err))
	}
	jf, err := os.OpenFile(prefix+".dedup.journal.jsonl", os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = sf.Close()
		return nil, err
	}
	s.journal = jf
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("dedup_keys", len(s.dedup)))
	return s, nil
}

func (s *fileStore) AppendScale(ctx context.Context, r ScaleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scaleLog == nil {
		return ErrDisabled
	}
	return s.enc.Encode(r)
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrDisabled
	}
	s.dedup[key] = ms
	if err := json.NewEncoder(s.journal).Encode(dedupLine{Key: key, Until: ms}); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.scaleLog != nil {
		errs = append(errs, s.scaleLog.Close())
		s.scaleLog = nil
	}
	return errors.Join(errs...)
}

// loadDedup reads the snapshot, replays the journal on top and drops
// expired keys. Missing files are not an error.
func (s *fileStore) loadDedup(journalPath string) error {
	if b, err := os.ReadFile(s.snapPath); err == nil {
		if err := json.Unmarshal(b, &s.dedup); err != nil {
			return err
		}
		if s.dedup == nil {
			s.dedup = map[string]int64{}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	f, err := os.Open(journalPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l dedupLine
		if json.Unmarshal(sc.Bytes(), &l) != nil || l.Key == "" {
			continue // torn tail after a crash
		}
		s.dedup[l.Key] = l.Until
	}
	s.pruneLocked(time.Now())
	return sc.Err()
}

func (s *fileStore) pruneLocked(now time.Time) {
	ms := now.UnixMilli()
	for k, until := range s.dedup {
		if until < ms {
			delete(s.dedup, k)
		}
	}
}

// compactLocked rewrites the snapshot atomically and truncates the journal.
func (s *fileStore) compactLocked() error {
	s.pruneLocked(time.Now())
	b, err := json.Marshal(s.dedup)
	if err != nil {
		return err
	}
	tmp := s.snapPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}
