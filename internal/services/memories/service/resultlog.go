package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	perr "snapvault/internal/platform/errors"
	"snapvault/internal/services/memories/domain"
)

// resultLog appends one JSON line per finished asset to
// <destRoot>/.snapvault/runs/<runID>.ndjson
type resultLog struct {
	mu sync.Mutex
	f  *os.File
}

func openResultLog(destRoot, runID string) (*resultLog, error) {
	dir := filepath.Join(destRoot, metaDirName, "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, perr.Storagef("creating run log dir: %v", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, runID+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, perr.Storagef("opening run log: %v", err)
	}
	return &resultLog{f: f}, nil
}

func (l *resultLog) Append(res domain.TransferResult) error {
	line, err := json.Marshal(res)
	if err != nil {
		return perr.Storagef("encoding result for %s: %v", res.ID, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(append(line, '\n')); err != nil {
		return perr.Storagef("appending result for %s: %v", res.ID, err)
	}
	return nil
}

func (l *resultLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
