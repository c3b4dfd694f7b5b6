package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"replay-trader/internal/errors"
	"replay-trader/internal/models"
)

const agentsDir = "agents"

// FileStore keeps one JSON document per agent under <dir>/agents. Writes go
// to a temp file in the same directory that is synced and renamed over the
// target, so a crash never leaves a torn document behind.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the store directory if needed.
func NewFileStore(dataDir string) (*FileStore, error) {
	dir := filepath.Join(dataDir, agentsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewPersistenceError("mkdir", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the agent documents.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the document path of an agent.
func (s *FileStore) Path(agentID string) string {
	return filepath.Join(s.dir, fileName(agentID)+".json")
}

// fileName maps an agent id to a file name. Bytes outside [A-Za-z0-9._-]
// and a leading dot are percent-encoded, so distinct ids never share a
// document and agentID(fileName(id)) == id.
func fileName(agentID string) string {
	var sb strings.Builder
	for i := 0; i < len(agentID); i++ {
		c := agentID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			sb.WriteByte(c)
		case c == '.' && i > 0:
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "%%%02X", c)
		}
	}
	return sb.String()
}

// agentIDOf reverses fileName.
func agentIDOf(name string) (string, error) {
	return url.PathUnescape(name)
}

// Load reads an agent document. Fields missing from older documents keep
// their defaults. A missing document yields ErrSnapshotNotFound.
func (s *FileStore) Load(agentID string) (*models.AgentSnapshot, error) {
	path := s.Path(agentID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, errors.NewPersistenceError("read", path, err)
	}

	var snap models.AgentSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.NewPersistenceError("decode", path, err)
	}
	migrate(&snap, agentID)
	if snap.AgentID != agentID {
		return nil, errors.NewPersistenceError("load", path, fmt.Errorf("document belongs to agent %q", snap.AgentID))
	}
	return &snap, nil
}

// migrate fills what older schema versions did not carry.
func migrate(snap *models.AgentSnapshot, agentID string) {
	if snap.AgentID == "" {
		snap.AgentID = agentID
	}
	if snap.DailyJournal == nil {
		snap.DailyJournal = []models.JournalDay{}
	}
	if snap.OpenLots == nil {
		snap.OpenLots = []models.OpenLot{}
	}
	if snap.ClosedPositions == nil {
		snap.ClosedPositions = []models.ClosedPosition{}
	}
	if snap.EquityCurve == nil {
		snap.EquityCurve = []models.EquityPoint{}
	}
	if snap.RecentActions == nil {
		snap.RecentActions = []models.RecentAction{}
	}

	st := &snap.Stats
	if st.TotalEquity == 0 {
		st.TotalEquity = st.InitialBalance
	}
	if st.PeakEquity == 0 {
		st.PeakEquity = st.TotalEquity
	}
	if st.TroughEquity == 0 {
		st.TroughEquity = st.TotalEquity
	}
	for i := range snap.OpenLots {
		lot := &snap.OpenLots[i]
		if lot.Side == "" {
			lot.Side = models.SideLong
		}
		if lot.EntryFee < lot.EntryFeeRemaining {
			lot.EntryFee = lot.EntryFeeRemaining
		}
	}
	snap.SchemaVersion = models.SnapshotSchemaVersion
}

// Save atomically replaces the agent document.
func (s *FileStore) Save(ctx context.Context, snap *models.AgentSnapshot) error {
	if err := ctx.Err(); err != nil {
		return errors.NewPersistenceError("save", s.Path(snap.AgentID), err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.NewPersistenceError("encode", s.Path(snap.AgentID), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.Path(snap.AgentID), data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.NewPersistenceError("create temp", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return errors.NewPersistenceError("write", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return errors.NewPersistenceError("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.NewPersistenceError("close", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return errors.NewPersistenceError("rename", path, err)
	}
	return nil
}

// List returns the ids of the stored agent documents.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.NewPersistenceError("list", s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := agentIDOf(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Purge deletes every agent document. Documents are first moved into a
// staging directory; if any move fails the moved ones are put back and
// nothing is deleted.
func (s *FileStore) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.NewPersistenceError("purge", s.dir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.NewPersistenceError("purge", s.dir, err)
	}

	staging := filepath.Join(filepath.Dir(s.dir), fmt.Sprintf(".purge-%d", time.Now().UnixNano()))
	if err := os.Mkdir(staging, 0o755); err != nil {
		return errors.NewPersistenceError("purge", staging, err)
	}

	var moved []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		src := filepath.Join(s.dir, e.Name())
		if err := os.Rename(src, filepath.Join(staging, e.Name())); err != nil {
			for _, name := range moved {
				os.Rename(filepath.Join(staging, name), filepath.Join(s.dir, name))
			}
			os.RemoveAll(staging)
			return errors.NewPersistenceError("purge", src, err)
		}
		moved = append(moved, e.Name())
	}

	if err := os.RemoveAll(staging); err != nil {
		return errors.NewPersistenceError("purge", staging, err)
	}
	return nil
}
