package services

import (
	"bytes"
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/fhost/codec"
	"github.com/cppla/fhost/config"
	"github.com/cppla/fhost/models"
	"github.com/cppla/fhost/storage"
)

type testEnv struct {
	db      *gorm.DB
	cfg     config.AppConfig
	store   *storage.ContentStore
	policy  *ExpirationPolicy
	filters *FilterEngine
	codec   *codec.Codec
	ledger  *Ledger
	now     time.Time
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:fhost_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.File{}, &models.URL{}, &models.RequestFilter{}))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.StoragePath = filepath.Join(dir, "up")
	cfg.VScanQuarantinePath = filepath.Join(dir, "quarantine")
	cfg.BaseURL = "https://fh.example"

	env := &testEnv{
		db:    newTestDB(t),
		cfg:   cfg,
		store: storage.New(cfg.StoragePath),
		codec: codec.MustNew(cfg.IDAlphabet, cfg.IDMinLength),
		now:   fixedNow,
	}
	env.policy = NewExpirationPolicy(cfg).WithClock(func() time.Time { return env.now })
	env.filters = NewFilterEngine(env.db, zap.NewNop())
	env.ledger = NewLedger(env.db, env.store, env.policy, env.filters, env.codec, cfg, zap.NewNop())
	return env
}

func (e *testEnv) transfer(t *testing.T, content, name, mime string) *TransferFile {
	t.Helper()
	tf, err := NewTransferFile(bytes.NewReader([]byte(content)), name, mime, e.cfg.MaxExtLength)
	require.NoError(t, err)
	return tf
}

var testAddr = netip.MustParseAddr("198.51.100.7")

func (e *testEnv) reload(t *testing.T, id uint64) models.File {
	t.Helper()
	var f models.File
	require.NoError(t, e.db.First(&f, id).Error)
	return f
}
