package badger

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/common"
	"github.com/ternarybob/bidharvest/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	source     interfaces.SourceStorage
	credential interfaces.CredentialStorage
	job        interfaces.JobStorage
	record     interfaces.RecordStorage
	log        interfaces.LogStorage
	logger     arbor.ILogger
}

// NewManager opens the database and builds every store on top of it
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}
	m := newManager(db, logger)
	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")
	return m, nil
}

func newManager(db *BadgerDB, logger arbor.ILogger) *Manager {
	return &Manager{
		db:         db,
		source:     NewSourceStorage(db, logger),
		credential: NewCredentialStorage(db, logger),
		job:        NewJobStorage(db, logger),
		record:     NewRecordStorage(db, logger),
		log:        NewLogStorage(db, logger),
		logger:     logger,
	}
}

func (m *Manager) SourceStorage() interfaces.SourceStorage {
	return m.source
}

func (m *Manager) CredentialStorage() interfaces.CredentialStorage {
	return m.credential
}

func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

func (m *Manager) RecordStorage() interfaces.RecordStorage {
	return m.record
}

func (m *Manager) LogStorage() interfaces.LogStorage {
	return m.log
}

// DB returns the raw badger handle shared with the durable queue
func (m *Manager) DB() *badger.DB {
	return m.db.Store().Badger()
}

// Close closes the database connection
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing Badger storage")
	return m.db.Close()
}
