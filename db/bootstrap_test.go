package db

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"birdquest/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testRuntime opens its database lazily, the same way the app context does.
type testRuntime struct {
	t        *testing.T
	instance string
	uri      string
	db       *gorm.DB
}

func newTestRuntime(t *testing.T, instance string) *testRuntime {
	rt := &testRuntime{t: t, instance: instance, uri: SQLiteScheme + "birdquest.db"}
	t.Cleanup(rt.close)
	return rt
}

func (r *testRuntime) InstancePath() string { return r.instance }
func (r *testRuntime) DatabaseURI() string  { return r.uri }

func (r *testRuntime) DB() (*gorm.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	path, err := DatabasePath(r.instance, r.uri)
	if err != nil {
		return nil, err
	}
	db, err := OpenSQLite(path, logger.Default.LogMode(logger.Silent))
	if err != nil {
		return nil, err
	}
	r.db = db
	return db, nil
}

// reopen drops the cached handle so the next bootstrap behaves like a new
// process start.
func (r *testRuntime) reopen() {
	r.close()
	r.db = nil
}

func (r *testRuntime) close() {
	if r.db == nil {
		return
	}
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func observedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func seedUsers(t *testing.T, db *gorm.DB) {
	users := []model.User{
		{Username: "robin", Email: "robin@example.com", XP: 40},
		{Username: "wren", Email: "wren@example.com", XP: 10},
	}
	require.NoError(t, db.Create(&users).Error)
	require.NoError(t, db.Create(&model.OwnedBird{UserID: users[0].ID, Species: "Blue Jay"}).Error)
	require.NoError(t, db.Create(&model.CustomHabit{UserID: users[1].ID, Name: "Stretch", Frequency: model.Daily}).Error)
}

func assertAllQueryable(t *testing.T, db *gorm.DB) map[string]int64 {
	require.NoError(t, Verify(db, Entities))
	counts, err := NewSQLStore(db).TableCounts(t.Context())
	require.NoError(t, err)
	require.Len(t, counts, len(Entities))
	return counts
}

func TestDatabasePath(t *testing.T) {
	t.Run("relative name joins the instance path", func(t *testing.T) {
		p, err := DatabasePath("/srv/birdquest/instance", "sqlite:///birdquest.db")
		require.NoError(t, err)
		assert.Equal(t, "/srv/birdquest/instance/birdquest.db", p)
	})

	t.Run("absolute name is kept", func(t *testing.T) {
		p, err := DatabasePath("/srv/birdquest/instance", "sqlite:////var/lib/birdquest.db")
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/birdquest.db", p)
	})

	t.Run("memory passes through", func(t *testing.T) {
		p, err := DatabasePath("instance", "sqlite:///:memory:")
		require.NoError(t, err)
		assert.Equal(t, MemoryDSN, p)
	})

	t.Run("other schemes are rejected", func(t *testing.T) {
		_, err := DatabasePath("instance", "postgres://localhost/birdquest")
		assert.ErrorIs(t, err, ErrUnsupportedURI)

		_, err = DatabasePath("instance", "sqlite:///")
		assert.ErrorIs(t, err, ErrUnsupportedURI)
	})
}

func TestEnsureReady_FreshEnvironment(t *testing.T) {
	instance := filepath.Join(t.TempDir(), "app", "instance")
	rt := newTestRuntime(t, instance)
	log, logs := observedLogger()

	outcome, err := NewBootstrapper(rt, log).EnsureReady(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
	assert.True(t, outcome.OK())

	assert.DirExists(t, instance)
	assert.FileExists(t, filepath.Join(instance, "birdquest.db"))

	db, err := rt.DB()
	require.NoError(t, err)
	for name, n := range assertAllQueryable(t, db) {
		assert.Zerof(t, n, "table %s should be empty", name)
	}

	assert.Equal(t, 1, logs.FilterMessageSnippet("created instance folder").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("database not found").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("database and tables created").Len())
}

func TestEnsureReady_ExistingHealthyStore(t *testing.T) {
	instance := t.TempDir()
	rt := newTestRuntime(t, instance)

	outcome, err := NewBootstrapper(rt, zap.NewNop().Sugar()).EnsureReady(t.Context())
	require.NoError(t, err)
	require.Equal(t, Created, outcome)

	db, err := rt.DB()
	require.NoError(t, err)
	seedUsers(t, db)
	before := assertAllQueryable(t, db)
	rt.reopen()

	for i := 0; i < 2; i++ {
		log, logs := observedLogger()
		outcome, err := NewBootstrapper(rt, log).EnsureReady(t.Context())
		require.NoError(t, err)
		assert.Equal(t, Verified, outcome)
		assert.Equal(t, 1, logs.FilterMessageSnippet("database verified").Len())
		assert.Zero(t, logs.FilterMessageSnippet("created instance folder").Len())

		db, err := rt.DB()
		require.NoError(t, err)
		assert.Equal(t, before, assertAllQueryable(t, db))
		rt.reopen()
	}
	assert.Equal(t, int64(2), before["users"])
	assert.Equal(t, int64(1), before["owned_birds"])
}

func TestEnsureReady_CorruptTableRecovers(t *testing.T) {
	instance := t.TempDir()
	rt := newTestRuntime(t, instance)

	_, err := NewBootstrapper(rt, zap.NewNop().Sugar()).EnsureReady(t.Context())
	require.NoError(t, err)
	db, err := rt.DB()
	require.NoError(t, err)
	seedUsers(t, db)

	// replace hidden_habits with a table that no longer matches the model
	require.NoError(t, db.Exec("DROP TABLE hidden_habits").Error)
	require.NoError(t, db.Exec("CREATE TABLE hidden_habits (legacy_id INTEGER PRIMARY KEY)").Error)
	rt.reopen()

	log, logs := observedLogger()
	outcome, err := NewBootstrapper(rt, log).EnsureReady(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Recovered, outcome)
	assert.True(t, outcome.OK())

	db, err = rt.DB()
	require.NoError(t, err)
	for name, n := range assertAllQueryable(t, db) {
		assert.Zerof(t, n, "table %s should be empty after recovery", name)
	}
	assert.True(t, db.Migrator().HasColumn(&model.HiddenHabit{}, "habit_key"))

	assert.Equal(t, 1, logs.FilterMessageSnippet("table verification failed").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("database tables recreated").Len())
	warn := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warn, 1)
	assert.Contains(t, warn[0].Message, "hidden_habits")
}

// The create step runs before verification, so a dropped table is simply
// recreated and the other tables keep their rows.
func TestEnsureReady_MissingTableIsCreated(t *testing.T) {
	instance := t.TempDir()
	rt := newTestRuntime(t, instance)

	_, err := NewBootstrapper(rt, zap.NewNop().Sugar()).EnsureReady(t.Context())
	require.NoError(t, err)
	db, err := rt.DB()
	require.NoError(t, err)
	seedUsers(t, db)
	require.NoError(t, db.Migrator().DropTable(&model.CompletedHabit{}))
	rt.reopen()

	outcome, err := NewBootstrapper(rt, zap.NewNop().Sugar()).EnsureReady(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Verified, outcome)

	db, err = rt.DB()
	require.NoError(t, err)
	counts := assertAllQueryable(t, db)
	assert.Equal(t, int64(2), counts["users"])
	assert.Zero(t, counts["completed_habits"])
}

type brokenThing struct {
	ID uint
}

func TestEnsureReady_RecoveryFailureIsFatal(t *testing.T) {
	rt := newTestRuntime(t, t.TempDir())
	log, logs := observedLogger()

	checks := 0
	broken := Entity{
		Name:  "broken_things",
		Model: &brokenThing{},
		Probe: func(tx *gorm.DB) error {
			checks++
			sqlDB, err := tx.DB()
			require.NoError(t, err)
			require.NoError(t, sqlDB.Close())
			return errors.New("unreadable table")
		},
	}
	b := NewBootstrapper(rt, log)
	b.Entities = append(append([]Entity{}, Entities...), broken)

	outcome, err := b.EnsureReady(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap: recovery")
	assert.False(t, outcome.OK())
	assert.Equal(t, 1, checks, "recovery must not be retried")
	assert.Equal(t, 1, logs.FilterMessageSnippet("table verification failed").Len())
	assert.Zero(t, logs.FilterMessageSnippet("database tables recreated").Len())
}

func TestEnsureReady_InstanceFolderCannotBeCreated(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	rt := newTestRuntime(t, filepath.Join(blocker, "instance"))
	outcome, err := NewBootstrapper(rt, zap.NewNop().Sugar()).EnsureReady(t.Context())
	require.Error(t, err)
	assert.False(t, outcome.OK())
	assert.Nil(t, rt.db, "database must not be opened when the folder is missing")
}

func TestEnsureReady_UnsupportedURI(t *testing.T) {
	rt := newTestRuntime(t, t.TempDir())
	rt.uri = "mysql://localhost/birdquest"

	outcome, err := NewBootstrapper(rt, zap.NewNop().Sugar()).EnsureReady(t.Context())
	assert.ErrorIs(t, err, ErrUnsupportedURI)
	assert.Equal(t, Unchecked, outcome)
}

func TestEnsureReady_InMemory(t *testing.T) {
	rt := newTestRuntime(t, t.TempDir())
	rt.uri = SQLiteScheme + MemoryDSN

	outcome, err := NewBootstrapper(rt, zap.NewNop().Sugar()).EnsureReady(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
}
