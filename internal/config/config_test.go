package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DriverCGo, cfg.Driver)
	assert.Equal(t, MemoryDatabase, cfg.Database)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, DefaultAuthority, cfg.Authority)
	assert.Equal(t, DefaultPragmas, cfg.Pragmas)
	assert.True(t, cfg.InMemory())
	require.NoError(t, cfg.Validate())
}

func TestDefault_PragmasAreCopied(t *testing.T) {
	cfg := Default()
	cfg.Pragmas[0] = "PRAGMA journal_mode = DELETE"

	assert.Equal(t, "PRAGMA journal_mode = WAL", DefaultPragmas[0])
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "db.yaml", `
driver: sqlite
database: app.db
version: 3
authority: com.example
normalize_text: true
create:
  - CREATE TABLE IF NOT EXISTS extra(_id INTEGER PRIMARY KEY)
upgrade:
  - ALTER TABLE users ADD COLUMN nickname TEXT
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverPureGo, cfg.Driver)
	assert.Equal(t, "app.db", cfg.Database)
	assert.Equal(t, 3, cfg.Version)
	assert.Equal(t, "com.example", cfg.Authority)
	assert.True(t, cfg.NormalizeText)
	assert.Equal(t, DefaultPragmas, cfg.Pragmas, "missing pragmas get defaults")
	assert.Len(t, cfg.Create, 1)
	assert.Len(t, cfg.Upgrade, 1)
	assert.False(t, cfg.InMemory())
}

func TestLoad_YAMLExplicitEmptyPragmas(t *testing.T) {
	path := writeFile(t, "db.yml", "pragmas: []\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotNil(t, cfg.Pragmas)
	assert.Empty(t, cfg.Pragmas)
}

func TestLoad_CUE(t *testing.T) {
	path := writeFile(t, "db.cue", `
driver:    "sqlite3"
database:  "app.db"
version:   2
authority: "com.example"
pragmas: ["PRAGMA foreign_keys = ON"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverCGo, cfg.Driver)
	assert.Equal(t, "app.db", cfg.Database)
	assert.Equal(t, 2, cfg.Version)
	assert.Equal(t, "com.example", cfg.Authority)
	assert.Equal(t, []string{"PRAGMA foreign_keys = ON"}, cfg.Pragmas)
}

func TestLoad_CUERejectsInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{name: "unknown driver", content: `driver: "postgres"`},
		{name: "zero version", content: `version: 0`},
		{name: "unknown field", content: `port: 5432`},
		{name: "non-concrete", content: `database: string`},
		{name: "syntax", content: `database: "unterminated`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, "db.cue", tc.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, "db.toml", "driver = 'sqlite3'")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported file type")
	})

	t.Run("invalid driver", func(t *testing.T) {
		path := writeFile(t, "db.yaml", "driver: postgres\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid driver")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeFile(t, "db.yaml", "driver: [unclosed\n")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Version = -1
	assert.ErrorContains(t, cfg.Validate(), "invalid version")

	cfg = Default()
	cfg.Authority = ""
	assert.ErrorContains(t, cfg.Validate(), "authority")
}

func TestDSN(t *testing.T) {
	testCases := []struct {
		name     string
		driver   string
		database string
		expected string
	}{
		{name: "cgo memory", driver: DriverCGo, database: MemoryDatabase, expected: ":memory:?_txlock=immediate"},
		{name: "cgo file", driver: DriverCGo, database: "app.db", expected: "app.db?_txlock=immediate"},
		{name: "pure go memory", driver: DriverPureGo, database: "", expected: ":memory:"},
		{name: "pure go file", driver: DriverPureGo, database: "app.db", expected: "app.db"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{Driver: tc.driver, Database: tc.database}
			assert.Equal(t, tc.expected, cfg.DSN())
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Database = "app.db"
	cfg.Version = 4
	cfg.Create = []string{"CREATE TABLE t(_id INTEGER PRIMARY KEY)"}

	path := filepath.Join(t.TempDir(), "db.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
