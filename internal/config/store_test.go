package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 150 * time.Millisecond

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestOpenCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	store, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, store.Current())
	assert.Equal(t, uint64(1), store.Generation())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"autoswitch_enabled": false, "rules_list": []}`, string(data))
}

func TestOpenLoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"rules_list":[{"app_name":"code","window_title":"","enabled":true,"switch_to":2}]}`)

	store, err := Open(path)
	require.NoError(t, err)
	require.Len(t, store.Current(), 1)
	assert.Equal(t, path, store.Config().Path)
}

func TestOpenFailsOnDirectory(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(dir)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "open", cfgErr.Op)
}

func TestOpenFailsOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"rules_list": [`)

	_, err := Open(path)
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}

func TestReloadKeepsPreviousRulesOnParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"rules_list":[{"app_name":"code","switch_to":2}]}`)

	store, err := Open(path)
	require.NoError(t, err)
	before := store.Current()

	writeFile(t, path, `{"rules_list": [{"app_name": `)
	err = store.Reload()
	require.Error(t, err)
	assert.True(t, IsParseError(err))
	assert.Equal(t, before, store.Current())
	assert.Equal(t, uint64(1), store.Generation())
}

func TestWatchCollapsesRapidWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"rules_list":[]}`)

	store, err := Open(path, WithDebounce(testDebounce))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := store.Watch(ctx)
	require.NoError(t, err)

	writeFile(t, path, `{"rules_list":[{"app_name":"a","switch_to":1}]}`)
	writeFile(t, path, `{"rules_list":[{"app_name":"b","switch_to":2}]}`)

	select {
	case ev := <-events:
		require.NoError(t, ev.Err)
		require.Len(t, ev.Rules, 1)
		assert.Equal(t, "b", ev.Rules[0].AppName)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload event")
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected second reload event: %+v", ev)
	case <-time.After(4 * testDebounce):
	}

	assert.Equal(t, "b", store.Current()[0].AppName)
}

func TestWatchIgnoresInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"rules_list":[{"app_name":"code","switch_to":2}]}`)

	store, err := Open(path, WithDebounce(testDebounce))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := store.Watch(ctx)
	require.NoError(t, err)

	writeFile(t, path, `not json at all {`)

	select {
	case ev := <-events:
		t.Fatalf("unexpected reload event for invalid file: %+v", ev)
	case <-time.After(4 * testDebounce):
	}
	require.Len(t, store.Current(), 1)
	assert.Equal(t, "code", store.Current()[0].AppName)

	writeFile(t, path, `{"rules_list":[{"app_name":"vim","switch_to":3}]}`)
	select {
	case ev := <-events:
		require.NoError(t, ev.Err)
		assert.Equal(t, "vim", ev.Rules[0].AppName)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload event after fixing the file")
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store, err := Open(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := store.Watch(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestUpdateMigratesLegacyText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.txt")
	writeFile(t, path, "[rule]\napp_name code\nswitch_to 2\n")

	store, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, SchemaLegacyText, store.Config().Schema)

	err = store.Update(func(cfg *Config) error {
		cfg.Rules = append(cfg.Rules, Rule{SwitchTo: 1, Enabled: true})
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, SchemaCurrent, store.Config().Schema)
	assert.Len(t, store.Current(), 2)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SchemaCurrent, reloaded.Schema)
	assert.Equal(t, store.Current(), reloaded.Rules)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}
