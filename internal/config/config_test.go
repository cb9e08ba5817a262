package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  group_log: "-1001:7"
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./fwdbot.db
  busy_timeout: 5s
forwarding:
  default_delay_seconds: 10
  cycle_pause: 45s
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.True(t, cfg.Telegram.IsOwner(42))
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.NoError(t, Validate(cfg))

	chat, thread, ok, err := cfg.Telegram.GroupLogTarget()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(-1001), chat)
	require.Equal(t, 7, thread)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"telegram":{"token":"x"},"plugins":{}}`))
	require.Error(t, err)

	_, err = Decode("c.yaml", []byte("forwarding:\n  speed: 3\n"))
	require.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"telegram":{}} {"telegram":{}}`))
	require.Error(t, err)
}

func TestForwardingResolveDefaults(t *testing.T) {
	f, err := ForwardingConfig{}.Resolve()
	require.NoError(t, err)
	require.Equal(t, 5, f.DefaultDelaySeconds)
	require.Equal(t, []int{5, 10, 30}, f.AllowedDelays)
	require.Equal(t, []int{2}, f.PremiumDelays)
	require.Equal(t, 30*time.Second, f.CyclePause)
	require.Equal(t, 60*time.Second, f.EmptySourceRetry)
	require.Equal(t, 60*time.Second, f.ErrorBackoff)
	require.Equal(t, 60*time.Second, f.ReconcileEvery)
	require.Equal(t, 1, f.FreeAccountLimit)
}

func TestForwardingResolveRejectsBadValues(t *testing.T) {
	_, err := ForwardingConfig{DefaultDelaySeconds: 7}.Resolve()
	require.Error(t, err)
	_, err = ForwardingConfig{CyclePause: "-1s"}.Resolve()
	require.Error(t, err)
	_, err = ForwardingConfig{ReconcileEvery: "10ms"}.Resolve()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	err := Validate(&Config{Storage: StorageConfig{Driver: "redis"}, Logging: LoggingConfig{Level: "loud"}})
	require.ErrorContains(t, err, "telegram.token")
	require.ErrorContains(t, err, "storage.redis_url")
	require.ErrorContains(t, err, "logging.level")

	require.Error(t, validateStorage(StorageConfig{Driver: "mongo"}))
	require.NoError(t, validateStorage(StorageConfig{Driver: "redis", RedisURL: "redis://localhost:6379/0"}))
}

func TestNotifierDefaults(t *testing.T) {
	n, err := (&Config{}).ResolveNotifier()
	require.NoError(t, err)
	require.True(t, n.Enabled)
	require.Equal(t, 2, n.Workers)
	require.Zero(t, n.DedupWindow)
}

func TestSummarizeChange(t *testing.T) {
	a, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	b, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	changed, _ := SummarizeChange(a, b)
	require.Empty(t, changed)

	b.Logging.Level = "warn"
	b.Storage.Driver = "file"
	changed, _ = SummarizeChange(a, b)
	require.Equal(t, []string{"logging", "storage"}, changed)
	require.Equal(t, []string{"storage"}, RequiresRestart(changed))
}

func TestManagerReloadPublishesOnlyChanges(t *testing.T) {
	path := writeFile(t, "fwdbot.yaml", sampleYAML)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"broadcast:\n  workers: 3\n"), 0o644))
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	select {
	case cfg := <-ch:
		require.Equal(t, 3, cfg.Broadcast.Workers)
	default:
		t.Fatal("expected a published config")
	}
	require.Equal(t, 3, m.Get().Broadcast.Workers)
}

func TestManagerValidatorBlocksCommit(t *testing.T) {
	path := writeFile(t, "fwdbot.json", `{"telegram":{"token":"x"}}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })

	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":""}}`), 0o644))
	_, err = m.Reload(context.Background())
	require.Error(t, err)
	require.Equal(t, "x", m.Get().Telegram.Token)
}
