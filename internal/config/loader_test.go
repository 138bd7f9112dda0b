package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, c.App.Port)
	assert.Equal(t, "8080", c.App.PortString())
	assert.Equal(t, "messages", c.Mongo.MessagesCollection)
	assert.Equal(t, "conversations", c.Mongo.ConversationsCollection)
	assert.Equal(t, 25*time.Second, c.PingInterval)
	assert.Equal(t, 60*time.Second, c.PongWait)
	assert.Equal(t, 10*time.Second, c.WriteDeadline)
	assert.Equal(t, int64(65536), c.WS.MaxMessageSizeBytes)
	assert.Equal(t, 3*time.Second, c.OpTimeout)
	assert.True(t, c.Mongo.Enabled)
	assert.False(t, c.Redis.Enabled)
	assert.False(t, c.Kafka.Enabled)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	p := writeConfig(t, `
app:
  env: prod
  port: 9000
mongo:
  database: chat_test
ws:
  rate_per_second: 5
kafka:
  brokers: ["k1:9092", "k2:9092"]
`)
	t.Setenv("MONGO_URI", "mongodb://db:27017")

	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 9000, c.App.Port)
	assert.False(t, c.App.Dev())
	assert.Equal(t, "chat_test", c.Mongo.Database)
	assert.Equal(t, "mongodb://db:27017", c.Mongo.URI)
	assert.Equal(t, 5.0, c.WS.RatePerSecond)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
}

func TestLoadRejectsInvalidJWT(t *testing.T) {
	p := writeConfig(t, `
jwt:
  enabled: true
  algorithm: HS256
`)
	_, err := Load(p)
	require.Error(t, err)

	p = writeConfig(t, `
jwt:
  enabled: true
  algorithm: none
`)
	_, err = Load(p)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesKeysWithoutFileEntries(t *testing.T) {
	t.Setenv("APP_INSTANCE_ID", "chat-7")
	t.Setenv("REDIS_PASSWORD", "s3cret")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("S3_PUBLIC_BASE_URL", "https://cdn.example.com")
	t.Setenv("CONSUL_ADDR", "consul:8500")
	t.Setenv("CONSUL_SERVICE_ADDRESS", "10.0.0.5")
	t.Setenv("JWT_ENABLED", "true")
	t.Setenv("JWT_ALGORITHM", "RS256")
	t.Setenv("JWT_PUBLIC_KEY_PATH", "/keys/pub.pem")

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "chat-7", c.App.InstanceID)
	assert.Equal(t, "s3cret", c.Redis.Pass)
	assert.Equal(t, "http://minio:9000", c.S3.Endpoint)
	assert.Equal(t, "https://cdn.example.com", c.S3.PublicBaseURL)
	assert.Equal(t, "consul:8500", c.Consul.Addr)
	assert.Equal(t, "10.0.0.5", c.Consul.ServiceAddress)
	assert.True(t, c.JWT.Enabled)
	assert.Equal(t, "/keys/pub.pem", c.JWT.PublicKeyPath)
}

func TestEnvSuppliesHSSecretAndBucket(t *testing.T) {
	t.Setenv("JWT_ENABLED", "true")
	t.Setenv("JWT_HS_SECRET", "hmac-key")
	t.Setenv("S3_ENABLED", "true")
	t.Setenv("S3_BUCKET", "chat-media")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "hmac-key", c.JWT.HSSecret)
	assert.Equal(t, "chat-media", c.S3.Bucket)
}
