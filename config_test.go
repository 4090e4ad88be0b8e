package caldera

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfiguration(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "caldera.yaml")

	require.NoError(t, os.WriteFile(path, []byte(`
client:
  user_id: "700811170902179862"
  shard_count: 2
nodes:
  - name: us-west
    host: lavalink-usw.example.com:443
    authorization: youshallnotpass
    secure: true
  - host: localhost:2333
    authorization: youshallnotpass
`), 0o600))

	configuration, err := LoadConfiguration(path)
	require.NoError(t, err)

	assert.Equal(t, "700811170902179862", configuration.Client.UserID)
	assert.Equal(t, int32(2), configuration.Client.ShardCount)

	require.Len(t, configuration.Nodes, 2)
	assert.Equal(t, "us-west", configuration.Nodes[0].Name)
	assert.True(t, configuration.Nodes[0].Secure)
	assert.Equal(t, "localhost:2333", configuration.Nodes[1].Name, "name defaults to host")
	assert.False(t, configuration.Nodes[1].Secure)
}

func TestLoadConfigurationMissingHost(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "caldera.yaml")

	require.NoError(t, os.WriteFile(path, []byte(`
nodes:
  - name: broken
    authorization: youshallnotpass
`), 0o600))

	_, err := LoadConfiguration(path)
	assert.Error(t, err)
}

func TestLoadConfigurationMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfiguration(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
