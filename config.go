package caldera

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Configuration is the YAML configuration file shape.
type Configuration struct {
	Client struct {
		UserID     string `json:"user_id" yaml:"user_id"`
		ShardCount int32  `json:"shard_count" yaml:"shard_count"`
	} `json:"client" yaml:"client"`

	Nodes []NodeConfiguration `json:"nodes" yaml:"nodes"`
}

// LoadConfiguration reads and parses a YAML configuration file.
func LoadConfiguration(path string) (*Configuration, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var configuration Configuration

	if err = yaml.Unmarshal(file, &configuration); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}

	for i, node := range configuration.Nodes {
		if node.Host == "" {
			return nil, fmt.Errorf("node %d is missing a host", i)
		}

		if node.Name == "" {
			configuration.Nodes[i].Name = node.Host
		}
	}

	return &configuration, nil
}

// NewClientFromConfiguration creates a client and connects every configured
// node. Nodes that fail to connect abort the whole construction.
func NewClientFromConfiguration(ctx context.Context, logger io.Writer, configuration *Configuration, connect ConnectHandler) (*Client, error) {
	client := NewClient(logger, ClientOptions{
		UserID:     configuration.Client.UserID,
		ShardCount: configuration.Client.ShardCount,
		Connect:    connect,
	})

	for _, node := range configuration.Nodes {
		if _, err := client.AddNode(ctx, node); err != nil {
			client.Close()

			return nil, fmt.Errorf("failed to add node %s: %w", node.Name, err)
		}
	}

	return client, nil
}
