package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
)

// TopicCreator is the subset of *kadm.Client used to provision the topic.
type TopicCreator interface {
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
}

// EnsureTopic creates topic if it does not exist. Provenance is an audit
// trail, so the topic is never compacted or expired by time.
func EnsureTopic(ctx context.Context, admin TopicCreator, topic string, partitions int32, replication int16) error {
	retention := "-1"
	cleanup := "delete"
	resps, err := admin.CreateTopics(ctx, partitions, replication, map[string]*string{
		"retention.ms":   &retention,
		"cleanup.policy": &cleanup,
	}, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}
