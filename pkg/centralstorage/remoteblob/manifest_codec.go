package remoteblob

import (
	"encoding/json"

	"google.golang.org/protobuf/types/known/timestamppb"

	"locationstore.dev/lls/pkg/centralstorage"
	"locationstore.dev/lls/pkg/eventstore"
	"locationstore.dev/lls/pkg/readabletime"
)

// wireManifest is the JSON envelope stored in the remote blob service. The
// checkpoint time is stored as a readabletime string (the same form the
// reconcile marker uses) rather than through time.Time's own JSON
// encoding; encoding passes it through timestamppb first, which
// normalizes it to UTC.
type wireManifest struct {
	CheckpointID   string `json:"checkpointId"`
	CheckpointTime string `json:"checkpointTime"`
	SequencePoint  uint64 `json:"sequencePoint"`
}

func encodeManifest(m centralstorage.Manifest) ([]byte, error) {
	ts := timestamppb.New(m.CheckpointTime)
	return json.Marshal(wireManifest{
		CheckpointID:   m.CheckpointID,
		CheckpointTime: readabletime.Format(ts.AsTime()),
		SequencePoint:  uint64(m.SequencePoint),
	})
}

func decodeManifest(data []byte) (centralstorage.Manifest, error) {
	var wire wireManifest
	if err := json.Unmarshal(data, &wire); err != nil {
		return centralstorage.Manifest{}, err
	}
	t, err := readabletime.Parse(wire.CheckpointTime)
	if err != nil {
		return centralstorage.Manifest{}, err
	}
	return centralstorage.Manifest{
		CheckpointID:   wire.CheckpointID,
		CheckpointTime: t,
		SequencePoint:  eventstore.SequencePoint(wire.SequencePoint),
	}, nil
}
