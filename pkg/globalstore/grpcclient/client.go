// Package grpcclient implements globalstore.Client over a gRPC channel.
//
// The Global Store's wire schema is explicitly out of scope (spec.md
// §1, §6): this package only needs to invoke fixed RPC method names and
// exchange self-describing payloads, so it uses
// google.golang.org/protobuf/types/known/structpb.Struct as the request
// and response message for every call rather than depending on
// service-specific generated stubs, and relies on gRPC's default
// Protobuf codec to marshal them.
package grpcclient

import (
	"context"
	"strconv"

	"github.com/buildbarn/bb-storage/pkg/util"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"locationstore.dev/lls/pkg/clusterstate"
	"locationstore.dev/lls/pkg/contenthash"
	"locationstore.dev/lls/pkg/eventstore"
	"locationstore.dev/lls/pkg/globalstore"
)

const serviceName = "/lls.v1.GlobalStore/"

// Client is a globalstore.Client backed by a gRPC channel.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps conn, an already-dialed channel to the Global Store.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) call(ctx context.Context, method string, request *structpb.Struct) (*structpb.Struct, error) {
	response := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, serviceName+method, request, response); err != nil {
		return nil, util.StatusWrapf(err, "Global Store RPC %s failed", method)
	}
	return response, nil
}

// GetCheckpointState implements globalstore.Client.
func (c *Client) GetCheckpointState(ctx context.Context) (globalstore.CheckpointState, error) {
	response, err := c.call(ctx, "GetCheckpointState", &structpb.Struct{})
	if err != nil {
		return globalstore.CheckpointState{}, err
	}
	fields := response.GetFields()
	state := globalstore.CheckpointState{
		StartSequencePoint:  eventstore.SequencePoint(fields["startSequencePoint"].GetNumberValue()),
		CheckpointID:        fields["checkpointId"].GetStringValue(),
		CheckpointAvailable: fields["checkpointAvailable"].GetBoolValue(),
	}
	switch fields["role"].GetStringValue() {
	case "Master":
		state.Role = globalstore.RoleMaster
	case "Worker":
		state.Role = globalstore.RoleWorker
	default:
		state.Role = globalstore.RoleUnknown
	}
	return state, nil
}

// ReleaseRoleIfNecessary implements globalstore.Client.
func (c *Client) ReleaseRoleIfNecessary(ctx context.Context) (globalstore.Role, error) {
	response, err := c.call(ctx, "ReleaseRoleIfNecessary", &structpb.Struct{})
	if err != nil {
		return globalstore.RoleUnknown, err
	}
	switch response.GetFields()["role"].GetStringValue() {
	case "Master":
		return globalstore.RoleMaster, nil
	case "Worker":
		return globalstore.RoleWorker, nil
	default:
		return globalstore.RoleUnknown, nil
	}
}

// UpdateClusterState implements globalstore.Client.
func (c *Client) UpdateClusterState(ctx context.Context, snapshot clusterstate.Snapshot) error {
	machines := make(map[string]any, len(snapshot.Machines))
	for id, entry := range snapshot.Machines {
		machines[strconv.FormatUint(uint64(id), 10)] = map[string]any{
			"location": string(entry.Location),
			"active":   entry.Active,
		}
	}
	request, err := structpb.NewStruct(map[string]any{
		"machines":     machines,
		"maxMachineId": float64(snapshot.MaxMachineID),
	})
	if err != nil {
		return util.StatusWrap(err, "Failed to encode cluster state update")
	}
	_, err = c.call(ctx, "UpdateClusterState", request)
	return err
}

// FetchClusterState implements globalstore.Client.
func (c *Client) FetchClusterState(ctx context.Context) (clusterstate.Snapshot, error) {
	response, err := c.call(ctx, "FetchClusterState", &structpb.Struct{})
	if err != nil {
		return clusterstate.Snapshot{}, err
	}
	fields := response.GetFields()
	snapshot := clusterstate.Snapshot{
		Machines:     map[uint32]clusterstate.MachineEntrySnapshot{},
		MaxMachineID: uint32(fields["maxMachineId"].GetNumberValue()),
	}
	for key, value := range fields["machines"].GetStructValue().GetFields() {
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return clusterstate.Snapshot{}, util.StatusWrapf(err, "Failed to decode machine id %q in Global Store response", key)
		}
		entry := value.GetStructValue().GetFields()
		snapshot.Machines[uint32(id)] = clusterstate.MachineEntrySnapshot{
			Location: clusterstate.MachineLocation(entry["location"].GetStringValue()),
			Active:   entry["active"].GetBoolValue(),
		}
	}
	return snapshot, nil
}

// RegisterLocalLocation implements globalstore.Client.
func (c *Client) RegisterLocalLocation(ctx context.Context, hashesWithSize []globalstore.HashSize) error {
	entries := make([]any, len(hashesWithSize))
	for i, hs := range hashesWithSize {
		entries[i] = map[string]any{
			"hash": hs.Hash.String(),
			"size": float64(hs.Size),
		}
	}
	request, err := structpb.NewStruct(map[string]any{"entries": entries})
	if err != nil {
		return util.StatusWrap(err, "Failed to encode local location registration")
	}
	_, err = c.call(ctx, "RegisterLocalLocation", request)
	return err
}

// GetBulk implements globalstore.Client.
func (c *Client) GetBulk(ctx context.Context, hashes []contenthash.Hash) ([]globalstore.LocationEntry, error) {
	hexHashes := make([]any, len(hashes))
	for i, h := range hashes {
		hexHashes[i] = h.String()
	}
	request, err := structpb.NewStruct(map[string]any{"hashes": hexHashes})
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to encode bulk get request")
	}
	response, err := c.call(ctx, "GetBulk", request)
	if err != nil {
		return nil, err
	}
	rows := response.GetFields()["entries"].GetListValue().GetValues()
	entries := make([]globalstore.LocationEntry, 0, len(rows))
	for _, row := range rows {
		fields := row.GetStructValue().GetFields()
		machineValues := fields["machineIds"].GetListValue().GetValues()
		machineIDs := make([]uint32, len(machineValues))
		for i, v := range machineValues {
			machineIDs[i] = uint32(v.GetNumberValue())
		}
		hash, err := contenthash.ParseHex(fields["hash"].GetStringValue())
		if err != nil {
			return nil, util.StatusWrapf(err, "Failed to decode hash in Global Store response")
		}
		entries = append(entries, globalstore.LocationEntry{
			Hash:       hash,
			Size:       uint64(fields["size"].GetNumberValue()),
			MachineIDs: machineIDs,
		})
	}
	return entries, nil
}

// InvalidateLocalMachine implements globalstore.Client.
func (c *Client) InvalidateLocalMachine(ctx context.Context) error {
	_, err := c.call(ctx, "InvalidateLocalMachine", &structpb.Struct{})
	return err
}

// PutBlob implements globalstore.Client.
func (c *Client) PutBlob(ctx context.Context, key string, data []byte) error {
	request, err := structpb.NewStruct(map[string]any{
		"key":  key,
		"data": string(data),
	})
	if err != nil {
		return util.StatusWrap(err, "Failed to encode blob put request")
	}
	_, err = c.call(ctx, "PutBlob", request)
	return err
}

// GetBlob implements globalstore.Client.
func (c *Client) GetBlob(ctx context.Context, key string) ([]byte, error) {
	request, err := structpb.NewStruct(map[string]any{"key": key})
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to encode blob get request")
	}
	response, err := c.call(ctx, "GetBlob", request)
	if err != nil {
		return nil, err
	}
	return []byte(response.GetFields()["data"].GetStringValue()), nil
}
