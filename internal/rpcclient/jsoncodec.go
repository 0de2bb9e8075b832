package rpcclient

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered as a gRPC content-subtype. The core worker
// protocol this package emulates has no generated protobuf stubs in this
// tree (direct_actor_task_submitter.{h,cc} describe the submitter side
// only, not the wire schema); rather than hand-write a ProtoReflect
// implementation with no .proto source of truth, PushTaskRequest/Reply and
// KillActorRequest are framed as plain JSON over the same grpc.ClientConn
// transport, registered the way grpc-go's encoding.Codec extension point is
// documented to be used.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
