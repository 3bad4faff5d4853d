package serialize

import "encoding/json"

// currentVersion is the schema version this build writes. Decode accepts
// any version <= currentVersion (so a newer consumer stays compatible
// with older producers) and rejects anything newer as undecodable.
const currentVersion = 1

type envelope struct {
	Version int            `json:"version"`
	Kind    string         `json:"kind"`
	State   map[string]any `json:"state"`
}

// JSON is the reference Serializer: encoding/json over an envelope of
// {version, kind, state}. encoding/json already emits object keys in
// sorted order for map[string]any, which is what gives this
// implementation its order-stability without any extra bookkeeping.
type JSON struct{}

func (JSON) Encode(kind string, state map[string]any) ([]byte, error) {
	return json.Marshal(envelope{Version: currentVersion, Kind: kind, State: state})
}

func (JSON) Decode(data []byte) (string, map[string]any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, &DeserializationError{Reason: "malformed JSON envelope", Err: err}
	}
	if env.Kind == "" {
		return "", nil, &DeserializationError{Reason: "missing type discriminator"}
	}
	if env.Version > currentVersion {
		return "", nil, &DeserializationError{Reason: "unsupported schema version"}
	}
	if env.State == nil {
		env.State = map[string]any{}
	}
	return env.Kind, env.State, nil
}
