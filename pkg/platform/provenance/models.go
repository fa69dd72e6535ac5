package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	id "shadowrt/pkg/domain"
)

// Operation names the kind of provenance event. Per tag the expected order is
// source, transfer_out, transfer_in, zero or more insert_* events,
// delete_request, delete_done. The log does not enforce it.
type Operation string

const (
	OpSource        Operation = "source"
	OpTransferOut   Operation = "transfer_out"
	OpTransferIn    Operation = "transfer_in"
	OpDeleteRequest Operation = "delete_request"
	OpDeleteDone    Operation = "delete_done"
	OpDeleteLocal   Operation = "delete_local"
)

// domainPrefix marks service-specific events such as insert_payment.
const domainPrefix = "insert_"

// InsertOperation names the domain event for a row inserted into entity.
func InsertOperation(entity string) Operation {
	return Operation(domainPrefix + entity)
}

// IsDomain reports whether o is a service-specific insert_* event.
func (o Operation) IsDomain() bool {
	return strings.HasPrefix(string(o), domainPrefix) && len(o) > len(domainPrefix)
}

// Valid reports whether o is a core operation or a domain event.
func (o Operation) Valid() bool {
	switch o {
	case OpSource, OpTransferOut, OpTransferIn, OpDeleteRequest, OpDeleteDone, OpDeleteLocal:
		return true
	}
	return o.IsDomain()
}

// Event is one immutable provenance record. The raw payload is never kept;
// PayloadHash is a digest of it.
type Event struct {
	EventID        string         `json:"event_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Operation      Operation      `json:"operation"`
	SourceApp      string         `json:"source_app"`
	DestinationApp string         `json:"destination_app,omitempty"` // empty when the event has no destination
	UserID         id.UserID      `json:"user_id"`
	TagID          id.TagID       `json:"tag_id"` // id.AllTags for events covering every tag
	PayloadHash    string         `json:"payload_hash"`
	Metadata       map[string]any `json:"meta"`
}

// Clone returns a copy that shares no metadata with e. Nested maps and
// slices are copied as long as they hold JSON values (map[string]any, []any),
// which is all Log.Append and the JSON decoders ever store.
func (e Event) Clone() Event {
	if e.Metadata != nil {
		e.Metadata = cloneJSON(e.Metadata).(map[string]any)
	}
	return e
}

func cloneJSON(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[k] = cloneJSON(x)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = cloneJSON(x)
		}
		return out
	default:
		return v
	}
}

// normalizeMetadata round-trips meta through JSON. The result holds only JSON
// values, shares nothing with meta and reads back the same from every store.
func normalizeMetadata(meta map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if len(meta) == 0 {
		return out, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveEventID hashes the identifying fields of an event. seq disambiguates
// events a single log writes within the same clock tick.
func DeriveEventID(ts time.Time, op Operation, userID id.UserID, tagID id.TagID, destination string, seq uint64) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(ts.UnixNano(), 10))
	for _, part := range []string{string(op), string(userID), string(tagID), destination, strconv.FormatUint(seq, 10)} {
		b.WriteByte('|')
		b.WriteString(part)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
