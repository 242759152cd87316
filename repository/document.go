package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrAborted is returned when a transform could not commit after retrying.
	ErrAborted = errors.New("transform aborted after concurrent modification")
)

// Fields is a JSON-compatible set of document fields.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp is a field value resolved to the backend's clock when the write commits.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// CollectionRef addresses a collection owned by a single identity.
type CollectionRef struct {
	Owner      string
	Collection string
}

func (c CollectionRef) Doc(id string) DocumentRef {
	return DocumentRef{Owner: c.Owner, Collection: c.Collection, ID: id}
}

func (c CollectionRef) String() string {
	return c.Owner + "/" + c.Collection
}

func (c CollectionRef) Validate() error {
	if c.Owner == "" || c.Collection == "" {
		return fmt.Errorf("invalid collection reference %q", c.String())
	}
	return nil
}

// DocumentRef addresses one document.
type DocumentRef struct {
	Owner      string
	Collection string
	ID         string
}

func (d DocumentRef) Parent() CollectionRef {
	return CollectionRef{Owner: d.Owner, Collection: d.Collection}
}

func (d DocumentRef) String() string {
	return d.Owner + "/" + d.Collection + "/" + d.ID
}

func (d DocumentRef) Validate() error {
	if err := d.Parent().Validate(); err != nil {
		return err
	}
	if d.ID == "" {
		return fmt.Errorf("invalid document reference %q", d.String())
	}
	return nil
}

// Document is a stored record as delivered to subscribers.
type Document struct {
	ID        string
	Data      []byte
	CreatedAt time.Time
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	if err := sonic.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// Fields decodes the document body into a field map.
func (d Document) Fields() (Fields, error) {
	return DecodeFields(d.Data)
}

// SnapshotFunc receives a full collection snapshot, ordered by creation ascending, or a subscription error.
type SnapshotFunc func(docs []Document, err error)

// DocumentFunc receives a single document, nil when it does not exist.
type DocumentFunc func(doc *Document, err error)

// TransformFunc computes the replacement of a document from its current fields (nil when absent).
// It may run more than once and must not have side effects. Returning nil fields leaves the document untouched.
type TransformFunc func(current Fields) (Fields, error)

// Subscription is a live listener. Close is synchronous: once it returns no callback runs.
// Close must not be called from inside the subscription's own callback.
type Subscription interface {
	Close() error
}

// DocumentStore is a live, per-owner document database.
type DocumentStore interface {
	Subscribe(ctx context.Context, ref CollectionRef, fn SnapshotFunc) (Subscription, error)
	SubscribeDocument(ctx context.Context, ref DocumentRef, fn DocumentFunc) (Subscription, error)
	Add(ctx context.Context, ref CollectionRef, fields Fields) (string, error)
	Update(ctx context.Context, ref DocumentRef, fields Fields) error
	Delete(ctx context.Context, ref DocumentRef) error
	Transform(ctx context.Context, ref DocumentRef, fn TransformFunc) error
	Ping(ctx context.Context) error
}

// Resolve returns a copy of fields with ServerTimestamp sentinels replaced by now.
func Resolve(fields Fields, now time.Time) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		if IsServerTimestamp(v) {
			out[k] = now.UTC()
			continue
		}
		out[k] = v
	}
	return out
}

// Merge overlays patch on base and returns the result without touching either map.
func Merge(base, patch Fields) Fields {
	out := make(Fields, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// EncodeFields serializes fields after resolving server timestamps.
func EncodeFields(fields Fields, now time.Time) ([]byte, error) {
	data, err := sonic.Marshal(Resolve(fields, now))
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return data, nil
}

func DecodeFields(data []byte) (Fields, error) {
	fields := Fields{}
	if len(data) == 0 {
		return fields, nil
	}
	if err := sonic.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

// ToFields converts a JSON-tagged struct into Fields.
func ToFields(v any) (Fields, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return DecodeFields(data)
}

// FromFields decodes fields into a JSON-tagged struct.
func FromFields(fields Fields, v any) error {
	data, err := sonic.Marshal(Resolve(fields, time.Now()))
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	return nil
}
