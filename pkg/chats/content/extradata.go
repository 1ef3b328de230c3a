package content

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// ExtraData carries model-specific data. The meaning of Data is defined by
// whichever backend recognizes Kind; this package only requires it to be
// well-formed JSON. Data is kept as raw bytes so object key order survives.
type ExtraData struct {
	Kind string
	Data json.RawMessage
}

// NewExtraData marshals v as the payload of an extra data part.
func NewExtraData(kind string, v any) (ExtraData, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return ExtraData{}, fmt.Errorf("%w: extra data %q: %w", ErrInvalidPart, kind, err)
	}

	ed := ExtraData{Kind: kind, Data: b}
	if err := ed.Validate(); err != nil {
		return ExtraData{}, err
	}
	return ed, nil
}

func (ExtraData) PartKind() Kind { return KindExtraData }

func (e ExtraData) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("%w: extra data kind is required", ErrInvalidPart)
	}
	if len(e.Data) > 0 && !gjson.ValidBytes(e.Data) {
		return fmt.Errorf("%w: extra data %q: payload is not valid JSON", ErrInvalidPart, e.Kind)
	}
	return nil
}

// Decode unmarshals the payload into dst.
func (e ExtraData) Decode(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("extra data %q: empty payload", e.Kind)
	}
	return json.Unmarshal(e.Data, dst)
}

// Get looks up a value in the payload using gjson path syntax.
func (e ExtraData) Get(path string) gjson.Result {
	return gjson.GetBytes(e.Data, path)
}

func (ExtraData) sealed() {}
