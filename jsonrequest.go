package mongrel2

import (
	"bytes"
	"encoding/json"

	"github.com/beevik/etree"
	"github.com/pkg/errors"
)

// JSONRequest is a message from a JSON socket client. The server also uses
// it to announce disconnects.
type JSONRequest struct {
	*BaseRequest

	// Data is the decoded body.
	Data any
}

func newJSONRequest(b *BaseRequest) (Request, error) {
	body, err := b.body.Bytes()
	if err != nil {
		return nil, errors.Wrap(err, "read json body")
	}

	r := &JSONRequest{BaseRequest: b}
	if err := json.Unmarshal(body, &r.Data); err != nil {
		return nil, errors.Wrap(err, "decode json body")
	}
	return r, nil
}

// IsDisconnect reports a {"type":"disconnect"} notice.
func (r *JSONRequest) IsDisconnect() bool {
	m, ok := r.Data.(map[string]any)
	return ok && m["type"] == "disconnect"
}

// Decode unmarshals the body into v.
func (r *JSONRequest) Decode(v any) error {
	body, err := r.body.Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// XMLRequest is a message from an XML socket client.
type XMLRequest struct {
	*BaseRequest

	// Document is the parsed body.
	Document *etree.Document
}

func newXMLRequest(b *BaseRequest) (Request, error) {
	body, err := b.body.Bytes()
	if err != nil {
		return nil, errors.Wrap(err, "read xml body")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(bytes.TrimRight(body, "\x00")); err != nil {
		return nil, errors.Wrap(err, "parse xml body")
	}
	return &XMLRequest{BaseRequest: b, Document: doc}, nil
}
