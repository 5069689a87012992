package fetcher

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONObject decodes a single JSON object from a reader.
// Numbers are preserved as json.Number so integer fields survive intact.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var obj T
	if err := dec.Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}
