// Package encoding negotiates the response body format for the read API.
package encoding

import (
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	ContentTypeMsgpack = "application/msgpack"
	ContentTypeJSON    = "application/json"

	contentTypeMsgpackLegacy = "application/x-msgpack"
)

// NegotiateContentType returns MessagePack only when the client asks for it
// explicitly. Wildcards and unknown types get JSON.
func NegotiateContentType(r *http.Request) string {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return ContentTypeJSON
	}

	for _, part := range strings.Split(accept, ",") {
		mediaType, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
		if mediaType != ContentTypeMsgpack && mediaType != contentTypeMsgpackLegacy {
			continue
		}
		// q=0 means "not acceptable"
		if strings.ReplaceAll(strings.TrimSpace(params), " ", "") == "q=0" {
			continue
		}
		return ContentTypeMsgpack
	}

	return ContentTypeJSON
}

// WriteMsgpack writes a MessagePack response with the given status code.
// Structs are encoded with their json tag names when no msgpack tag is set.
func WriteMsgpack(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", ContentTypeMsgpack)
	w.WriteHeader(status)

	encoder := msgpack.NewEncoder(w)
	encoder.SetCustomStructTag("json")
	return encoder.Encode(data)
}
