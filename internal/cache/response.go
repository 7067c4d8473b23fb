package cache

import "encoding/json"

// Response is what interception resolves to. Every strategy path ends in
// one of these; no path may surface an error to the interception caller.
type Response struct {
	StatusCode  int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"-"`
	// FromCache marks a response served without a network round trip.
	FromCache bool `json:"fromCache"`
	// Offline marks a synthesized fallback: no network, no usable cache.
	Offline bool `json:"offline,omitempty"`
}

// OK reports whether the response carries a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// emptyFallback synthesizes a well-formed empty 503 with the content type
// the requester expects, so a missing stylesheet or script degrades
// instead of breaking the caller.
func emptyFallback(class Class) Response {
	contentType := "text/plain"
	switch class {
	case ClassStyle:
		contentType = "text/css"
	case ClassScript:
		contentType = "application/javascript"
	}
	return Response{
		StatusCode:  503,
		ContentType: contentType,
		Offline:     true,
	}
}

// offlineAPIFallback is the structured JSON body API callers receive when
// there is neither connectivity nor any cached variant. The offline flag
// lets them distinguish this from a genuine server error.
func offlineAPIFallback() Response {
	body, _ := json.Marshal(map[string]any{
		"error":   "Offline",
		"message": "No internet connection",
		"offline": true,
	})
	return Response{
		StatusCode:  503,
		ContentType: "application/json",
		Body:        body,
		Offline:     true,
	}
}
