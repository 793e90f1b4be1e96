package browser

import "github.com/go-rod/rod/lib/proto"

// BlockResource decides which sub-resources are aborted during extraction.
// Only heavy non-text payloads are blocked; documents, scripts, stylesheets
// and XHR must load for the page to render its text.
func BlockResource(t proto.NetworkResourceType) bool {
	switch t {
	case proto.NetworkResourceTypeImage, proto.NetworkResourceTypeMedia, proto.NetworkResourceTypeFont:
		return true
	default:
		return false
	}
}
