// CLAUDE:SUMMARY Hijacks pooled page requests to refuse configured resource types (images, fonts, media, stylesheets).
package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// configNames maps the plural names used in configuration to CDP types.
var configNames = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

// blocklist is a set of resource types refused at the network layer.
type blocklist map[proto.NetworkResourceType]struct{}

// newBlocklist accepts the plural config names as well as raw CDP type
// names ("XHR", "Fetch", ...), case-insensitively. Document is never added.
func newBlocklist(names []string) blocklist {
	bl := blocklist{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		t, ok := configNames[n]
		if !ok {
			t = cdpType(n)
		}
		if t == "" || t == proto.NetworkResourceTypeDocument {
			continue
		}
		bl[t] = struct{}{}
	}
	return bl
}

// cdpType finds the CDP resource type spelled n, ignoring case.
func cdpType(n string) proto.NetworkResourceType {
	for _, t := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage, proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypeMedia, proto.NetworkResourceTypeStylesheet,
		proto.NetworkResourceTypeScript, proto.NetworkResourceTypeXHR,
		proto.NetworkResourceTypeFetch, proto.NetworkResourceTypeWebSocket,
		proto.NetworkResourceTypeManifest, proto.NetworkResourceTypePing,
		proto.NetworkResourceTypeOther,
	} {
		if strings.EqualFold(string(t), n) {
			return t
		}
	}
	return ""
}

func (bl blocklist) blocks(t proto.NetworkResourceType) bool {
	_, ok := bl[t]
	return ok
}

// applyResourceBlocking fails page requests whose type is in names. The
// returned router is stopped when the page closes, or nil when nothing
// would be blocked.
func applyResourceBlocking(page *rod.Page, names []string) *rod.HijackRouter {
	bl := newBlocklist(names)
	if len(bl) == 0 {
		return nil
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if bl.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
