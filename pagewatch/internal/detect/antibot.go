package detect

import "strings"

// Lowercase page titles served by challenge interstitials.
var blockedTitles = []string{
	"just a moment",
	"attention required",
	"access denied",
	"verify you are human",
	"are you a robot",
	"security check",
}

// Lowercase fragments of challenge platforms seen in the final URL or the
// page source.
var blockedFragments = []string{
	"/cdn-cgi/challenge-platform",
	"challenges.cloudflare.com",
	"cf-browser-verification",
	"cf_chl_opt",
	"_incapsula_resource",
	"captcha-delivery.com",
	"px-captcha",
	"perimeterx",
	"hcaptcha.com/captcha",
}

// DetectBlock reports whether a loaded page is an anti-automation
// challenge rather than the monitored content.
func DetectBlock(title, html, finalURL string) (reason string, blocked bool) {
	t := strings.ToLower(strings.TrimSpace(title))
	for _, m := range blockedTitles {
		if strings.Contains(t, m) {
			return "challenge title: " + m, true
		}
	}
	u := strings.ToLower(finalURL)
	src := strings.ToLower(html)
	for _, f := range blockedFragments {
		if strings.Contains(u, f) {
			return "challenge url: " + f, true
		}
		if strings.Contains(src, f) {
			return "challenge marker: " + f, true
		}
	}
	return "", false
}
