package bridge

import (
	"regexp"

	"github.com/marketlens/scraperd/internal/scrape"
)

// TokenDetector recognizes the legacy CAPTCHA markers the workers print to
// their diagnostic stream:
//
//	CAPTCHA_TYPE: image
//	CAPTCHA_URL: https://example.com/challenge
//
// A structured CAPTCHA event would be better; this shim exists so current
// workers keep working and can be swapped out behind scrape.ChallengeDetector.
type TokenDetector struct {
	typeRe *regexp.Regexp
	urlRe  *regexp.Regexp
}

// NewTokenDetector compiles the marker patterns.
func NewTokenDetector() *TokenDetector {
	return &TokenDetector{
		typeRe: regexp.MustCompile(`CAPTCHA_TYPE:\s*(\S+)`),
		urlRe:  regexp.MustCompile(`CAPTCHA_URL:\s*(\S+)`),
	}
}

// Detect reports a challenge when both markers are present.
func (d *TokenDetector) Detect(diagnostic []byte) (scrape.Challenge, bool) {
	typeMatch := d.typeRe.FindSubmatch(diagnostic)
	urlMatch := d.urlRe.FindSubmatch(diagnostic)
	if typeMatch == nil || urlMatch == nil {
		return scrape.Challenge{}, false
	}
	return scrape.Challenge{
		Type: string(typeMatch[1]),
		URL:  string(urlMatch[1]),
	}, true
}
