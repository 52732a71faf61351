package tiktok

import "regexp"

// URL patterns for the content platform. Web links carry the canonical
// ID inline; short mobile links (vm./vt. hosts and share paths) need a
// redirect round-trip to resolve.
var (
	webVideoRe = regexp.MustCompile(`https?://www\.tiktok\.com/@[^\s/]+/video/[0-9]+`)
	webPhotoRe = regexp.MustCompile(`https?://www\.tiktok\.com/@[^\s/]+/photo/[0-9]+`)
	musicRe    = regexp.MustCompile(`https?://www\.tiktok\.com/music/[^\s]+`)
	mobileRe   = regexp.MustCompile(`https?://[^\s]*tiktok\.com/[^\s]+`)

	contentIDRe = regexp.MustCompile(`/(?:video|photo)/([0-9]+)`)
	musicIDRe   = regexp.MustCompile(`/music/[^\s/]*?-?([0-9]+)`)
)

type linkClass int

const (
	linkNone linkClass = iota
	linkVideo
	linkPhoto
	linkMusic
	linkMobile
)

// classifyLink extracts the first recognized platform link from free
// text and reports its form.
func classifyLink(text string) (string, linkClass) {
	if m := webVideoRe.FindString(text); m != "" {
		return m, linkVideo
	}
	if m := webPhotoRe.FindString(text); m != "" {
		return m, linkPhoto
	}
	if m := musicRe.FindString(text); m != "" {
		return m, linkMusic
	}
	if m := mobileRe.FindString(text); m != "" {
		return m, linkMobile
	}
	return "", linkNone
}

// ExtractLink pulls the first platform link out of free text. It is the
// front end's pre-filter; full validation happens during resolve.
func ExtractLink(text string) (string, bool) {
	link, class := classifyLink(text)
	return link, class != linkNone
}

// ContentURL builds the canonical page URL for a known content ID.
func ContentURL(id string) string {
	return canonicalURL(id)
}

func contentID(url string) string {
	if m := contentIDRe.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}
