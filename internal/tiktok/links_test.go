package tiktok

import "testing"

func TestClassifyLink(t *testing.T) {
	tests := []struct {
		name string
		text string
		want linkClass
		link string
	}{
		{
			"web video",
			"check this out https://www.tiktok.com/@someone/video/7345678901234567890 wow",
			linkVideo,
			"https://www.tiktok.com/@someone/video/7345678901234567890",
		},
		{
			"web photo",
			"https://www.tiktok.com/@someone/photo/7345678901234567890",
			linkPhoto,
			"https://www.tiktok.com/@someone/photo/7345678901234567890",
		},
		{
			"music page",
			"https://www.tiktok.com/music/original-sound-7345678901234567890",
			linkMusic,
			"https://www.tiktok.com/music/original-sound-7345678901234567890",
		},
		{
			"short mobile link",
			"https://vm.tiktok.com/ZMabcdef/",
			linkMobile,
			"https://vm.tiktok.com/ZMabcdef/",
		},
		{
			"vt host",
			"https://vt.tiktok.com/ZSabcdef/",
			linkMobile,
			"https://vt.tiktok.com/ZSabcdef/",
		},
		{"no link", "hello there", linkNone, ""},
		{"foreign url", "https://example.com/video/123", linkNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, class := classifyLink(tt.text)
			if class != tt.want {
				t.Errorf("class = %v, want %v", class, tt.want)
			}
			if link != tt.link {
				t.Errorf("link = %q, want %q", link, tt.link)
			}
		})
	}
}

func TestContentID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.tiktok.com/@someone/video/7345678901234567890", "7345678901234567890"},
		{"https://www.tiktok.com/@someone/photo/42", "42"},
		{"https://www.tiktok.com/@someone", ""},
	}
	for _, tt := range tests {
		if got := contentID(tt.url); got != tt.want {
			t.Errorf("contentID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestExtractLink(t *testing.T) {
	if _, ok := ExtractLink("nothing here"); ok {
		t.Error("extracted a link from plain text")
	}
	link, ok := ExtractLink("look https://vm.tiktok.com/ZMabcdef/")
	if !ok || link != "https://vm.tiktok.com/ZMabcdef/" {
		t.Errorf("ExtractLink = %q, %v", link, ok)
	}
}

func TestContentURLRoundTrips(t *testing.T) {
	u := ContentURL("7345")
	if got := contentID(u); got != "7345" {
		t.Errorf("contentID(ContentURL) = %q, want 7345", got)
	}
	if _, class := classifyLink(u); class != linkVideo {
		t.Errorf("ContentURL not recognized as a video link")
	}
}
