package service

import (
	"slices"
	"strings"
)

// Platform tags shown by the widget filters.
const (
	PlatformPC   = "PC"
	PlatformXbox = "Xbox"
	PlatformPS5  = "PS5"
)

// DefaultCategory is used when no keyword matches.
const DefaultCategory = "accessories"

type categoryRule struct {
	category string
	keywords []string
}

// evaluated in order; "mouse pad" titles also contain "mouse"
var categoryRules = []categoryRule{
	{"mice", []string{"mouse", "mice"}},
	{"keyboards", []string{"keyboard"}},
	{"headsets", []string{"headset", "headphone"}},
	{"monitors", []string{"monitor", "display"}},
	{"chairs", []string{"chair"}},
	{"controllers", []string{"controller", "gamepad"}},
	{"mousepads", []string{"mousepad", "mouse pad", "desk mat"}},
	{"microphones", []string{"microphone", "mic"}},
	{"webcams", []string{"webcam", "camera"}},
	{"gaming glasses", []string{"glasses"}},
}

var (
	pcOnlyCategories      = []string{"mice", "keyboards", "monitors", "mousepads", "gaming glasses"}
	crossPlatformCategory = []string{"headsets", "controllers", "microphones", "webcams", "chairs"}
)

// DetectCategory maps a product title to a catalogue category.
func DetectCategory(title string) string {
	lower := strings.ToLower(title)
	for _, rule := range categoryRules {
		if containsAny(lower, rule.keywords...) {
			return rule.category
		}
	}
	return DefaultCategory
}

// DetectPlatforms derives platform tags from the title, falling back to the category.
func DetectPlatforms(title, category string) []string {
	lower := strings.ToLower(title)
	platforms := make([]string, 0, 3)

	if containsAny(lower, "xbox", "xsx", "series x", "series s") {
		platforms = append(platforms, PlatformXbox)
	}
	if containsAny(lower, "ps5", "ps4", "playstation", "dualsense") {
		platforms = append(platforms, PlatformPS5)
	}
	if containsAny(lower, " pc", "pc ", "/pc", "pc/", "windows", "usb", "wired") {
		platforms = append(platforms, PlatformPC)
	}

	if len(platforms) == 0 {
		switch {
		case slices.Contains(pcOnlyCategories, category):
			platforms = append(platforms, PlatformPC)
		case slices.Contains(crossPlatformCategory, category):
			platforms = append(platforms, PlatformPC, PlatformXbox, PlatformPS5)
		}
	}
	return platforms
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
