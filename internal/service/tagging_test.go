package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectCategory(t *testing.T) {
	cases := map[string]string{
		"Razer DeathAdder V3 Gaming Mouse":    "mice",
		"SteelSeries QcK Large Mouse Pad":     "mice",
		"Corsair K70 RGB Mechanical Keyboard": "keyboards",
		"HyperX Cloud II Headset":             "headsets",
		"LG UltraGear 27 inch Monitor":        "monitors",
		"Secretlab TITAN Evo Chair":           "chairs",
		"8BitDo Ultimate Gamepad":             "controllers",
		"XXL Desk Mat":                        "mousepads",
		"Shure MV7 Microphone":                "microphones",
		"Logitech C920 Webcam":                "webcams",
		"Gunnar Blue Light Glasses":           "gaming glasses",
		"Elgato Stream Deck MK.2":             DefaultCategory,
	}
	for title, want := range cases {
		assert.Equal(t, want, DetectCategory(title), title)
	}
}

func TestDetectPlatforms(t *testing.T) {
	assert.Equal(t, []string{PlatformXbox, PlatformPS5, PlatformPC},
		DetectPlatforms("Wired Controller for Xbox Series X, PS5 and PC", "controllers"))
	assert.Equal(t, []string{PlatformPC}, DetectPlatforms("Mechanical Keyboard", "keyboards"))
	assert.Equal(t, []string{PlatformPC, PlatformXbox, PlatformPS5}, DetectPlatforms("Ergonomic Chair", "chairs"))
	assert.Empty(t, DetectPlatforms("Stream Deck", DefaultCategory))
}
