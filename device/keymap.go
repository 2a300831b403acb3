package device

import "fmt"

// keymap translates friendly key names into Android keycodes. Numeric
// strings pass through untouched so callers can send raw codes.
var keymap = map[string]string{
	"HOME":        "KEYCODE_HOME",
	"BACK":        "KEYCODE_BACK",
	"MENU":        "KEYCODE_MENU",
	"POWER":       "KEYCODE_POWER",
	"ENTER":       "KEYCODE_ENTER",
	"TAB":         "KEYCODE_TAB",
	"SPACE":       "KEYCODE_SPACE",
	"ESCAPE":      "KEYCODE_ESCAPE",
	"DELETE":      "KEYCODE_DEL",
	"APP_SWITCH":  "KEYCODE_APP_SWITCH",
	"VOLUME_UP":   "KEYCODE_VOLUME_UP",
	"VOLUME_DOWN": "KEYCODE_VOLUME_DOWN",
	"WAKEUP":      "KEYCODE_WAKEUP",
	"SLEEP":       "KEYCODE_SLEEP",
	"UP":          "KEYCODE_DPAD_UP",
	"DOWN":        "KEYCODE_DPAD_DOWN",
	"LEFT":        "KEYCODE_DPAD_LEFT",
	"RIGHT":       "KEYCODE_DPAD_RIGHT",
}

// Keycode resolves a key name to the string passed to input keyevent.
func Keycode(name string) (string, error) {
	if code, ok := keymap[name]; ok {
		return code, nil
	}
	if isDigits(name) {
		return name, nil
	}
	return "", fmt.Errorf("unknown key %q", name)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
