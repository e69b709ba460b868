// Package icon holds the tray and notification artwork
package icon

import _ "embed"

// Logo is the application icon in .ico format
//
//go:embed mixer.ico
var Logo []byte
