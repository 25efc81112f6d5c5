// Package browser opens the backend's page in the user's default browser.
package browser

import (
	"fmt"
	"io"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/tomyedwab/medialauncher/launcher/logging"
)

func init() {
	// xdg-open and friends write to our terminal otherwise.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

// Opener opens URLs with the platform's default handler.
type Opener struct {
	open   func(url string) error
	logger zerolog.Logger
}

// NewOpener creates an Opener using the system browser.
func NewOpener() *Opener {
	return &Opener{open: browser.OpenURL, logger: logging.Component("Browser")}
}

// Open shows url in the default browser.
func (o *Opener) Open(url string) error {
	o.logger.Info().Str("url", url).Msg("Opening browser")
	if err := o.open(url); err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	return nil
}
