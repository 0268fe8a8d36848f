package progress

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"vidscribe/internal/task"
)

// DefaultMessage is the message used when a report omits one, e.g.
// "Downloading in progress (42%)".
func DefaultMessage(status task.Status, progress int) string {
	// Casers carry state and are not safe for concurrent use.
	title := cases.Title(language.English).String(string(status))
	return fmt.Sprintf("%s in progress (%d%%)", title, progress)
}
