package output

import "context"

// Voice is the text-to-speech collaborator. Wake-word, STT, TTS, and
// camera capture are out-of-scope external I/O; this interface is the
// documented contract the Dialogue Loop and Scheduled-Action Engine speak
// through, with no concrete implementation in this module.
type Voice interface {
	Speak(ctx context.Context, text string) error
}
