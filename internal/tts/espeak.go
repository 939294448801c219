package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
xz_speak(const char *lang, const char *text)
{
	if (!text || !lang)
	{ return -1; }

	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -2; }

	espeak_VOICE spec;
	memset(&spec, 0, sizeof(spec));
	spec.languages = lang;
	espeak_SetVoiceByProperties(&spec);
	espeak_SetParameter(espeakRATE, 150, 0);

	espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0, espeakCHARS_UTF8, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// Espeak speaks short announcements through espeak-ng. Calls are
// serialized since the library keeps global state.
type Espeak struct {
	mu   sync.Mutex
	lang string
}

func New(lang string) *Espeak {
	if lang == "" {
		lang = "cmn"
	}
	return &Espeak{lang: lang}
}

func (e *Espeak) Speak(text string) error {
	if text == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	clang := C.CString(e.lang)
	defer C.free(unsafe.Pointer(clang))

	if rc := C.xz_speak(clang, ctext); rc != 0 {
		return fmt.Errorf("espeak failed: %d", int(rc))
	}
	return nil
}
