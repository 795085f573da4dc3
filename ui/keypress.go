package ui

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eiannone/keyboard"
)

// KeyEsc is sent on the key channel when Escape is pressed.
const KeyEsc rune = 27

// Singleton buffered channel and one reader goroutine to avoid multiple opens
// and to make DrainKeys non-blocking and reliable across phases.
var (
	keyCh     chan rune
	startOnce sync.Once

	keyMu  sync.Mutex
	keyErr error
)

// ErrNoKeyboard means the terminal could not be read; the key channel is
// closed.
var ErrNoKeyboard = errors.New("ui: keyboard unavailable")

// KeyboardErr reports why the key channel closed, nil while it is open.
func KeyboardErr() error {
	keyMu.Lock()
	defer keyMu.Unlock()
	return keyErr
}

func failKeys(err error) {
	keyMu.Lock()
	keyErr = fmt.Errorf("%w: %v", ErrNoKeyboard, err)
	keyMu.Unlock()
	close(keyCh)
}

// StartKeyEvents returns a channel that emits single-key runes read without
// Enter. Space arrives as ' ', Escape as KeyEsc and the arrow keys as w, s, a
// and d. The channel is closed when the keyboard cannot be opened or read;
// KeyboardErr says why.
func StartKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			failKeys(err)
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					failKeys(err)
					return
				}
				r, ok := translateKey(char, key)
				if !ok {
					continue
				}
				// drop when nobody is reading
				select {
				case keyCh <- r:
				default:
				}
			}
		}()
	})
	return keyCh
}

func translateKey(char rune, key keyboard.Key) (rune, bool) {
	switch key {
	case 0:
		return char, char != 0
	case keyboard.KeyEsc, keyboard.KeyCtrlC:
		return KeyEsc, true
	case keyboard.KeySpace:
		return ' ', true
	case keyboard.KeyArrowUp:
		return 'w', true
	case keyboard.KeyArrowDown:
		return 's', true
	case keyboard.KeyArrowLeft:
		return 'a', true
	case keyboard.KeyArrowRight:
		return 'd', true
	}
	return 0, false
}

// DrainKeys consumes any immediately available keys to avoid accidental triggers.
func DrainKeys() {
	drain(StartKeyEvents())
}

func drain(ch <-chan rune) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
