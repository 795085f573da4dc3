package ui

import "fmt"

// NextYN shows a green prompt and waits for single-key Y/N (case-insensitive).
// ESC returns KeyEsc. Without a usable keyboard it returns KeyEsc and an
// error wrapping ErrNoKeyboard.
func NextYN(message string) (rune, error) {
	fmt.Printf("\033[32m%s\033[0m\n", message)
	DrainKeys()
	return nextYN(StartKeyEvents())
}

func nextYN(keys <-chan rune) (rune, error) {
	for k := range keys {
		switch k {
		case 'Y', 'y':
			return 'Y', nil
		case 'N', 'n':
			return 'N', nil
		case KeyEsc:
			return KeyEsc, nil
		}
	}
	err := KeyboardErr()
	if err == nil {
		err = ErrNoKeyboard
	}
	return KeyEsc, err
}
